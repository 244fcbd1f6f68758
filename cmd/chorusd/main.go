// chorusd fans user prompts out to multiple language-model backends, streams
// their partial output to clients, and synthesizes one merged response per
// request. It serves clients over HTTP/SSE by default, or over MCP stdio
// with -serve-mcp.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dusk-indust/chorus/internal/backend"
	"github.com/dusk-indust/chorus/internal/backend/openaicompat"
	"github.com/dusk-indust/chorus/internal/config"
	"github.com/dusk-indust/chorus/internal/history"
	"github.com/dusk-indust/chorus/internal/mcptools"
	"github.com/dusk-indust/chorus/internal/orchestrator"
	"github.com/dusk-indust/chorus/internal/server"
	"github.com/dusk-indust/chorus/internal/session"
)

// CLI flags parsed from command line.
type cliFlags struct {
	Config   string
	Listen   string
	ServeMCP bool
	Version  bool
}

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var flags cliFlags

	fs := flag.NewFlagSet("chorusd", flag.ContinueOnError)
	fs.StringVar(&flags.Config, "config", "", "path to config file (default: chorus.yml in cwd)")
	fs.StringVar(&flags.Listen, "listen", "", "HTTP listen address (overrides config)")
	fs.BoolVar(&flags.ServeMCP, "serve-mcp", false, "run as MCP server on stdio instead of serving HTTP")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if flags.Version {
		fmt.Println(version)
		return nil
	}

	cfg, err := loadConfig(flags.Config)
	if err != nil {
		return err
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}

	dispatcher := orchestrator.NewDispatcher(buildBackends(cfg), cfg.BackendTimeout())
	merger := orchestrator.NewMerger()
	synth := orchestrator.NewSynthesizer(buildStrategy(cfg), cfg.SynthesisTimeout())
	store := history.NewStore(cfg.HistoryWindow)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.ServeMCP {
		svc := mcptools.NewService(dispatcher, merger, synth, store, judgeName(cfg))
		return mcptools.RunStdio(ctx, mcptools.NewServer(svc))
	}

	coord := session.NewCoordinator(dispatcher, merger, synth, store)
	srv := server.New(coord, session.NewRegistry(), dispatcher.Backends(), judgeName(cfg))

	if err := srv.Start(ctx, cfg.Listen); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	log.Printf("chorusd listening on %s (%d backends)", cfg.Listen, len(cfg.Backends))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load(".")
}

// buildBackends constructs one adapter per configured backend, resolving API
// keys from the environment.
func buildBackends(cfg *config.Config) []backend.Adapter {
	adapters := make([]backend.Adapter, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		adapters = append(adapters, newAdapter(bc))
	}
	return adapters
}

// buildStrategy selects judge arbitration when a judge is configured,
// deterministic concatenation otherwise.
func buildStrategy(cfg *config.Config) orchestrator.Strategy {
	if cfg.Judge == nil {
		return orchestrator.ConcatStrategy{}
	}
	return orchestrator.NewJudgeStrategy(newAdapter(*cfg.Judge))
}

func newAdapter(bc config.BackendConfig) backend.Adapter {
	apiKey := ""
	if bc.APIKeyEnv != "" {
		apiKey = os.Getenv(bc.APIKeyEnv)
	}
	return openaicompat.New(bc.Name, bc.BaseURL, bc.Model, apiKey)
}

func judgeName(cfg *config.Config) string {
	if cfg.Judge == nil {
		return ""
	}
	return cfg.Judge.Name
}
