package orchestrator

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/chorus/internal/backend"
)

// ErrNoBackends is returned when dispatch is attempted with zero configured
// backends. It is a configuration error, surfaced before any task is created.
var ErrNoBackends = errors.New("orchestrator: no backends configured")

// Dispatcher fans one prompt out to every configured backend. Each invocation
// runs in its own goroutine with an independent cancellable context bounded
// by the per-backend timeout, so a slow or failing backend never delays
// starting — or finishing — another.
type Dispatcher struct {
	backends []backend.Adapter
	timeout  time.Duration
}

// NewDispatcher creates a Dispatcher. timeout is the per-backend upper bound
// on time-to-terminal; it doubles as the safety net for adapters that violate
// the contract by never emitting a terminal event.
func NewDispatcher(backends []backend.Adapter, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		backends: backends,
		timeout:  timeout,
	}
}

// Backends returns the configured backend names in configuration order.
func (d *Dispatcher) Backends() []string {
	names := make([]string, 0, len(d.backends))
	for _, b := range d.backends {
		names = append(names, b.Name())
	}
	return names
}

// Dispatch launches one invocation per backend and returns immediately. The
// returned channel is the funnel every invocation's events flow into; it is
// closed once all invocations have finished. Every task is guaranteed exactly
// one terminal event on the funnel, so a consumer that reads until close
// observes every task reaching a terminal state.
func (d *Dispatcher) Dispatch(ctx context.Context, prompt string) (map[string]*BackendTask, <-chan backend.Event, error) {
	if len(d.backends) == 0 {
		return nil, nil, ErrNoBackends
	}

	tasks := make(map[string]*BackendTask, len(d.backends))
	events := make(chan backend.Event)

	var g errgroup.Group
	for _, adapter := range d.backends {
		tctx, cancel := context.WithTimeout(ctx, d.timeout)
		tasks[adapter.Name()] = newBackendTask(adapter.Name(), cancel)

		g.Go(func() error {
			defer cancel()
			d.pump(tctx, adapter, prompt, events)
			return nil
		})
	}

	// Close the funnel once every pump has delivered its terminal event.
	go func() {
		_ = g.Wait()
		close(events)
	}()

	return tasks, events, nil
}

// pump runs one backend invocation and forwards its events onto the funnel,
// guaranteeing exactly one terminal event even when the adapter fails to
// start, stalls past its deadline, or closes its channel without a terminal.
//
// Sends are unconditional: the merger drains the funnel until close even when
// the request is cancelled, so a send never blocks forever.
func (d *Dispatcher) pump(ctx context.Context, adapter backend.Adapter, prompt string, out chan<- backend.Event) {
	name := adapter.Name()

	src, err := adapter.Invoke(ctx, prompt)
	if err != nil {
		out <- backend.Event{Backend: name, Final: true, Err: err}
		return
	}

	for {
		select {
		case ev, ok := <-src:
			if !ok {
				// Adapter closed without a terminal event.
				out <- backend.Event{Backend: name, Final: true, Err: ctxOr(ctx, errProtocol(name))}
				return
			}
			ev.Backend = name
			out <- ev
			if ev.Final {
				return
			}

		case <-ctx.Done():
			out <- backend.Event{Backend: name, Final: true, Err: ctx.Err()}
			go drainAdapter(src)
			return
		}
	}
}

// ctxOr prefers the context error when the context is already done.
func ctxOr(ctx context.Context, fallback error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fallback
}

func errProtocol(name string) error {
	return backend.NewError(name, backend.ErrKindProvider, "stream closed without terminal event", nil)
}

// drainAdapter consumes a stranded adapter channel so its goroutine can exit.
func drainAdapter(src <-chan backend.Event) {
	for range src {
	}
}
