package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	return dir
}

func TestLoad_FullConfig(t *testing.T) {
	dir := writeConfig(t, "chorus.yml", `
listen: ":8080"
historyWindow: 20
backendTimeoutSeconds: 60
synthesisTimeoutSeconds: 15
backends:
  - name: gpt
    baseUrl: https://api.openai.com/v1
    model: gpt-4o
    apiKeyEnv: OPENAI_API_KEY
  - name: deepseek
    baseUrl: https://api.deepseek.com/v1
    model: deepseek-chat
    apiKeyEnv: DEEPSEEK_API_KEY
judge:
  name: gemini
  baseUrl: https://generativelanguage.googleapis.com/v1beta/openai
  model: gemini-2.0-flash
  apiKeyEnv: GEMINI_API_KEY
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 20, cfg.HistoryWindow)
	assert.Equal(t, 60*time.Second, cfg.BackendTimeout())
	assert.Equal(t, 15*time.Second, cfg.SynthesisTimeout())

	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "gpt", cfg.Backends[0].Name)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.Backends[1].BaseURL)

	require.NotNil(t, cfg.Judge)
	assert.Equal(t, "gemini", cfg.Judge.Name)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultHistoryWindow, cfg.HistoryWindow)
	assert.Equal(t, time.Duration(DefaultBackendTimeoutSeconds)*time.Second, cfg.BackendTimeout())
	assert.Empty(t, cfg.Backends)
	assert.Nil(t, cfg.Judge)
}

func TestLoad_DefaultsFillUnsetFields(t *testing.T) {
	dir := writeConfig(t, "chorus.yaml", `
backends:
  - name: gpt
    baseUrl: https://api.openai.com/v1
    model: gpt-4o
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultSynthesisTimeoutSeconds, cfg.SynthesisTimeoutSeconds)
	assert.Empty(t, cfg.Backends[0].APIKeyEnv)
}

func TestLoadFile_MissingFileIsAnError(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := writeConfig(t, "chorus.yml", "backends: [unclosed")
	_, err := Load(dir)
	require.Error(t, err)
}

func TestValidate_RejectsIncompleteBackends(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"missing name",
			"backends:\n  - baseUrl: https://x\n    model: m\n",
			"missing name",
		},
		{
			"missing baseUrl",
			"backends:\n  - name: a\n    model: m\n",
			"missing baseUrl",
		},
		{
			"missing model",
			"backends:\n  - name: a\n    baseUrl: https://x\n",
			"missing model",
		},
		{
			"duplicate names",
			"backends:\n  - name: a\n    baseUrl: https://x\n    model: m\n  - name: a\n    baseUrl: https://y\n    model: m\n",
			"duplicate backend name",
		},
		{
			"incomplete judge",
			"backends: []\njudge:\n  name: j\n  model: m\n",
			"missing baseUrl",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, "chorus.yml", tt.yaml)
			_, err := Load(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ZeroBackendsIsValidAtLoadTime(t *testing.T) {
	dir := writeConfig(t, "chorus.yml", "backends: []\n")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, cfg.Backends)
}
