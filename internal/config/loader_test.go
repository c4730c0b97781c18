package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/speechcoach/internal/config"
)

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		yaml     string
		contains string
	}{
		{
			name:     "bad log level",
			yaml:     "server:\n  log_level: verbose\n",
			contains: "server.log_level",
		},
		{
			name:     "realtime interval too short",
			yaml:     "practice:\n  realtime_interval: 1s\n",
			contains: "practice.realtime_interval",
		},
		{
			name:     "realtime interval too long",
			yaml:     "practice:\n  realtime_interval: 10s\n",
			contains: "practice.realtime_interval",
		},
		{
			name:     "unknown storage driver",
			yaml:     "storage:\n  driver: redis\n",
			contains: "storage.driver",
		},
		{
			name:     "postgres without dsn",
			yaml:     "storage:\n  driver: postgres\n",
			contains: "storage.dsn",
		},
		{
			name:     "trace sample ratio above one",
			yaml:     "observability:\n  trace_sample_ratio: 1.5\n",
			contains: "observability.trace_sample_ratio",
		},
		{
			name:     "temperature out of range",
			yaml:     "analysis:\n  temperature: 3\n",
			contains: "analysis.temperature",
		},
		{
			name:     "fallback without primary",
			yaml:     "providers:\n  llm_fallbacks:\n    - name: ollama\n",
			contains: "providers.llm_fallbacks",
		},
		{
			name:     "unnamed fallback",
			yaml:     "providers:\n  stt:\n    name: whisper\n  stt_fallbacks:\n    - model: x\n",
			contains: "providers.stt_fallbacks[0].name",
		},
		{
			name:     "half tls",
			yaml:     "server:\n  tls:\n    cert_file: a.pem\n",
			contains: "server.tls",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error should mention %q, got: %v", tt.contains, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
storage:
  driver: postgres
practice:
  realtime_interval: 9s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.log_level", "storage.dsn", "practice.realtime_interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderNameOnlyWarns(t *testing.T) {
	t.Parallel()

	yaml := "providers:\n  llm:\n    name: my-private-llm\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider name should only warn, got %v", err)
	}
}
