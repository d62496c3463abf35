package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tinybtc/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body += "\nlogging:\n  level: error\n  dir: " + filepath.Join(dir, "logs") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBootstrap_Initialize(t *testing.T) {
	path := writeConfig(t, "chart:\n  timeframe: 15m\nserver:\n  enabled: false\n")

	b := NewBootstrap()
	if err := b.Initialize(Options{ConfigPath: path}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if b.Client == nil || b.Reconnector == nil || b.Metrics == nil {
		t.Fatal("Expected client, reconnector and metrics to be built")
	}
	if b.Server != nil {
		t.Error("Server should stay nil when disabled")
	}
	if got := b.Client.Timeframe(); got != domain.Timeframe15m {
		t.Errorf("Timeframe() = %q, want 15m", got)
	}
	for _, st := range b.Client.ChannelStates() {
		if st.State != domain.StateIdle {
			t.Errorf("%s should be idle before Run, got %s", st.Channel, st.State)
		}
	}
}

func TestBootstrap_Overrides(t *testing.T) {
	path := writeConfig(t, "server:\n  enabled: false\n")

	b := NewBootstrap()
	if err := b.Initialize(Options{ConfigPath: path, Timeframe: "6h", Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if b.Client.Timeframe() != domain.Timeframe6h {
		t.Errorf("Expected timeframe flag to win, got %q", b.Client.Timeframe())
	}
	if b.Server == nil {
		t.Error("--addr should enable the control surface")
	}
}

func TestBootstrap_InvalidTimeframe(t *testing.T) {
	path := writeConfig(t, "")

	b := NewBootstrap()
	err := b.Initialize(Options{ConfigPath: path, Timeframe: "5m"})

	var ce *domain.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if ce.Field != "chart.timeframe" {
		t.Errorf("Field = %q, want chart.timeframe", ce.Field)
	}
}
