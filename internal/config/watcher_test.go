package config

import (
	"os"
	"testing"
)

func TestWatcherReloadUpdatesPolicyAndPlugins(t *testing.T) {
	path := writeConfig(t, `
llm:
  name: anthropic
policy:
  max_risk: WRITE
`)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	w := NewWatcher(path, initial, nil)

	if err := os.WriteFile(path, []byte(`
llm:
  name: anthropic
policy:
  max_risk: DESTRUCTIVE
  confirm_destructive: true
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w.reload()

	current := w.Current()
	if current.Policy.MaxRisk != "DESTRUCTIVE" {
		t.Fatalf("expected reloaded max_risk DESTRUCTIVE, got %q", current.Policy.MaxRisk)
	}
	if !current.Policy.ConfirmDestructive {
		t.Fatalf("expected reloaded confirm_destructive true")
	}
}

func TestWatcherReloadKeepsPreviousConfigOnError(t *testing.T) {
	path := writeConfig(t, `
llm:
  name: anthropic
policy:
  max_risk: WRITE
`)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	w := NewWatcher(path, initial, nil)

	if err := os.WriteFile(path, []byte(`
llm:
  name: made-up-provider
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w.reload()

	current := w.Current()
	if current.Policy.MaxRisk != "WRITE" {
		t.Fatalf("expected config to stay at previous value, got %q", current.Policy.MaxRisk)
	}
}
