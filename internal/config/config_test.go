package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.hcl"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Directory != def.Directory || cfg.Network.Mode != def.Network.Mode {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pueued.hcl")
	contents := `
directory = "/tmp/pueued-test"

network {
  mode = "tls"
  host = "127.0.0.1"
  port = 6688
}

group "build" {
  parallel = 4
}

callback {
  command   = "notify-send {{.Command}}"
  log_lines = 20
}

pause_group_on_failure = true
scheduler_interval_ms  = 150
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Directory != "/tmp/pueued-test" {
		t.Errorf("Directory = %q", cfg.Directory)
	}
	if cfg.Network.Mode != ModeTLS || cfg.Network.Port != 6688 {
		t.Errorf("Network = %+v", cfg.Network)
	}
	if cfg.Groups["build"] != 4 {
		t.Errorf("Groups[build] = %d, want 4", cfg.Groups["build"])
	}
	if cfg.Callback.LogLines != 20 {
		t.Errorf("Callback.LogLines = %d, want 20", cfg.Callback.LogLines)
	}
	if !cfg.PauseGroupOnFailure {
		t.Errorf("expected PauseGroupOnFailure true")
	}
	if cfg.SchedulerInterval.Milliseconds() != 150 {
		t.Errorf("SchedulerInterval = %v, want 150ms", cfg.SchedulerInterval)
	}
}

func TestSocketPermModeDefault(t *testing.T) {
	cfg := Default()
	cfg.Network.SocketPermissions = 0
	if cfg.SocketPermMode() != 0o700 {
		t.Errorf("expected default 0700, got %o", cfg.SocketPermMode())
	}
}
