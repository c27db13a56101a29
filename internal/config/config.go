// Package config loads the daemon's own configuration: where to put its
// state directory, which transport to bind, and the defaults that drive
// the scheduler and callback runner. It deliberately does not own the
// config-discovery, alias-table, or CLI-flag concerns spec.md §1 leaves
// to an external client tool.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// NetworkMode selects the transport the daemon listens on.
type NetworkMode string

const (
	ModeUnix NetworkMode = "unix"
	ModeTLS  NetworkMode = "tls"
)

// NetworkConfig configures the listener (internal/transport.Config is
// built from this at startup).
type NetworkConfig struct {
	Mode              NetworkMode `hcl:"mode,optional"`
	SocketPath        string      `hcl:"socket_path,optional"`
	SocketPermissions int         `hcl:"socket_permissions,optional"`
	Host              string      `hcl:"host,optional"`
	Port              int         `hcl:"port,optional"`
	CertPath          string      `hcl:"cert_path,optional"`
	KeyPath           string      `hcl:"key_path,optional"`
}

// CallbackConfig configures the template run after every task finishes.
type CallbackConfig struct {
	Command  string `hcl:"command,optional"`
	LogLines int    `hcl:"log_lines,optional"`
}

// GroupConfig seeds a named group's initial parallelism at startup; it
// has no effect on a group already present in the restored state file.
type GroupConfig struct {
	Name     string `hcl:"name,label"`
	Parallel int    `hcl:"parallel,optional"`
}

// hclRoot is the literal shape of the HCL file; Configuration is the
// resolved, defaulted form consumers use.
type hclRoot struct {
	Directory           string          `hcl:"directory,optional"`
	Shell               []string        `hcl:"shell,optional"`
	Network             *NetworkConfig  `hcl:"network,block"`
	Groups              []GroupConfig   `hcl:"group,block"`
	Callback            *CallbackConfig `hcl:"callback,block"`
	PauseGroupOnFailure bool            `hcl:"pause_group_on_failure,optional"`
	PauseAllOnFailure   bool            `hcl:"pause_all_on_failure,optional"`
	SchedulerIntervalMs int             `hcl:"scheduler_interval_ms,optional"`
}

// Configuration is the daemon's resolved, ready-to-use configuration.
type Configuration struct {
	Directory           string
	Shell               []string
	Network             NetworkConfig
	Groups              map[string]int
	Callback            CallbackConfig
	PauseGroupOnFailure bool
	PauseAllOnFailure   bool
	SchedulerInterval   time.Duration
}

// StatePath, SecretPath, PidFilePath are the well-known files under
// Directory described in spec.md §6.
func (c Configuration) StatePath() string  { return filepath.Join(c.Directory, "state.json") }
func (c Configuration) SecretPath() string { return filepath.Join(c.Directory, "secret") }
func (c Configuration) PidPath() string    { return filepath.Join(c.Directory, "pueue.pid") }

// Default returns the built-in defaults used when no config file is
// present or a field is left unset.
func Default() Configuration {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ".local", "share", "pueued")
	return Configuration{
		Directory: dir,
		Shell:     []string{"sh", "-c"},
		Network: NetworkConfig{
			Mode:              ModeUnix,
			SocketPath:        filepath.Join(dir, "pueued.socket"),
			SocketPermissions: 0o700,
		},
		Groups:            map[string]int{},
		Callback:          CallbackConfig{LogLines: 50},
		SchedulerInterval: 300 * time.Millisecond,
	}
}

// Load reads path and overlays it onto Default(). A missing file is not
// an error: the daemon proceeds with built-in defaults, matching the
// teacher's lenient loader but without the teacher's write-defaults-back
// step, since owning config-file generation is out of scope here.
func Load(path string) (Configuration, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var root hclRoot
	if err := hclsimple.DecodeFile(path, nil, &root); err != nil {
		return Configuration{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if root.Directory != "" {
		cfg.Directory = root.Directory
	}
	if len(root.Shell) > 0 {
		cfg.Shell = root.Shell
	}
	if root.Network != nil {
		if root.Network.Mode != "" {
			cfg.Network.Mode = root.Network.Mode
		}
		if root.Network.SocketPath != "" {
			cfg.Network.SocketPath = root.Network.SocketPath
		}
		if root.Network.SocketPermissions != 0 {
			cfg.Network.SocketPermissions = root.Network.SocketPermissions
		}
		if root.Network.Host != "" {
			cfg.Network.Host = root.Network.Host
		}
		if root.Network.Port != 0 {
			cfg.Network.Port = root.Network.Port
		}
		if root.Network.CertPath != "" {
			cfg.Network.CertPath = root.Network.CertPath
		}
		if root.Network.KeyPath != "" {
			cfg.Network.KeyPath = root.Network.KeyPath
		}
	}
	for _, g := range root.Groups {
		cfg.Groups[g.Name] = g.Parallel
	}
	if root.Callback != nil {
		if root.Callback.Command != "" {
			cfg.Callback.Command = root.Callback.Command
		}
		if root.Callback.LogLines != 0 {
			cfg.Callback.LogLines = root.Callback.LogLines
		}
	}
	cfg.PauseGroupOnFailure = root.PauseGroupOnFailure
	cfg.PauseAllOnFailure = root.PauseAllOnFailure
	if root.SchedulerIntervalMs > 0 {
		cfg.SchedulerInterval = time.Duration(root.SchedulerIntervalMs) * time.Millisecond
	}

	return cfg, nil
}

// SocketPermMode returns the configured Unix socket permission bits,
// defaulting to user-only access.
func (c Configuration) SocketPermMode() os.FileMode {
	if c.Network.SocketPermissions == 0 {
		return 0o700
	}
	return os.FileMode(c.Network.SocketPermissions)
}
