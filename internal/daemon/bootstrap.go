package daemon

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"go.pueued.dev/pueued/internal/audit"
	"go.pueued.dev/pueued/internal/config"
	"go.pueued.dev/pueued/internal/logstore"
	"go.pueued.dev/pueued/internal/transport"
)

// Run wires every component together and blocks until the daemon exits
// (spec.md §4.F step 3 and §6's PID-file/socket lifecycle). It returns
// the process exit code: 0 for a graceful shutdown, 1 for emergency.
func Run(cfg config.Configuration) int {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		slog.Error("daemon: create directory failed", "error", err)
		return 1
	}

	logs, err := logstore.New(cfg.Directory)
	if err != nil {
		slog.Error("daemon: log store init failed", "error", err)
		return 1
	}

	auditLog, err := audit.Open(filepath.Join(cfg.Directory, "audit.sqlite"))
	if err != nil {
		slog.Error("daemon: audit log init failed", "error", err)
		return 1
	}
	defer auditLog.Close()

	state := New(cfg, logs, auditLog)
	if err := state.Restore(); err != nil {
		slog.Error("daemon: state restore failed", "error", err)
		return 1
	}
	// Seed configured groups after Restore, which replaces the group map;
	// AddGroup leaves a group already present in the state file untouched.
	for name, parallel := range cfg.Groups {
		state.Store.AddGroup(name, parallel)
	}
	for _, g := range state.Store.Groups() {
		state.Supervisor.EnsureGroup(g.Name)
	}
	auditLog.LogDaemonEvent(audit.DaemonStarted, "")

	if err := writePidFile(cfg.PidPath()); err != nil {
		slog.Error("daemon: write pid file failed", "error", err)
		return 1
	}
	defer os.Remove(cfg.PidPath())

	transportCfg := transport.Config{
		Mode:              transport.Mode(cfg.Network.Mode),
		SocketPath:        cfg.Network.SocketPath,
		SocketPermissions: cfg.SocketPermMode(),
		Host:              cfg.Network.Host,
		Port:              cfg.Network.Port,
		CertFile:          cfg.Network.CertPath,
		KeyFile:           cfg.Network.KeyPath,
	}
	ln, err := transport.Listen(transportCfg)
	if err != nil {
		slog.Error("daemon: listen failed", "error", err)
		return 1
	}
	defer ln.Close()
	defer transport.Cleanup(transportCfg)

	server, err := NewServer(state, transportCfg, cfg.SecretPath())
	if err != nil {
		slog.Error("daemon: load shared secret failed", "error", err)
		return 1
	}
	go server.WatchSecret(cfg.SecretPath())
	go server.Serve(ln)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("daemon: received termination signal, requesting graceful shutdown")
		state.Lock()
		state.Shutdown = ShutdownGraceful
		state.Unlock()
	}()

	exitCode := 0
	done := make(chan struct{})
	scheduler := NewScheduler(state, func(code int) {
		exitCode = code
		close(done)
	})
	go scheduler.Run(ctx)

	<-done
	cancel()
	signal.Stop(sigCh)
	return exitCode
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
