// Package transport implements spec.md §4.B: a Unix-socket or
// TLS-over-TCP listener, and the shared-secret handshake every accepted
// connection goes through before entering the request loop.
package transport

import (
	"crypto/tls"
	"crypto/subtle"
	"fmt"
	"net"
	"os"
	"time"

	"go.pueued.dev/pueued/internal/protocol"
	"go.pueued.dev/pueued/internal/wire"
)

// Mode selects which of the two transports is active.
type Mode string

const (
	ModeUnix Mode = "unix"
	ModeTLS  Mode = "tls"
)

// Config describes how to bind the listener. Only one mode is active
// at a time, per spec.md §4.B.
type Config struct {
	Mode Mode

	SocketPath        string
	SocketPermissions os.FileMode

	Host     string
	Port     int
	CertFile string
	KeyFile  string
}

// Listen binds the configured transport. For Unix sockets, a stale
// socket file from a prior run (nothing answering on it) is removed
// and recreated, matching spec.md §4.B.
func Listen(cfg Config) (net.Listener, error) {
	switch cfg.Mode {
	case ModeUnix:
		return listenUnix(cfg)
	case ModeTLS:
		return listenTLS(cfg)
	default:
		return nil, fmt.Errorf("transport: unknown mode %q", cfg.Mode)
	}
}

func listenUnix(cfg Config) (net.Listener, error) {
	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		if !isStaleSocket(cfg.SocketPath) {
			return nil, fmt.Errorf("transport: listen unix: %w", err)
		}
		if rmErr := os.Remove(cfg.SocketPath); rmErr != nil {
			return nil, fmt.Errorf("transport: remove stale socket: %w", rmErr)
		}
		ln, err = net.Listen("unix", cfg.SocketPath)
		if err != nil {
			return nil, fmt.Errorf("transport: listen unix after cleanup: %w", err)
		}
	}
	if cfg.SocketPermissions != 0 {
		if err := os.Chmod(cfg.SocketPath, cfg.SocketPermissions); err != nil {
			ln.Close()
			return nil, fmt.Errorf("transport: chmod socket: %w", err)
		}
	}
	return ln, nil
}

// isStaleSocket reports whether a socket file exists at path but no
// daemon answers a dial against it.
func isStaleSocket(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return true
	}
	conn.Close()
	return false
}

func listenTLS(cfg Config) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load tls cert: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	ln, err := tls.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tls: %w", err)
	}
	return ln, nil
}

// Cleanup removes the Unix socket file on graceful shutdown. It is a
// no-op for TLS transports.
func Cleanup(cfg Config) {
	if cfg.Mode == ModeUnix {
		os.Remove(cfg.SocketPath)
	}
}

// ServerHandshake performs the daemon side of spec.md §4.B steps 1-3:
// read the client's secret, compare it byte-for-byte, sleep out the
// remaining 1-second floor on mismatch, then send the version banner.
func ServerHandshake(conn net.Conn, secret []byte) error {
	start := time.Now()

	received, err := wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("transport: read secret: %w", err)
	}

	if subtle.ConstantTimeCompare(received, secret) != 1 {
		elapsed := time.Since(start)
		if remaining := time.Second - elapsed; remaining > 0 {
			time.Sleep(remaining)
		}
		return fmt.Errorf("transport: invalid shared secret")
	}

	if err := wire.WriteFrame(conn, []byte(protocol.Version)); err != nil {
		return fmt.Errorf("transport: send version: %w", err)
	}
	return nil
}

// ClientHandshake performs the client side: send the secret, then read
// and return the daemon's version banner. A version mismatch is left
// to the caller to log — spec.md §4.B treats it as advisory.
func ClientHandshake(conn net.Conn, secret []byte) (version string, err error) {
	if err := wire.WriteFrame(conn, secret); err != nil {
		return "", fmt.Errorf("transport: send secret: %w", err)
	}
	v, err := wire.ReadFrame(conn)
	if err != nil {
		return "", fmt.Errorf("transport: read version: %w", err)
	}
	return string(v), nil
}
