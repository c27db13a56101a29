package daemon

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"go.pueued.dev/pueued/internal/protocol"
	"go.pueued.dev/pueued/internal/transport"
	"go.pueued.dev/pueued/internal/wire"
)

// Server accepts connections, runs the handshake, and dispatches each
// connection's request loop (spec.md §4.B, §4.G). It replaces the
// teacher's SSH-tunnel-specific connection handler with one built
// around this daemon's request/response union, keeping the same
// accept-loop-plus-per-connection-goroutine shape.
type Server struct {
	state      *State
	dispatcher *Dispatcher
	transport  transport.Config

	secretMu sync.RWMutex
	secret   []byte
}

// NewServer loads the shared secret from disk and returns a Server
// ready to Serve on a listener.
func NewServer(state *State, transportCfg transport.Config, secretPath string) (*Server, error) {
	secret, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, err
	}
	return &Server{
		state:      state,
		dispatcher: NewDispatcher(state),
		transport:  transportCfg,
		secret:     secret,
	}, nil
}

// WatchSecret reloads the shared secret from path whenever it changes
// on disk, so rotating it does not require a daemon restart. The
// watcher is private to this call and is never closed from outside, so
// it blocks for the life of the process unless setting up the watch
// fails.
func (srv *Server) WatchSecret(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("daemon: secret watch disabled", "error", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		slog.Warn("daemon: secret watch add failed", "error", err)
		return
	}
	for event := range watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("daemon: secret reload failed", "error", err)
			continue
		}
		srv.secretMu.Lock()
		srv.secret = data
		srv.secretMu.Unlock()
		slog.Info("daemon: shared secret reloaded")
	}
}

func (srv *Server) currentSecret() []byte {
	srv.secretMu.RLock()
	defer srv.secretMu.RUnlock()
	return srv.secret
}

// Serve accepts connections from ln until it is closed.
func (srv *Server) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("daemon: accept failed", "error", err)
			continue
		}
		go srv.handleConn(conn)
	}
}

func (srv *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	log := slog.With("conn", uuid.NewString())

	if err := transport.ServerHandshake(conn, srv.currentSecret()); err != nil {
		log.Warn("daemon: handshake failed", "error", err)
		return
	}
	log.Debug("daemon: client connected")

	for {
		req, err := protocol.ReceiveRequest(conn)
		if err != nil {
			if !errors.Is(err, wire.ErrClosed) {
				log.Warn("daemon: request decode failed", "error", err)
				protocol.SendResponse(conn, protocol.Failure(err.Error()))
			}
			return
		}

		if req.Kind == protocol.KindStream {
			srv.streamLogs(conn, req.Stream, log)
			return
		}

		srv.state.Lock()
		resp := srv.dispatcher.Handle(req)
		isShutdown := req.Kind == protocol.KindShutdown && srv.state.Shutdown != ShutdownNone
		srv.state.Unlock()

		if err := protocol.SendResponse(conn, resp); err != nil {
			log.Warn("daemon: response encode failed", "error", err)
			return
		}
		if isShutdown {
			return
		}
	}
}
