package daemon

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"go.pueued.dev/pueued/internal/logstore"
	"go.pueued.dev/pueued/internal/protocol"
	"go.pueued.dev/pueued/internal/task"
)

// streamLogs implements spec.md §4.H: resolve the target task,
// wait for it to start or finish, then loop delivering newly written
// bytes until the task ends or the client disconnects. It is the last
// thing a connection goroutine does — the sub-protocol owns the
// connection until it returns.
func (srv *Server) streamLogs(conn net.Conn, req *protocol.StreamRequest, log *slog.Logger) {
	if req == nil {
		req = &protocol.StreamRequest{}
	}

	id, err := srv.resolveStreamTarget(req.ID)
	if err != nil {
		protocol.SendResponse(conn, protocol.Failure(err.Error()))
		return
	}

	if !srv.waitUntilStartedOrDone(id) {
		protocol.SendResponse(conn, protocol.Failure("task disappeared before starting"))
		return
	}

	f, err := srv.state.Logs.OpenRead(id)
	if err != nil {
		protocol.SendResponse(conn, protocol.Failure("log file unavailable: "+err.Error()))
		return
	}
	defer f.Close()

	if req.Lines != nil {
		if _, seekErr := logstore.SeekToLastLines(f, *req.Lines); seekErr != nil {
			log.Warn("daemon: stream seek failed", "error", seekErr)
		}
	}

	for {
		if _, statErr := os.Stat(srv.state.Logs.Path(id)); statErr != nil {
			protocol.SendResponse(conn, protocol.Success("log file removed"))
			return
		}

		chunk, readErr := io.ReadAll(f)
		if readErr != nil {
			protocol.SendResponse(conn, protocol.Failure("read failed: "+readErr.Error()))
			return
		}
		if len(chunk) > 0 {
			if err := protocol.SendResponse(conn, protocol.Response{
				Kind:   protocol.KindRespStream,
				Stream: &protocol.StreamResponse{Chunk: chunk},
			}); err != nil {
				// Client disconnect mid-stream is normal termination,
				// not an error (spec.md §4.H).
				return
			}
		}

		srv.state.Lock()
		t, ok := srv.state.Store.Task(id)
		srv.state.Unlock()
		if !ok || !task.IsRunning(t.Status) {
			protocol.SendResponse(conn, protocol.Close())
			return
		}

		time.Sleep(time.Second)
	}
}

// resolveStreamTarget picks the explicit id, or the sole running task
// if none was given (spec.md §4.H).
func (srv *Server) resolveStreamTarget(id *int) (int, error) {
	srv.state.Lock()
	defer srv.state.Unlock()

	if id != nil {
		if _, ok := srv.state.Store.Task(*id); !ok {
			return 0, errors.New("task does not exist")
		}
		return *id, nil
	}

	var running []int
	for _, t := range srv.state.Store.Tasks() {
		if task.IsRunning(t.Status) {
			running = append(running, t.ID)
		}
	}
	switch len(running) {
	case 0:
		return 0, errors.New("no running tasks")
	case 1:
		return running[0], nil
	default:
		return 0, errors.New("ambiguous: multiple running tasks, specify an id")
	}
}

// waitUntilStartedOrDone polls at ~1 Hz until the task reaches Running
// or Done, per spec.md §4.H.
func (srv *Server) waitUntilStartedOrDone(id int) bool {
	for {
		srv.state.Lock()
		t, ok := srv.state.Store.Task(id)
		srv.state.Unlock()
		if !ok {
			return false
		}
		if task.IsRunning(t.Status) || task.IsDone(t.Status) {
			return true
		}
		time.Sleep(time.Second)
	}
}
