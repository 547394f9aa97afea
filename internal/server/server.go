// Package server wires the registry, storage root, both queues, and both
// worker pools into a single TCP listener with an orderly shutdown
// sequence. Every dependency is threaded through an explicit Deps struct
// (spec.md §9: "pass these as an explicit server context to every
// worker") — the only process-wide state is the shutdown tripwire, which
// is a field on Server rather than a package-level variable.
package server

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/nabbar/filestore/internal/fileworker"
	"github.com/nabbar/filestore/internal/logging"
	"github.com/nabbar/filestore/internal/metrics"
	"github.com/nabbar/filestore/internal/queue"
	"github.com/nabbar/filestore/internal/registry"
	"github.com/nabbar/filestore/internal/session"
	"github.com/nabbar/filestore/internal/storage"
	"github.com/nabbar/filestore/internal/task"
)

// Deps collects everything a Server needs to run, in place of the
// original implementation's global registry/queues/running flag.
type Deps struct {
	Registry *registry.Registry
	Storage  *storage.Root
	Log      logging.Logger
	Metrics  *metrics.Metrics

	SessionPoolSize         int
	FilePoolSize            int
	ConnectionQueueCapacity int
	TaskQueueCapacity       int
	MaxUploadSize           int64
}

// Server owns the TCP listener and both worker pools for one running
// instance of the file store.
type Server struct {
	deps Deps

	connections *queue.Queue[session.Connection]
	tasks       *queue.Queue[*task.Task]
	sessions    *session.Pool
	workers     *fileworker.Pool

	ln           net.Listener
	shuttingDown atomic.Bool
}

// New constructs a Server and its queues/pools, but does not yet bind a
// listener or spawn any goroutines — call Serve for that.
func New(deps Deps) *Server {
	connections := queue.New[session.Connection](deps.ConnectionQueueCapacity)
	tasks := queue.New[*task.Task](deps.TaskQueueCapacity)

	s := &Server{
		deps:        deps,
		connections: connections,
		tasks:       tasks,
	}
	s.workers = fileworker.New(deps.FilePoolSize, tasks, deps.Registry, deps.Storage, deps.Log, deps.Metrics)
	s.sessions = session.New(deps.SessionPoolSize, connections, tasks, deps.Registry, deps.Storage, deps.Log, deps.Metrics, deps.MaxUploadSize)
	return s
}

// Serve binds addr, starts both worker pools, then runs the accept loop
// until Shutdown is called or the listener fails for another reason. A
// connection is rejected (closed immediately, no retry) if the connection
// queue is full and shutdown has not begun, per spec.md §4.7.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", addr, err)
	}
	s.ln = ln

	s.workers.Start()
	s.sessions.Start()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		ok, pushErr := s.connections.TryPush(session.Connection{Conn: conn})
		if pushErr != nil {
			// Queue already shut down: the listener is about to close too.
			_ = conn.Close()
			continue
		}
		if !ok {
			_ = conn.Close()
			continue
		}

		if s.deps.Metrics != nil {
			s.deps.Metrics.ConnectionQueueDepth.Set(float64(s.connections.Len()))
		}
	}
}

// Shutdown runs the ordered shutdown sequence from spec.md §4.7:
// close the listener, drain the connection queue and join session
// workers, drain the task queue and join file workers, then persist the
// registry. The order matters — shutting the task queue down before
// sessions have flushed their last in-flight task would deadlock a
// session waiting on a rendezvous.
func (s *Server) Shutdown() error {
	s.shuttingDown.Store(true)

	if s.ln != nil {
		_ = s.ln.Close()
	}

	s.connections.Shutdown()
	if err := s.sessions.Wait(); err != nil && s.deps.Log != nil {
		s.deps.Log.Warn("session pool join error: ", err)
	}

	s.tasks.Shutdown()
	if err := s.workers.Wait(); err != nil && s.deps.Log != nil {
		s.deps.Log.Warn("file worker pool join error: ", err)
	}

	return s.deps.Registry.Persist()
}

// ConnectionQueueDepth and TaskQueueDepth expose the live queue depths for
// metrics polling/admin inspection without reaching into internals.
func (s *Server) ConnectionQueueDepth() int { return s.connections.Len() }
func (s *Server) TaskQueueDepth() int       { return s.tasks.Len() }
