// Package daemonserver binds the rendezvous socket, accepts connections, and
// owns the daemon's PID file and shutdown sequencing.
package daemonserver

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"kild/internal/config"
	"kild/internal/errors"
	"kild/internal/router"
	"kild/internal/session"
	"kild/internal/store"
	"kild/internal/transport"
)

// Server owns the listener, PID lock, session manager, and accept loop for
// one daemon instance.
type Server struct {
	cfg   config.DaemonConfig
	mgr   *session.Manager
	store *store.Store

	lock     *flock.Flock
	listener net.Listener

	stopOnce func()
}

// New constructs a Server bound to cfg's socket/pid paths but does not yet
// acquire the PID lock or bind the listener; call Run to do both.
func New(cfg config.DaemonConfig, st *store.Store) *Server {
	mgr := session.NewManager(session.Config{
		ScrollbackCapacity: cfg.ScrollbackBufferSize,
		ChannelCapacity:    256,
		ShutdownTimeout:    time.Duration(cfg.ShutdownTimeoutSecs) * time.Second,
	}, st)

	return &Server{
		cfg:   cfg,
		mgr:   mgr,
		store: st,
	}
}

// acquirePIDLock takes an exclusive, non-blocking lock on the PID file and
// writes this process's PID into it. A held lock means a live daemon is
// already running against this store.
func (s *Server) acquirePIDLock() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.PIDPath), 0o755); err != nil {
		return errors.IO(err, "create pid file directory")
	}
	lock := flock.New(s.cfg.PIDPath)
	locked, err := lock.TryLock()
	if err != nil {
		return errors.IO(err, "lock pid file %s", s.cfg.PIDPath)
	}
	if !locked {
		pid := readPID(s.cfg.PIDPath)
		return errors.New(errors.DaemonAlreadyRunning, true, "daemon already running (pid %d)", pid)
	}
	if err := os.WriteFile(s.cfg.PIDPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		lock.Unlock()
		return errors.IO(err, "write pid file")
	}
	s.lock = lock
	return nil
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

func (s *Server) releasePIDLock() {
	if s.lock == nil {
		return
	}
	s.lock.Unlock()
	os.Remove(s.cfg.PIDPath)
}

// bind creates the socket's parent directory and listens on it, cleaning up
// a stale socket file left by a crashed daemon.
func (s *Server) bind() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return nil, errors.IO(err, "create socket directory")
	}
	return transport.ListenUnix(transport.ResolveSocketPath(s.cfg.SocketPath))
}

// Run binds the listener, runs the accept loop until ctx is cancelled or a
// DaemonStop request arrives, then gracefully stops every session and
// removes the PID and socket files.
func (s *Server) Run(ctx context.Context) error {
	if err := s.acquirePIDLock(); err != nil {
		return err
	}
	defer s.releasePIDLock()

	listener, err := s.bind()
	if err != nil {
		return err
	}
	s.listener = listener
	defer listener.Close()
	defer os.Remove(transport.ResolveSocketPath(s.cfg.SocketPath))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var once sync.Once
	s.stopOnce = func() { once.Do(cancel) }

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			s.stopOnce()
		case <-runCtx.Done():
		}
	}()

	connCh := make(chan net.Conn)
	acceptErrCh := make(chan error, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				acceptErrCh <- err
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-runCtx.Done():
			slog.Info("daemon shutting down", "event", "daemonserver.shutdown")
			s.mgr.StopAll()
			return nil

		case conn := <-connCh:
			c := router.NewConn(conn, s.mgr, s.stopOnce)
			go func() {
				defer conn.Close()
				c.Serve(runCtx)
			}()

		case err := <-acceptErrCh:
			select {
			case <-runCtx.Done():
				return nil
			default:
				return errors.IO(err, "accept loop")
			}
		}
	}
}
