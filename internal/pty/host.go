package pty

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	creackpty "github.com/creack/pty"

	"kild/internal/errors"
)

// Spec describes how to spawn a session's child process inside a PTY.
type Spec struct {
	Dir           string
	Command       string
	Args          []string
	Env           []string
	Rows, Cols    int
	UseLoginShell bool
}

// ExitEvent is posted to Manager on PTY EOF/error: the SID plus the child's
// exit code when it could be collected (nil otherwise); the session manager
// decides what happens next.
type ExitEvent struct {
	SID      string
	ExitCode *int
}

// Host owns one spawned child and its PTY master. The reader goroutine feeds
// both the scrollback and the broadcaster and, on EOF or read error, posts
// exactly one ExitEvent to exitCh.
type Host struct {
	cmd *exec.Cmd
	ptm *os.File

	broadcaster *Broadcaster

	writeMu     sync.Mutex
	childExited bool
}

// Spawn allocates a PTY of the given size, starts the child attached to it,
// and launches the reader goroutine. exitCh receives exactly one ExitEvent
// for sid when the child's output stream ends.
func Spawn(sid string, spec Spec, broadcaster *Broadcaster, exitCh chan<- ExitEvent) (*Host, error) {
	command := spec.Command
	args := spec.Args
	if spec.UseLoginShell {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		command = shell
		args = append([]string{"-l"}, args...)
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}

	ptm, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Rows: uint16(spec.Rows),
		Cols: uint16(spec.Cols),
	})
	if err != nil {
		return nil, errors.PTY(err, "start child %q", command)
	}

	h := &Host{cmd: cmd, ptm: ptm, broadcaster: broadcaster}
	go h.readLoop(sid, exitCh)
	return h, nil
}

func (h *Host) readLoop(sid string, exitCh chan<- ExitEvent) {
	buf := make([]byte, 4096)
	for {
		n, err := h.ptm.Read(buf)
		if n > 0 {
			h.broadcaster.Feed(buf[:n])
		}
		if err != nil {
			h.writeMu.Lock()
			h.childExited = true
			h.writeMu.Unlock()

			var code *int
			if werr := h.cmd.Wait(); werr == nil {
				c := h.cmd.ProcessState.ExitCode()
				code = &c
			} else if exitErr, ok := werr.(*exec.ExitError); ok {
				c := exitErr.ExitCode()
				code = &c
			}
			exitCh <- ExitEvent{SID: sid, ExitCode: code}
			return
		}
	}
}

// Write sends bytes to the child's stdin. Returns io.ErrClosedPipe once the
// child has exited or the write hangs past the timeout, matching the
// teacher's hang-detection behavior for a wedged child.
func (h *Host) Write(p []byte) (int, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.childExited {
		return 0, io.ErrClosedPipe
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := h.ptm.Write(p)
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		return r.n, r.err
	case <-time.After(3 * time.Second):
		return 0, io.ErrClosedPipe
	}
}

// Resize adjusts the PTY window size.
func (h *Host) Resize(rows, cols int) error {
	if err := creackpty.Setsize(h.ptm, &creackpty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return errors.PTY(err, "resize pty")
	}
	return nil
}

// Pid returns the child's process ID, or 0 if it never started.
func (h *Host) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Stop signals the child to exit, escalating to SIGKILL if it does not
// respond within the context's deadline. Force skips the graceful signal
// entirely.
func (h *Host) Stop(ctx context.Context, force bool) error {
	if h.cmd.Process == nil {
		return nil
	}
	if !force {
		_ = h.cmd.Process.Signal(os.Interrupt)
		select {
		case <-ctx.Done():
		case <-h.waitDone():
			return nil
		}
	}
	return h.cmd.Process.Kill()
}

func (h *Host) waitDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		h.writeMu.Lock()
		exited := h.childExited
		h.writeMu.Unlock()
		for !exited {
			time.Sleep(20 * time.Millisecond)
			h.writeMu.Lock()
			exited = h.childExited
			h.writeMu.Unlock()
		}
		close(done)
	}()
	return done
}

// Close releases the PTY master file descriptor.
func (h *Host) Close() error {
	return h.ptm.Close()
}
