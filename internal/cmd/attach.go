package cmd

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kild/internal/protocol"
)

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <sid>",
		Short: "Attach to a session's interactive PTY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doAttach(args[0])
		},
	}
}

// doAttach dials the daemon, sends an Attach request, and proxies terminal
// I/O between the local stdin/stdout and the session's PTY for the life of
// the connection.
func doAttach(sid string) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return fmt.Errorf("attach requires an interactive terminal")
	}

	codec, closeConn, err := dialDaemon()
	if err != nil {
		return err
	}
	defer closeConn()

	fd := int(os.Stdin.Fd())
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return fmt.Errorf("get terminal size: %w", err)
	}

	resp, err := roundTrip(codec, &protocol.Request{
		Type: protocol.TypeAttach, ID: "attach", SessionID: sid, Rows: rows, Cols: cols,
	})
	if err != nil {
		return err
	}

	if backlog, err := base64.StdEncoding.DecodeString(resp.ScrollbackBase64); err == nil {
		os.Stdout.Write(backlog)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		term.Restore(fd, oldState)
		os.Stdout.WriteString("\r\n")
	}()

	// The stdin and SIGWINCH goroutines both write (stdin frames and resize
	// requests) through the writeMu-guarded send below; a single reader
	// goroutine owns codec reads (Acks for those
	// requests, interleaved with PtyOutput/PtyLagged/PtyExit streaming
	// frames) — the codec is not safe for concurrent readers or writers.
	var writeMu sync.Mutex
	send := func(req *protocol.Request) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return codec.WriteMessageFlush(req)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			cols, rows, err := term.GetSize(fd)
			if err != nil {
				continue
			}
			send(&protocol.Request{
				Type: protocol.TypeResizePty, ID: "resize", SessionID: sid, Rows: rows, Cols: cols,
			})
		}
	}()

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }

	// stdin -> WriteStdin requests, fire-and-forget (the matching Ack is
	// consumed, and ignored, by the reader loop below). Ctrl-\ (0x1C)
	// detaches without ending the session.
	go func() {
		defer closeDone()
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				for _, b := range buf[:n] {
					if b == 0x1C {
						return
					}
				}
				req := &protocol.Request{
					Type:       protocol.TypeWriteStdin,
					ID:         "stdin",
					SessionID:  sid,
					DataBase64: base64.StdEncoding.EncodeToString(buf[:n]),
				}
				if sendErr := send(req); sendErr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// daemon -> stdout: demultiplexes every frame on the connection until
	// PtyExit or a transport error.
	go func() {
		defer closeDone()
		for {
			frame, err := codec.ReadResponse()
			if err != nil || frame == nil {
				return
			}
			switch frame.Type {
			case protocol.TypePtyOutput:
				data, err := base64.StdEncoding.DecodeString(frame.DataBase64)
				if err == nil {
					os.Stdout.Write(data)
				}
			case protocol.TypePtyExit:
				return
			}
		}
	}()

	<-done
	return nil
}
