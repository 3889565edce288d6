// Command kildd is the dedicated daemon binary: it runs the session daemon
// in the foreground on the calling process, with no cobra command tree of
// its own. "kild daemon start" re-execs the kild binary against its hidden
// "daemon run" subcommand instead of this binary; kildd exists for operators
// who want a standalone executable to supervise directly (systemd, runit).
package main

import (
	"context"
	"fmt"
	"os"

	"kild/internal/config"
	"kild/internal/daemonserver"
	"kild/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kildd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir, err := config.ResolveDir()
	if err != nil {
		return fmt.Errorf("resolve kild dir: %w", err)
	}
	st := store.New(dir)
	srv := daemonserver.New(cfg.Daemon, st)
	return srv.Run(context.Background())
}
