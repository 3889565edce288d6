// Package config resolves the kild root directory and loads the daemon's
// config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const markerFile = ".kild-dir.txt"

// Config is the top-level config.yaml document. Unknown keys are ignored by
// yaml.v3 so older daemons tolerate newer config files.
type Config struct {
	Daemon DaemonConfig `yaml:"daemon"`
}

// DaemonConfig mirrors the daemon's documented option table. Every field has
// a default applied by Defaults/LoadFrom.
type DaemonConfig struct {
	SocketPath           string `yaml:"socket_path"`
	PIDPath              string `yaml:"pid_path"`
	ScrollbackBufferSize int    `yaml:"scrollback_buffer_size"`
	PTYOutputBatchMS     int    `yaml:"pty_output_batch_ms"`
	ClientBufferSize     int    `yaml:"client_buffer_size"`
	ShutdownTimeoutSecs  int    `yaml:"shutdown_timeout_secs"`
}

// Defaults returns a DaemonConfig with every field set to its documented
// default, rooted at base.
func Defaults(base string) DaemonConfig {
	return DaemonConfig{
		SocketPath:           filepath.Join(base, "daemon.sock"),
		PIDPath:              filepath.Join(base, "daemon.pid"),
		ScrollbackBufferSize: 65536,
		PTYOutputBatchMS:     4,
		ClientBufferSize:     262144,
		ShutdownTimeoutSecs:  5,
	}
}

// applyDefaults fills in zero-valued fields of cfg using defaults derived
// from base, so a partially-specified config.yaml still produces a complete
// DaemonConfig.
func applyDefaults(cfg DaemonConfig, base string) DaemonConfig {
	d := Defaults(base)
	if cfg.SocketPath == "" {
		cfg.SocketPath = d.SocketPath
	}
	if cfg.PIDPath == "" {
		cfg.PIDPath = d.PIDPath
	}
	if cfg.ScrollbackBufferSize == 0 {
		cfg.ScrollbackBufferSize = d.ScrollbackBufferSize
	}
	if cfg.PTYOutputBatchMS == 0 {
		cfg.PTYOutputBatchMS = d.PTYOutputBatchMS
	}
	if cfg.ClientBufferSize == 0 {
		cfg.ClientBufferSize = d.ClientBufferSize
	}
	if cfg.ShutdownTimeoutSecs == 0 {
		cfg.ShutdownTimeoutSecs = d.ShutdownTimeoutSecs
	}
	return cfg
}

// IsKildDir reports whether dir contains a valid .kild-dir.txt marker file.
func IsKildDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, markerFile))
	return err == nil && !info.IsDir()
}

// WriteMarker writes the marker file identifying dir as a kild root.
func WriteMarker(dir string) error {
	return os.WriteFile(filepath.Join(dir, markerFile), []byte("v1\n"), 0o644)
}

// looksLikeKildDir recognizes a pre-existing kild root that predates the
// marker file, by checking for its expected subdirectories.
func looksLikeKildDir(dir string) bool {
	for _, sub := range []string{"sessions", "worktrees"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			return false
		}
	}
	return true
}

var (
	resolvedDir string
	resolvedErr error
	resolveOnce sync.Once
)

// ResolveDir finds the kild root directory.
// Order: KILD_DIR env var -> walk up CWD -> ~/.kild fallback (created on
// first use). Result is cached for the process lifetime.
func ResolveDir() (string, error) {
	resolveOnce.Do(func() {
		resolvedDir, resolvedErr = resolveDir()
	})
	return resolvedDir, resolvedErr
}

// ResetResolveCache resets the cached ResolveDir result. For testing only.
func ResetResolveCache() {
	resolveOnce = sync.Once{}
	resolvedDir = ""
	resolvedErr = nil
}

func resolveDir() (string, error) {
	if dir := os.Getenv("KILD_DIR"); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("KILD_DIR: %w", err)
		}
		if !IsKildDir(abs) {
			return "", fmt.Errorf("KILD_DIR=%s is not a kild directory (missing %s)", abs, markerFile)
		}
		return abs, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := cwd
	for {
		if IsKildDir(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	global := filepath.Join(home, ".kild")
	if IsKildDir(global) {
		return global, nil
	}
	if looksLikeKildDir(global) {
		if err := WriteMarker(global); err != nil {
			return "", fmt.Errorf("migrate %s: %w", global, err)
		}
		return global, nil
	}

	if err := os.MkdirAll(global, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", global, err)
	}
	if err := WriteMarker(global); err != nil {
		return "", fmt.Errorf("initialize %s: %w", global, err)
	}
	return global, nil
}

// Load reads <kild-dir>/config.yaml, applying defaults for any field left
// unspecified.
func Load() (*Config, error) {
	base, err := ResolveDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(base, "config.yaml"), base)
}

// LoadFrom reads the config at path. A missing file yields a
// default-populated Config rather than an error.
func LoadFrom(path, base string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Daemon: Defaults(base)}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Daemon = applyDefaults(cfg.Daemon, base)
	return &cfg, nil
}
