package transport

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
)

// maxSocketPathLen is the conservative limit for Unix domain socket paths.
// macOS caps sizeof(sockaddr_un.sun_path) at 104; 100 leaves headroom for
// the filename.
const maxSocketPathLen = 100

// ResolveSocketPath returns path unchanged if it fits inside a sockaddr_un,
// otherwise it creates (or reuses) a short symlink under os.TempDir() that
// points at path's directory and returns the socket file joined under the
// symlink instead. KILD_DIR can be set to an arbitrarily deep project path,
// so the daemon socket itself must not assume a short root.
func ResolveSocketPath(path string) string {
	if len(path) <= maxSocketPathLen {
		return path
	}

	dir := filepath.Dir(path)
	name := filepath.Base(path)

	hash := sha256.Sum256([]byte(dir))
	shortDir := filepath.Join(os.TempDir(), fmt.Sprintf("kild-%x", hash[:8]))

	if target, err := os.Readlink(shortDir); err == nil && target == dir {
		return filepath.Join(shortDir, name)
	}

	os.MkdirAll(dir, 0o755)
	os.Remove(shortDir)
	if err := os.Symlink(dir, shortDir); err != nil {
		return path
	}
	return filepath.Join(shortDir, name)
}
