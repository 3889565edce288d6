package transport

import (
	"crypto/tls"
	"net"
	"os"
	"time"

	"kild/internal/errors"
)

// ListenUnix binds a Unix-domain socket at path, removing a stale socket
// file left behind by a crashed daemon. A "stale" socket is one nothing is
// listening on; a live one causes an error (the caller should have already
// checked the PID file before calling this).
func ListenUnix(path string) (net.Listener, error) {
	if isStaleSocket(path) {
		os.Remove(path)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.IO(err, "bind unix socket %s", path)
	}
	return l, nil
}

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

// ListenTLS binds a TCP listener at addr wrapped in TLS using cert.
func ListenTLS(addr string, cert tls.Certificate) (net.Listener, error) {
	l, err := tls.Listen("tcp", addr, ServerConfig(cert))
	if err != nil {
		return nil, errors.IO(err, "bind tls listener %s", addr)
	}
	return l, nil
}

// DialUnix connects to a Unix-domain rendezvous socket.
func DialUnix(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, errors.IO(err, "dial unix socket %s", path)
	}
	return conn, nil
}

// DialTLS connects to a TLS-TCP daemon, verifying its certificate against
// the pinned fingerprint instead of a CA chain.
func DialTLS(addr string, pinned Fingerprint) (net.Conn, error) {
	conn, err := tls.Dial("tcp", addr, ClientConfig(pinned))
	if err != nil {
		return nil, errors.IO(err, "dial tls %s", addr)
	}
	return conn, nil
}
