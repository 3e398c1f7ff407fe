//go:build linux
// +build linux

package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/kestrelws/wsreactor/api"
	"github.com/kestrelws/wsreactor/internal/sock"
	"golang.org/x/sys/unix"
)

// Secure wraps a TLS-terminated connection. NewSecure performs the
// handshake synchronously against the given config; a failed
// negotiation returns api.ErrSecureNegotiate and the caller must
// discard the connection silently — browsers routinely probe with
// TLS parameters they don't intend to use, so this is expected
// traffic, not a loop-level fault.
//
// The accepted fd is switched to blocking mode before it is handed to
// net.FileConn, which dups it and registers the dup with Go's runtime
// poller. Reads and writes on the resulting conn, including the
// handshake, block the calling goroutine until they complete instead
// of surfacing EAGAIN, so TLS record framing doesn't have to cope with
// partial reads; the event loop only reads once poll() has already
// reported the fd readable.
func NewSecure(fd int, cfg *tls.Config) (*Secure, error) {
	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, fmt.Errorf("set blocking for TLS handshake: %w", err)
	}
	f := os.NewFile(uintptr(fd), "wsreactor-secure-conn")
	raw, err := net.FileConn(f)
	f.Close()
	if err != nil {
		sock.Close(fd)
		return nil, fmt.Errorf("filecon: %w", err)
	}

	// net.FileConn dups fd; f.Close above closed the original
	// descriptor, so the live one — the one TLS actually reads and
	// writes, and the one the event loop must poll — belongs to raw,
	// not fd.
	liveFd, err := rawFd(raw)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("resolve dup'd descriptor: %w", err)
	}

	tlsConn := tls.Server(raw, cfg)
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("%w: %v", api.ErrSecureNegotiate, err)
	}
	return &Secure{fd: liveFd, conn: tlsConn}, nil
}

// rawFd extracts the kernel descriptor backing a net.Conn, for
// polling purposes only — all reads/writes continue to go through the
// conn itself.
func rawFd(c net.Conn) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("connection does not expose a raw descriptor")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	if err := rc.Control(func(ptr uintptr) { fd = int(ptr) }); err != nil {
		return -1, err
	}
	return fd, nil
}

type Secure struct {
	fd     int
	conn   *tls.Conn
	closed bool
}

func (t *Secure) Read(buf []byte) (int, error)  { return t.conn.Read(buf) }
func (t *Secure) Write(buf []byte) (int, error) { return t.conn.Write(buf) }
func (t *Secure) Fd() int                       { return t.fd }

func (t *Secure) Shutdown() error {
	if t.closed {
		return nil
	}
	return t.conn.CloseWrite()
}

func (t *Secure) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

var _ api.Transport = (*Secure)(nil)
