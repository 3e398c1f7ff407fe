// Package transport implements component A, the transport adapter:
// a unified read/write/shutdown surface over either a plain TCP
// socket or a TLS-terminated one, selected once at server bootstrap
// and fixed for the server's lifetime.
//
// Grounded on internal/transport/transport_linux.go from the teacher
// (hioload-ws), which talks to raw fds via golang.org/x/sys/unix
// rather than net.Conn — kept here because the reactor's descriptor
// table (internal/table) needs the numeric fd for poll() regardless
// of which Transport variant owns it.
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package transport

import (
	"github.com/kestrelws/wsreactor/api"
	"github.com/kestrelws/wsreactor/internal/sock"
)

// Plain is the non-TLS transport variant: direct socket syscalls,
// Shutdown performs a bidirectional half-close ahead of Close.
type Plain struct {
	fd     int
	closed bool
}

// NewPlain wraps an already-accepted nonblocking fd.
func NewPlain(fd int) *Plain {
	return &Plain{fd: fd}
}

func (t *Plain) Read(buf []byte) (int, error)  { return sock.Read(t.fd, buf) }
func (t *Plain) Write(buf []byte) (int, error) { return sock.Write(t.fd, buf) }
func (t *Plain) Fd() int                       { return t.fd }

func (t *Plain) Shutdown() error {
	if t.closed {
		return nil
	}
	return sock.Shutdown(t.fd)
}

func (t *Plain) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return sock.Close(t.fd)
}

var _ api.Transport = (*Plain)(nil)
