//go:build linux
// +build linux

// Package sock wraps the handful of raw socket syscalls the reactor
// needs directly: the listener, the per-protocol rendezvous sockets,
// and accepted client descriptors all live in the same poll() array
// (internal/table), so they're all raw fds rather than net.Conn.
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package sock

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock signals a nonblocking operation had nothing ready —
// not a connection error, just "try again after the next readiness
// wait".
var ErrWouldBlock = errors.New("sock: would block")

// ListenTCP creates a nonblocking, address-reuse TCP listener bound
// to addr ("" means ANY) on the given port. backlog mirrors the
// listen(2) backlog.
func ListenTCP(addr string, port int, backlog int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
		}
	}()
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if addr != "" {
		ip, perr := parseIPv4(addr)
		if perr != nil {
			return -1, perr
		}
		sa.Addr = ip
	}
	if err = unix.Bind(fd, sa); err != nil {
		return -1, fmt.Errorf("bind: %w", err)
	}
	if err = unix.Listen(fd, backlog); err != nil {
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// ListenLoopback creates a nonblocking TCP listener on 127.0.0.1 with
// an OS-chosen port (port 0), returning the fd and the assigned port —
// used for the per-protocol broadcast rendezvous sockets.
func ListenLoopback(backlog int) (fd int, port int, err error) {
	fd, err = ListenTCP("127.0.0.1", 0, backlog)
	if err != nil {
		return -1, 0, err
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("getsockname: %w", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("unexpected sockaddr type %T", sa)
	}
	return fd, in4.Port, nil
}

// DialLoopback connects to 127.0.0.1:port — the foreign-context side
// of a rendezvous channel. The returned fd is left blocking, since
// foreign callers are ordinary goroutines writing small payloads, not
// loop-polled descriptors.
func DialLoopback(port int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}
	if err = unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connect loopback: %w", err)
	}
	return fd, nil
}

// Accept accepts one connection off a nonblocking listener fd,
// returning the new connection as a nonblocking fd.
func Accept(listenFd int) (int, error) {
	connFd, _, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, ErrWouldBlock
		}
		return -1, err
	}
	return connFd, nil
}

// Read reads into buf, translating EAGAIN into ErrWouldBlock.
func Read(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Write writes all of buf, retrying on EAGAIN and partial writes.
// Rendezvous/broadcast payloads are small and bounded, so a retry
// loop here is simpler than wiring write-readiness for this path.
func Write(fd int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Write(fd, buf[total:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				continue
			}
			return total, err
		}
		total += n
	}
	return total, nil
}

// Shutdown performs a bidirectional half-close.
func Shutdown(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_RDWR)
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

func parseIPv4(s string) (out [4]byte, err error) {
	var a, b, c, d int
	n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d)
	if err != nil || n != 4 {
		return out, fmt.Errorf("invalid IPv4 address %q", s)
	}
	out = [4]byte{byte(a), byte(b), byte(c), byte(d)}
	return out, nil
}
