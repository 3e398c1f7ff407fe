//go:build !linux
// +build !linux

package sock

import "errors"

// ErrWouldBlock mirrors the Linux build's sentinel so callers can
// share error-handling logic across build tags.
var ErrWouldBlock = errors.New("sock: would block")

var errUnsupported = errors.New("sock: this platform is not supported; the reactor core uses raw Linux socket syscalls (golang.org/x/sys/unix)")

func ListenTCP(addr string, port int, backlog int) (int, error) { return -1, errUnsupported }
func ListenLoopback(backlog int) (int, int, error)              { return -1, 0, errUnsupported }
func DialLoopback(port int) (int, error)                        { return -1, errUnsupported }
func Accept(listenFd int) (int, error)                          { return -1, errUnsupported }
func Read(fd int, buf []byte) (int, error)                      { return 0, errUnsupported }
func Write(fd int, buf []byte) (int, error)                     { return 0, errUnsupported }
func Shutdown(fd int) error                                     { return errUnsupported }
func Close(fd int) error                                        { return errUnsupported }
