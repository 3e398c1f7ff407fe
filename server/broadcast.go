//go:build linux
// +build linux

package server

import (
	"sync"

	"github.com/kestrelws/wsreactor/api"
	"github.com/kestrelws/wsreactor/internal/rendezvous"
	"github.com/kestrelws/wsreactor/internal/sock"
)

// foreignBroadcaster owns the foreign-context side of one protocol's
// broadcast rendezvous channel: the dialed fd the loop's matching
// rendezvous listener slot accepted, serialized behind a mutex since
// any number of goroutines outside the loop may call Server.Broadcast
// concurrently and a length-prefixed datagram must reach the socket
// as one uninterrupted write.
//
// This is the foreign half of component G; the in-loop half is
// reactor.Loop.BroadcastInLoop, reached through api.Conn.Broadcast.
type foreignBroadcaster struct {
	mu sync.Mutex
	fd int
}

func (b *foreignBroadcaster) send(payload []byte, max int) error {
	if len(payload) > max {
		return api.ErrInvalidArgument
	}
	frame := rendezvous.Encode(payload)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := sock.Write(b.fd, frame)
	return err
}

func (b *foreignBroadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	sock.Close(b.fd)
}
