//go:build linux
// +build linux

// Package table implements component E, the descriptor table: an
// ordered array of descriptors with parallel connection-slot values,
// fixed layout zones (listener, then one rendezvous slot per
// protocol, then clients), and bounded capacity.
//
// Grounded on the teacher's reactor/epoll_reactor.go (fd-keyed
// callback registration over golang.org/x/sys) and on
// original_source/lib/libwebsockets.c's this->fds / this->wsi
// parallel-array design, which this package mirrors directly —
// replacing the original's pointer-vs-small-integer union in the
// connection-slot with a closed Slot sum type, per the Design Notes.
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package table

import (
	"golang.org/x/sys/unix"

	"github.com/kestrelws/wsreactor/api"
	"github.com/kestrelws/wsreactor/internal/conn"
	"github.com/kestrelws/wsreactor/internal/rendezvous"
)

// Kind is the closed set a slot's connection-slot value can hold,
// replacing the original's "pointer if >= LWS_MAX_PROTOCOLS, else
// protocol-index sentinel" magnitude trick.
type Kind int

const (
	KindListener Kind = iota
	KindRendezvous
	KindClient
)

// Slot is one descriptor-table entry's connection-slot value.
type Slot struct {
	Kind          Kind
	ProtocolIndex int // meaningful iff Kind == KindRendezvous
	Record        *conn.Record
	Generation    uint32 // meaningful iff Kind == KindClient

	// RendezvousReader reassembles length-prefixed broadcast datagrams
	// off an accepted rendezvous connection; meaningful iff Kind ==
	// KindRendezvous and this slot is an accepted peer rather than the
	// fixed listener (the listener slot never has one set).
	RendezvousReader *rendezvous.Reader
}

// Table holds the parallel fd / slot-value arrays. Index 0 is always
// the listener once initialized; indices 1..N are rendezvous slots;
// indices >N are client connections. None of this is safe for
// concurrent use — it is mutated exclusively by the loop goroutine.
type Table struct {
	maxClients int
	fds        []unix.PollFd
	slots      []Slot
	nextGen    uint32
}

// New allocates a table bounded at maxClients total descriptors
// (listener + rendezvous slots + live connections).
func New(maxClients int) *Table {
	return &Table{
		maxClients: maxClients,
		fds:        make([]unix.PollFd, 0, maxClients),
		slots:      make([]Slot, 0, maxClients),
	}
}

// Len returns the number of active descriptors.
func (t *Table) Len() int { return len(t.slots) }

// Append places fd/slot at the next free index. Newly appended
// entries always start with a zeroed readiness mask: stale revents
// from a reused slot would otherwise cause phantom events on the very
// next poll.
func (t *Table) Append(fd int, slot Slot) (index int, err error) {
	if len(t.slots) >= t.maxClients {
		return -1, api.ErrTableFull
	}
	t.nextGen++
	if slot.Kind == KindClient {
		slot.Generation = t.nextGen
		slot.Record.Generation = t.nextGen
	}
	t.fds = append(t.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN, Revents: 0})
	t.slots = append(t.slots, slot)
	return len(t.slots) - 1, nil
}

// Reap removes index i, left-shifting every later entry down by one.
// The caller is responsible for releasing any resources owned by
// slot i before calling Reap.
func (t *Table) Reap(i int) {
	if i < 0 || i >= len(t.slots) {
		return
	}
	copy(t.fds[i:], t.fds[i+1:])
	copy(t.slots[i:], t.slots[i+1:])
	t.fds = t.fds[:len(t.fds)-1]
	t.slots = t.slots[:len(t.slots)-1]
}

// Fds exposes the live poll array directly so the reactor can pass it
// to unix.Poll without a copy; Revents is mutated in place by the
// syscall.
func (t *Table) Fds() []unix.PollFd { return t.fds }

// Slot returns a copy of the slot value at i.
func (t *Table) Slot(i int) Slot { return t.slots[i] }

// SetSlot overwrites the slot value at i, e.g. after mutating a
// Record in place (Slot.Record is a pointer, so in practice only
// needed when replacing the pointer itself).
func (t *Table) SetSlot(i int, s Slot) { t.slots[i] = s }

// Resolve looks up a client slot by handle, verifying the generation
// matches so a stale handle (captured before a teardown, possibly
// pointing at a slot index later reused by compaction) is rejected
// rather than silently aliasing whatever now occupies that index.
func (t *Table) Resolve(idx int, gen uint32) (*conn.Record, bool) {
	if idx < 0 || idx >= len(t.slots) {
		return nil, false
	}
	s := t.slots[idx]
	if s.Kind != KindClient || s.Generation != gen {
		return nil, false
	}
	if s.Record.State == conn.StateDead {
		return nil, false
	}
	return s.Record, true
}
