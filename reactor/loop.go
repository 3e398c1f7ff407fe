//go:build linux
// +build linux

// Package reactor implements component F, the event loop: a single
// goroutine that multiplexes the listening socket, every protocol's
// broadcast rendezvous socket, and every accepted client connection
// through one poll() wait per iteration, in the slot order spec.md §4.F
// prescribes (accept phase before service phase, within-iteration).
//
// Grounded directly on original_source/lib/libwebsockets.c's service
// loop (poll(this->fds, this->fds_count, 1000) followed by an accept
// scan over [0, count_protocols] and a service scan over
// [count_protocols+1, fds_count)) and on the teacher's
// reactor/epoll_reactor.go for the Go-idiomatic shape of a readiness
// loop built on golang.org/x/sys/unix.
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package reactor

import (
	"errors"
	"log"
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/kestrelws/wsreactor/api"
	"github.com/kestrelws/wsreactor/internal/conn"
	"github.com/kestrelws/wsreactor/internal/handshake"
	"github.com/kestrelws/wsreactor/internal/rendezvous"
	"github.com/kestrelws/wsreactor/internal/sock"
	"github.com/kestrelws/wsreactor/internal/table"
	"github.com/kestrelws/wsreactor/internal/wsframe"
)

// NewTransportFunc builds the transport adapter for a freshly accepted
// client fd; the server bootstrap fixes this to either a plain or a
// TLS factory for the server's whole lifetime.
type NewTransportFunc func(fd int) (api.Transport, error)

// Config bundles the loop's tunables, owned by server.Config.
type Config struct {
	MaxClients          int
	MaxBroadcastPayload int
	NewTransport        NewTransportFunc
	// OnTick is invoked once per 1-second readiness timeout that passes
	// with no events. It is queued and run at the top of the next
	// iteration on the loop goroutine, just before the next poll wait;
	// a slow hook delays that wait.
	OnTick func()
}

// Loop is component F. It is not safe for concurrent use from outside
// its own goroutine; Stop is the one exception.
type Loop struct {
	cfg       Config
	table     *table.Table
	protocols []api.Protocol
	ticks     *queue.Queue

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLoop builds the loop's descriptor table: slot 0 is listenerFd,
// slots 1..len(rendezvousFds) are the per-protocol rendezvous
// listeners, index-aligned with protocols.
func NewLoop(listenerFd int, rendezvousFds []int, protocols []api.Protocol, cfg Config) (*Loop, error) {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = api.DefaultMaxClients
	}
	if cfg.MaxBroadcastPayload <= 0 {
		cfg.MaxBroadcastPayload = api.DefaultMaxBroadcastPayload
	}
	if cfg.NewTransport == nil {
		return nil, errors.New("reactor: NewTransport factory is required")
	}

	t := table.New(cfg.MaxClients)
	if _, err := t.Append(listenerFd, table.Slot{Kind: table.KindListener}); err != nil {
		return nil, err
	}
	for i, fd := range rendezvousFds {
		if _, err := t.Append(fd, table.Slot{Kind: table.KindRendezvous, ProtocolIndex: i}); err != nil {
			return nil, err
		}
	}

	return &Loop{
		cfg:       cfg,
		table:     t,
		protocols: protocols,
		ticks:     queue.New(),
		stopCh:    make(chan struct{}),
	}, nil
}

// Stop requests the loop to exit at the top of its next iteration.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Run services connections until Stop is called or the listener
// fails fatally (POLLERR/POLLHUP, or poll() itself erroring). A fatal
// listener condition is the only error Run ever returns — every
// per-connection fault is confined and logged, never propagated,
// matching spec.md §7's propagation policy.
func (l *Loop) Run() error {
	defer l.closeAll()

	for {
		select {
		case <-l.stopCh:
			return nil
		default:
		}

		l.drainTicks()

		n, err := unix.Poll(l.table.Fds(), 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return api.NewError(api.KindLoopFatal, "poll", err)
		}

		fds := l.table.Fds()
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return api.NewError(api.KindLoopFatal, "listener", errors.New("listening socket dead"))
		}
		if n == 0 {
			l.queueTick()
			continue
		}

		protocolCount := len(l.protocols)

		// Accept phase: slots 0..=protocolCount, all before any service.
		for k := 0; k <= protocolCount && k < l.table.Len(); k++ {
			if l.table.Fds()[k].Revents&unix.POLLIN == 0 {
				continue
			}
			if k == 0 {
				l.acceptClient()
			} else {
				l.acceptRendezvous(k - 1)
			}
		}

		// Service phase: slots protocolCount+1..count. A reap aborts
		// the remainder for this iteration — indices have shifted.
		i := protocolCount + 1
		for i < l.table.Len() {
			f := l.table.Fds()[i]
			if f.Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
				slot := l.table.Slot(i)
				if slot.Kind == table.KindClient {
					l.teardown(i)
				} else {
					sock.Close(int(f.Fd))
				}
				l.table.Reap(i)
				break
			}
			if f.Revents&unix.POLLIN == 0 {
				i++
				continue
			}
			slot := l.table.Slot(i)
			if slot.Kind == table.KindRendezvous {
				l.serviceRendezvous(i, slot.ProtocolIndex)
				i++
				continue
			}
			if l.serviceClient(i, slot.Record) {
				i++
			} else {
				l.table.Reap(i)
				break
			}
		}
	}
}

// queueTick enqueues OnTick for execution at the top of the next
// iteration; it never calls the hook itself.
func (l *Loop) queueTick() {
	if l.cfg.OnTick != nil {
		l.ticks.Add(l.cfg.OnTick)
	}
}

// drainTicks runs whatever queueTick enqueued on the previous
// iteration's idle timeout. Called unconditionally before every poll
// wait, so a queued hook runs before the loop waits for readiness again.
func (l *Loop) drainTicks() {
	for l.ticks.Length() > 0 {
		item := l.ticks.Peek()
		l.ticks.Remove()
		if fn, ok := item.(func()); ok {
			fn()
		}
	}
}

func (l *Loop) acceptClient() {
	listenerFd := int(l.table.Fds()[0].Fd)
	fd, err := sock.Accept(listenerFd)
	if err != nil {
		if errors.Is(err, sock.ErrWouldBlock) {
			return
		}
		log.Printf("wsreactor: accept transient: %v", err)
		return
	}
	if l.table.Len() >= l.cfg.MaxClients {
		sock.Close(fd)
		log.Printf("wsreactor: connection table full, dropping new connection")
		return
	}
	tr, err := l.cfg.NewTransport(fd)
	if err != nil {
		if !errors.Is(err, api.ErrSecureNegotiate) {
			log.Printf("wsreactor: transport setup failed: %v", err)
		}
		sock.Close(fd)
		return
	}
	rec := conn.New(tr)
	// tr.Fd() is polled, not fd: Plain returns fd unchanged, but Secure
	// dups fd internally during handshake setup and closes the
	// original, so the descriptor that's actually live is whatever the
	// transport reports.
	if _, err := l.table.Append(tr.Fd(), table.Slot{Kind: table.KindClient, Record: rec}); err != nil {
		tr.Close()
		log.Printf("wsreactor: connection table full after accept: %v", err)
	}
}

func (l *Loop) acceptRendezvous(protocolIndex int) {
	listenerFd := int(l.table.Fds()[protocolIndex+1].Fd)
	fd, err := sock.Accept(listenerFd)
	if err != nil {
		if errors.Is(err, sock.ErrWouldBlock) {
			return
		}
		log.Printf("wsreactor: rendezvous accept transient: %v", err)
		return
	}
	if l.table.Len() >= l.cfg.MaxClients {
		sock.Close(fd)
		return
	}
	if _, err := l.table.Append(fd, table.Slot{
		Kind:             table.KindRendezvous,
		ProtocolIndex:    protocolIndex,
		RendezvousReader: rendezvous.NewReader(l.cfg.MaxBroadcastPayload),
	}); err != nil {
		sock.Close(fd)
	}
}

func (l *Loop) serviceRendezvous(i, protocolIndex int) {
	fd := int(l.table.Fds()[i].Fd)
	buf := make([]byte, l.cfg.MaxBroadcastPayload+rendezvous.FrameHeaderSize)
	n, err := sock.Read(fd, buf)
	if err != nil {
		if errors.Is(err, sock.ErrWouldBlock) {
			return
		}
		log.Printf("wsreactor: broadcast rendezvous read error: %v", err)
		return
	}
	if n <= 0 {
		return
	}
	slot := l.table.Slot(i)
	payloads, err := slot.RendezvousReader.Feed(buf[:n])
	if err != nil {
		log.Printf("wsreactor: broadcast rendezvous framing error: %v", err)
		return
	}
	for _, payload := range payloads {
		l.fanOut(protocolIndex, payload, api.ReasonBroadcast)
	}
}

// fanOut is the synchronous, single-threaded heart of component G:
// it never locks anything, since only the loop goroutine ever touches
// the table or a connection record.
func (l *Loop) fanOut(protocolIndex int, payload []byte, reason api.Reason) {
	protocolCount := len(l.protocols)
	for i := protocolCount + 1; i < l.table.Len(); i++ {
		slot := l.table.Slot(i)
		if slot.Kind != table.KindClient {
			continue
		}
		rec := slot.Record
		if rec.State != conn.StateEstablished || rec.Protocol == nil || rec.Protocol.Index() != protocolIndex {
			continue
		}
		h := api.Handle{Index: i, Gen: slot.Generation}
		c := api.NewConn(h, l)
		rec.Protocol.Invoke(c, reason, rec.UserSpace, payload)
	}
}

func (l *Loop) serviceClient(i int, rec *conn.Record) bool {
	buf := make([]byte, 4096)
	n, err := rec.Transport.Read(buf)
	if err != nil {
		if errors.Is(err, sock.ErrWouldBlock) {
			return true
		}
		l.teardown(i)
		return false
	}
	if n == 0 {
		l.teardown(i)
		return false
	}
	data := buf[:n]

	switch rec.State {
	case conn.StateHTTP:
		return l.serviceHTTP(i, rec, data)
	case conn.StateEstablished:
		return l.serviceFrame(i, rec, data)
	default:
		return true
	}
}

func (l *Loop) serviceHTTP(i int, rec *conn.Record, data []byte) bool {
	result, err := handshake.Feed(rec, data, l.protocols)
	switch result {
	case handshake.ResultNeedMore:
		return true
	case handshake.ResultEstablished:
		h := api.Handle{Index: i, Gen: rec.Generation}
		c := api.NewConn(h, l)
		rec.Protocol.Invoke(c, api.ReasonEstablished, rec.UserSpace, nil)
		return true
	case handshake.ResultHTTPRequest:
		if len(l.protocols) > 0 {
			h := api.Handle{Index: i, Gen: rec.Generation}
			c := api.NewConn(h, l)
			l.protocols[0].Invoke(c, api.ReasonHTTP, nil, rec.Tokens[conn.TokRequestLine])
		}
		l.teardown(i)
		return false
	default: // ResultFatal
		log.Printf("wsreactor: handshake error on conn %d: %v", i, err)
		l.teardown(i)
		return false
	}
}

func (l *Loop) serviceFrame(i int, rec *conn.Record, data []byte) bool {
	result, payload, err := wsframe.Feed(rec, data)
	switch result {
	case wsframe.ResultNeedMore:
		return true
	case wsframe.ResultMessage:
		h := api.Handle{Index: i, Gen: rec.Generation}
		c := api.NewConn(h, l)
		rec.Protocol.Invoke(c, api.ReasonReceive, rec.UserSpace, payload)
		return true
	case wsframe.ResultPeerClose:
		l.teardown(i)
		return false
	default: // ResultFatal
		log.Printf("wsreactor: frame error on conn %d: %v", i, err)
		l.teardown(i)
		return false
	}
}

// teardown is idempotent: calling it on a non-client slot, or a
// record already DEAD, is a no-op — this protects against double
// teardown when both an error condition and a subsequent read-error
// land on the same connection within one iteration.
func (l *Loop) teardown(i int) {
	slot := l.table.Slot(i)
	if slot.Kind != table.KindClient {
		return
	}
	rec := slot.Record
	if rec.State == conn.StateDead {
		return
	}
	wasEstablished := rec.ReachedEstablished()
	rec.State = conn.StateDead
	if wasEstablished {
		h := api.Handle{Index: i, Gen: rec.Generation}
		c := api.NewConn(h, l)
		rec.Protocol.Invoke(c, api.ReasonClosed, rec.UserSpace, nil)
	}
	rec.ReleaseTokens()
	rec.Transport.Shutdown()
	rec.Transport.Close()
	rec.UserSpace = nil
}

// closeAll closes every remaining descriptor exactly once. This
// resolves spec.md §9's open question about the fatal cleanup path:
// the original C loops `N` times closing `fds[0].fd` by mistake; the
// intent — close each of the N descriptors once — is what's
// implemented here.
func (l *Loop) closeAll() {
	for i := 0; i < l.table.Len(); i++ {
		fd := int(l.table.Fds()[i].Fd)
		sock.Close(fd)
	}
}

// --- api.Resolver ---

func (l *Loop) Protocol(h api.Handle) (api.Protocol, bool) {
	rec, ok := l.table.Resolve(h.Index, h.Gen)
	if !ok || rec.Protocol == nil {
		return nil, false
	}
	return rec.Protocol, true
}

func (l *Loop) UserSpace(h api.Handle) ([]byte, bool) {
	rec, ok := l.table.Resolve(h.Index, h.Gen)
	if !ok {
		return nil, false
	}
	return rec.UserSpace, true
}

func (l *Loop) Write(h api.Handle, payload []byte) (int, error) {
	rec, ok := l.table.Resolve(h.Index, h.Gen)
	if !ok {
		return 0, api.ErrConnGone
	}
	if rec.State != conn.StateEstablished {
		return 0, api.ErrNotEstablished
	}
	frame := wsframe.EmitFrame(wsframe.OpBinary, payload, true)
	return rec.Transport.Write(frame)
}

func (l *Loop) WriteRaw(h api.Handle, data []byte) (int, error) {
	rec, ok := l.table.Resolve(h.Index, h.Gen)
	if !ok {
		return 0, api.ErrConnGone
	}
	return rec.Transport.Write(data)
}

func (l *Loop) BroadcastInLoop(protocolIndex int, payload []byte) error {
	l.fanOut(protocolIndex, payload, api.ReasonBroadcast)
	return nil
}

var _ api.Resolver = (*Loop)(nil)
