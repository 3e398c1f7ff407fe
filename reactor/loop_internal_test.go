//go:build linux
// +build linux

package reactor

import (
	"testing"

	"github.com/kestrelws/wsreactor/api"
	"github.com/kestrelws/wsreactor/internal/conn"
	"github.com/kestrelws/wsreactor/internal/table"
)

type fakeTransport struct {
	written [][]byte
	closed  bool
}

func (f *fakeTransport) Read(buf []byte) (int, error)  { return 0, nil }
func (f *fakeTransport) Write(buf []byte) (int, error) {
	f.written = append(f.written, append([]byte(nil), buf...))
	return len(buf), nil
}
func (f *fakeTransport) Shutdown() error { return nil }
func (f *fakeTransport) Close() error    { f.closed = true; return nil }
func (f *fakeTransport) Fd() int         { return -1 }

type recordingProtocol struct {
	index int
	calls []api.Reason
}

func (p *recordingProtocol) Name() string { return "test" }
func (p *recordingProtocol) Index() int   { return p.index }
func (p *recordingProtocol) Size() int    { return 0 }
func (p *recordingProtocol) Invoke(c api.Conn, reason api.Reason, userSpace, payload []byte) {
	p.calls = append(p.calls, reason)
}

func newTestLoop(t *testing.T, protocols []api.Protocol) *Loop {
	t.Helper()
	// One dummy rendezvous fd per protocol, matching what server.go
	// always supplies in production, so the fixed-zone boundary
	// fanOut relies on (protocolCount+1) lines up with reality.
	rendezvousFds := make([]int, len(protocols))
	for i := range rendezvousFds {
		rendezvousFds[i] = -1
	}
	l, err := NewLoop(0, rendezvousFds, protocols, Config{
		MaxClients:          16,
		MaxBroadcastPayload: 4096,
		NewTransport:        func(fd int) (api.Transport, error) { return &fakeTransport{}, nil },
	})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return l
}

func appendClient(t *testing.T, l *Loop, proto api.Protocol, state conn.State) (int, *conn.Record) {
	t.Helper()
	tr := &fakeTransport{}
	rec := conn.New(tr)
	rec.Protocol = proto
	rec.State = state
	idx, err := l.table.Append(-1, table.Slot{Kind: table.KindClient, Record: rec})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return idx, rec
}

func TestFanOutOnlyReachesMatchingEstablishedClients(t *testing.T) {
	p0 := &recordingProtocol{index: 0}
	p1 := &recordingProtocol{index: 1}
	l := newTestLoop(t, []api.Protocol{p0, p1})

	_, recMatch := appendClient(t, l, p0, conn.StateEstablished)
	appendClient(t, l, p1, conn.StateEstablished)   // different protocol
	appendClient(t, l, p0, conn.StateHTTP)          // not yet established

	if err := l.BroadcastInLoop(0, []byte("hi")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p0.calls) != 1 || p0.calls[0] != api.ReasonBroadcast {
		t.Fatalf("expected exactly one BROADCAST callback on protocol 0, got %v", p0.calls)
	}
	if len(p1.calls) != 0 {
		t.Fatalf("expected protocol 1 to receive no callbacks, got %v", p1.calls)
	}
	_ = recMatch
}

func TestWriteRejectsUnestablishedConnection(t *testing.T) {
	p0 := &recordingProtocol{index: 0}
	l := newTestLoop(t, []api.Protocol{p0})
	idx, rec := appendClient(t, l, p0, conn.StateHTTP)

	h := api.Handle{Index: idx, Gen: rec.Generation}
	if _, err := l.Write(h, []byte("x")); err != api.ErrNotEstablished {
		t.Fatalf("expected ErrNotEstablished, got %v", err)
	}
}

func TestWriteFramesPayloadForEstablishedConnection(t *testing.T) {
	p0 := &recordingProtocol{index: 0}
	l := newTestLoop(t, []api.Protocol{p0})
	idx, rec := appendClient(t, l, p0, conn.StateEstablished)

	h := api.Handle{Index: idx, Gen: rec.Generation}
	if _, err := l.Write(h, []byte("payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := rec.Transport.(*fakeTransport)
	if len(tr.written) != 1 {
		t.Fatalf("expected exactly one frame written, got %d", len(tr.written))
	}
}

func TestTeardownFiresClosedOnlyIfEstablished(t *testing.T) {
	p0 := &recordingProtocol{index: 0}
	l := newTestLoop(t, []api.Protocol{p0})
	idx, rec := appendClient(t, l, p0, conn.StateHTTP)

	l.teardown(idx)
	if len(p0.calls) != 0 {
		t.Fatalf("expected no CLOSED callback for a connection that never reached ESTABLISHED, got %v", p0.calls)
	}
	if rec.State != conn.StateDead {
		t.Fatalf("expected state DEAD after teardown")
	}

	p0.calls = nil
	idx2, rec2 := appendClient(t, l, p0, conn.StateEstablished)
	rec2.MarkEstablished(p0, nil)
	l.teardown(idx2)
	if len(p0.calls) != 1 || p0.calls[0] != api.ReasonClosed {
		t.Fatalf("expected exactly one CLOSED callback, got %v", p0.calls)
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	p0 := &recordingProtocol{index: 0}
	l := newTestLoop(t, []api.Protocol{p0})
	idx, rec := appendClient(t, l, p0, conn.StateEstablished)
	rec.MarkEstablished(p0, nil)

	l.teardown(idx)
	l.teardown(idx)
	if len(p0.calls) != 1 {
		t.Fatalf("expected exactly one CLOSED callback across two teardown calls, got %d", len(p0.calls))
	}
}

func TestResolverRejectsStaleHandleAfterReap(t *testing.T) {
	p0 := &recordingProtocol{index: 0}
	l := newTestLoop(t, []api.Protocol{p0})
	idxA, recA := appendClient(t, l, p0, conn.StateEstablished)
	recA.MarkEstablished(p0, nil)
	idxB, recB := appendClient(t, l, p0, conn.StateEstablished)
	recB.MarkEstablished(p0, nil)

	staleHandle := api.Handle{Index: idxB, Gen: recB.Generation}

	l.teardown(idxA)
	l.table.Reap(idxA) // recB shifts down into idxA's old slot

	if _, err := l.Write(staleHandle, []byte("x")); err != api.ErrConnGone {
		t.Fatalf("expected a stale handle to resolve as gone, got err=%v", err)
	}
	_ = idxB
}
