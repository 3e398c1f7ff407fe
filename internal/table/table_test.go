//go:build linux
// +build linux

package table_test

import (
	"testing"

	"github.com/kestrelws/wsreactor/internal/conn"
	"github.com/kestrelws/wsreactor/internal/table"
)

type fakeTransport struct{}

func (fakeTransport) Read(buf []byte) (int, error)  { return 0, nil }
func (fakeTransport) Write(buf []byte) (int, error) { return len(buf), nil }
func (fakeTransport) Shutdown() error               { return nil }
func (fakeTransport) Close() error                  { return nil }
func (fakeTransport) Fd() int                        { return -1 }

func TestAppendAssignsGenerationAndResolves(t *testing.T) {
	tb := table.New(4)
	rec := conn.New(fakeTransport{})
	idx, err := tb.Append(10, table.Slot{Kind: table.KindClient, Record: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := tb.Resolve(idx, rec.Generation)
	if !ok {
		t.Fatal("expected Resolve to find the freshly appended connection")
	}
	if got != rec {
		t.Fatal("expected Resolve to return the same record pointer")
	}
}

func TestAppendRejectsOverCapacity(t *testing.T) {
	tb := table.New(1)
	if _, err := tb.Append(1, table.Slot{Kind: table.KindListener}); err != nil {
		t.Fatalf("unexpected error on first append: %v", err)
	}
	if _, err := tb.Append(2, table.Slot{Kind: table.KindRendezvous}); err == nil {
		t.Fatal("expected an error once the table is at capacity")
	}
}

func TestReapCompactsAndShiftsLaterIndices(t *testing.T) {
	tb := table.New(4)
	recA := conn.New(fakeTransport{})
	recB := conn.New(fakeTransport{})
	idxA, _ := tb.Append(1, table.Slot{Kind: table.KindClient, Record: recA})
	idxB, _ := tb.Append(2, table.Slot{Kind: table.KindClient, Record: recB})

	tb.Reap(idxA)

	if tb.Len() != 1 {
		t.Fatalf("expected table length 1 after reap, got %d", tb.Len())
	}
	// recB shifted down to index 0; the old handle (idxB, recB's
	// generation) is a different index now, but Resolve must still
	// find it at its new position.
	got, ok := tb.Resolve(idxA, recB.Generation)
	if !ok || got != recB {
		t.Fatalf("expected recB to be resolvable at the compacted index, idxB was %d", idxB)
	}
}

func TestResolveRejectsStaleGeneration(t *testing.T) {
	tb := table.New(4)
	rec := conn.New(fakeTransport{})
	idx, _ := tb.Append(1, table.Slot{Kind: table.KindClient, Record: rec})

	tb.Reap(idx)
	// A new connection reuses the same index with a fresh generation.
	rec2 := conn.New(fakeTransport{})
	idx2, _ := tb.Append(5, table.Slot{Kind: table.KindClient, Record: rec2})
	if idx2 != idx {
		t.Fatalf("expected the reaped index to be reused, got %d want %d", idx2, idx)
	}

	if _, ok := tb.Resolve(idx, rec.Generation); ok {
		t.Fatal("expected a stale handle (old generation) to fail to resolve")
	}
}

func TestResolveRejectsDeadRecord(t *testing.T) {
	tb := table.New(4)
	rec := conn.New(fakeTransport{})
	idx, _ := tb.Append(1, table.Slot{Kind: table.KindClient, Record: rec})

	rec.State = conn.StateDead
	if _, ok := tb.Resolve(idx, rec.Generation); ok {
		t.Fatal("expected Resolve to reject a DEAD record")
	}
}

func TestResolveRejectsNonClientSlot(t *testing.T) {
	tb := table.New(4)
	idx, _ := tb.Append(1, table.Slot{Kind: table.KindRendezvous, ProtocolIndex: 0})

	if _, ok := tb.Resolve(idx, 0); ok {
		t.Fatal("expected Resolve to reject a non-client slot")
	}
}
