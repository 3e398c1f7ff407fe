package rendezvous_test

import (
	"bytes"
	"testing"

	"github.com/kestrelws/wsreactor/internal/rendezvous"
)

func TestEncodeFeedRoundTrip(t *testing.T) {
	r := rendezvous.NewReader(4096)
	frame := rendezvous.Encode([]byte("hello"))

	got, err := r.Feed(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte("hello")) {
		t.Fatalf("expected one datagram %q, got %v", "hello", got)
	}
}

func TestFeedHandlesSplitWrites(t *testing.T) {
	r := rendezvous.NewReader(4096)
	frame := rendezvous.Encode([]byte("split across reads"))

	got, err := r.Feed(frame[:3])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no complete datagrams yet, got %d", len(got))
	}

	got, err = r.Feed(frame[3:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte("split across reads")) {
		t.Fatalf("expected the reassembled datagram, got %v", got)
	}
}

func TestFeedHandlesCoalescedWrites(t *testing.T) {
	r := rendezvous.NewReader(4096)
	combined := append(rendezvous.Encode([]byte("one")), rendezvous.Encode([]byte("two"))...)

	got, err := r.Feed(combined)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[0], []byte("one")) || !bytes.Equal(got[1], []byte("two")) {
		t.Fatalf("expected two datagrams [one two], got %v", got)
	}
}

func TestFeedRejectsOversizedPayload(t *testing.T) {
	r := rendezvous.NewReader(2)
	frame := rendezvous.Encode([]byte("too long"))

	if _, err := r.Feed(frame); err != rendezvous.ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
