// Package conn implements component B, the per-client connection
// record: transport ownership, handshake scratch buffers, the token
// table, and the established-state user_space blob.
//
// Grounded on protocol/connection.go (WSConnection) from the teacher,
// reworked from a channel-driven, multi-goroutine connection object
// into a plain data record mutated only by the single loop goroutine,
// per SPEC_FULL's concurrency model.
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package conn

import "github.com/kestrelws/wsreactor/api"

// State is the connection's position in its HTTP → ESTABLISHED → DEAD
// lifecycle. It only ever moves forward.
type State int

const (
	StateHTTP State = iota
	StateEstablished
	StateDead
)

func (s State) String() string {
	switch s {
	case StateHTTP:
		return "HTTP"
	case StateEstablished:
		return "ESTABLISHED"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// TokenID is a closed enumeration of handshake header tokens captured
// incrementally by the handshake engine while a connection is in
// StateHTTP.
type TokenID int

const (
	TokRequestLine TokenID = iota // "GET <uri> HTTP/1.1" target, also HTTP reason payload
	TokHost
	TokConnection
	TokUpgrade
	TokSecWebSocketKey
	TokSecWebSocketVersion
	TokSecWebSocketProtocol
	TokOrigin
	TokenCount
)

// Record is one per accepted client. It is mutated exclusively by the
// loop goroutine; no field requires locking.
type Record struct {
	Transport api.Transport
	State     State

	// NameBufferPos tracks the fill offset of Scratch, the handshake
	// accumulation buffer; Scratch holds header bytes read so far
	// that the handshake engine hasn't yet been able to fully parse
	// into a token (i.e. resumed across multiple Feed calls).
	NameBufferPos int
	Scratch       []byte

	// Tokens holds one owned byte slice per handshake token, or nil.
	// The record exclusively owns every non-nil entry.
	Tokens [TokenCount][]byte

	// Protocol is nil until a protocol is selected at handshake
	// completion; the zero value means "awaiting selection", matching
	// the C original's sentinel of "points at the head of the table".
	Protocol api.Protocol

	// UserSpace is allocated lazily at ESTABLISHED and is this
	// record's exclusive property: callbacks may mutate it freely,
	// no locking required, since only the loop goroutine ever touches
	// a Record.
	UserSpace []byte

	IETFSpecRevision int

	// Generation is set by the table on Append from a table-wide
	// counter that every Append bumps, so a Handle captured before
	// teardown is detectable as stale afterward even if the slot index
	// was recycled.
	Generation uint32

	// reachedEstablished records whether CLOSED must fire on
	// teardown, independent of the current State (which may already
	// be DEAD by the time teardown runs).
	reachedEstablished bool

	// FragOpcode/FragPayload reassemble a fragmented WebSocket message
	// across continuation frames, once ESTABLISHED. FragOpcode is 0
	// (continuation) when no fragmented message is in progress.
	FragOpcode  byte
	FragPayload []byte
}

// New creates a fresh HTTP-state record wrapping tr.
func New(tr api.Transport) *Record {
	return &Record{
		Transport:        tr,
		State:            StateHTTP,
		IETFSpecRevision: 76,
	}
}

// MarkEstablished transitions HTTP → ESTABLISHED and records that
// CLOSED must fire on teardown.
func (r *Record) MarkEstablished(proto api.Protocol, userSpace []byte) {
	r.State = StateEstablished
	r.Protocol = proto
	r.UserSpace = userSpace
	r.reachedEstablished = true
}

// ReachedEstablished reports whether MarkEstablished was ever called on
// this record.
func (r *Record) ReachedEstablished() bool { return r.reachedEstablished }

// ReleaseTokens drops every owned token buffer. Idempotent.
func (r *Record) ReleaseTokens() {
	for i := range r.Tokens {
		r.Tokens[i] = nil
	}
	r.Scratch = nil
	r.NameBufferPos = 0
}
