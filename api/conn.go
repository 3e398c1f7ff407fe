package api

// Protocol is the view of a protocol descriptor visible outside the
// bootstrap package that owns the concrete type — just enough for the
// handshake engine to select a protocol and the reactor to dispatch a
// callback, without an import cycle back to the bootstrap package.
type Protocol interface {
	Name() string
	Index() int
	// Size is the fixed byte size of UserSpace for this protocol; 0
	// means no per-connection blob is allocated.
	Size() int
	// Invoke dispatches one callback call for this protocol.
	Invoke(conn Conn, reason Reason, userSpace, payload []byte)
}

// Handle identifies a connection record by table slot index plus a
// generation counter. A handle captured before a teardown and
// resolved afterward — even if the slot was reused by a new
// connection — is detected as stale rather than silently aliasing the
// new occupant, per the Design Notes' "opaque handle" guidance.
type Handle struct {
	Index int
	Gen   uint32
}

// Resolver is implemented by the event loop and lets a Conn value
// resolve itself against live loop state without the api package
// importing the loop's concrete type (which would create an import
// cycle, since the loop imports api for these very contracts).
type Resolver interface {
	Protocol(h Handle) (Protocol, bool)
	UserSpace(h Handle) ([]byte, bool)
	Write(h Handle, payload []byte) (int, error)
	// WriteRaw writes data straight to the transport with no WebSocket
	// framing, valid in any non-dead state — the HTTP callback
	// supplement uses this to send a response before the handshake has
	// (or ever will) complete.
	WriteRaw(h Handle, data []byte) (int, error)
	// BroadcastInLoop is the in-loop implementation of component G:
	// synchronous fan-out to every ESTABLISHED connection on
	// protocolIndex, called only from the loop goroutine (i.e. from
	// inside a callback). It never touches a rendezvous socket.
	BroadcastInLoop(protocolIndex int, payload []byte) error
}

// Conn is the opaque connection handle passed to protocol callbacks.
// It is cheap to copy. Every method except Broadcast re-resolves
// against the loop and reports ErrConnGone if the connection has since
// torn down, or if it has moved to another table index because an
// earlier connection was reaped; a retained Conn can therefore report
// ErrConnGone for a connection that is still open.
type Conn struct {
	h   Handle
	res Resolver
}

// NewConn is used by the event loop to construct the handle passed
// into a callback invocation.
func NewConn(h Handle, res Resolver) Conn {
	return Conn{h: h, res: res}
}

// Handle returns the underlying (index, generation) pair. A stored
// Handle stops resolving once its connection is torn down or shifted to
// another table index by compaction.
func (c Conn) Handle() Handle { return c.h }

// Protocol returns the connection's bound protocol descriptor.
func (c Conn) Protocol() (Protocol, error) {
	p, ok := c.res.Protocol(c.h)
	if !ok {
		return nil, ErrConnGone
	}
	return p, nil
}

// UserSpace returns the connection's opaque per-protocol blob.
func (c Conn) UserSpace() ([]byte, error) {
	u, ok := c.res.UserSpace(c.h)
	if !ok {
		return nil, ErrConnGone
	}
	return u, nil
}

// Write sends payload as a single WebSocket message to this
// connection. buf passed to callers originally needed
// SendBufferPrePadding/PostPadding head-room; Write accepts the bare
// payload and frames it internally.
func (c Conn) Write(payload []byte) (int, error) {
	return c.res.Write(c.h, payload)
}

// WriteRaw sends data over the connection with no WebSocket framing.
// Only meaningful from the HTTP reason callback, ahead of any
// upgrade.
func (c Conn) WriteRaw(data []byte) (int, error) {
	return c.res.WriteRaw(c.h, data)
}

// Broadcast fans a payload out to every ESTABLISHED connection on the
// protocol with index protocolIndex, synchronously, before returning —
// the in-loop half of component G. Call this from inside a callback;
// a goroutine outside any callback has no Conn to call it on and must
// use the server's foreign-context Broadcast instead (see
// SPEC_FULL.md §4.G).
func (c Conn) Broadcast(protocolIndex int, payload []byte) error {
	return c.res.BroadcastInLoop(protocolIndex, payload)
}

// Callback is the function a protocol implementation supplies. reason
// determines which of payload/userSpace are meaningful; see Reason's
// doc comment on each value.
type Callback func(conn Conn, reason Reason, userSpace []byte, payload []byte)
