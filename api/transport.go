package api

// Transport is the unified read/write/shutdown surface over a plain or
// secure accepted socket (component A). It is the only abstraction
// that touches a client's raw descriptor; the descriptor table keeps
// the numeric fd separately, solely for readiness polling.
//
// Read returns (0, nil) only when the peer performed an orderly close
// with no data pending; any negative-equivalent condition is reported
// as a non-nil error. Implementations must be safe to call from the
// single loop goroutine only — there is no internal locking.
type Transport interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	// Shutdown performs the half-close/protocol-level shutdown step
	// appropriate to the transport kind, ahead of Close.
	Shutdown() error
	Close() error
	// Fd returns the underlying descriptor, used by the event loop
	// for readiness polling only.
	Fd() int
}
