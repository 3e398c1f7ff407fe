// Package api defines the public contracts a protocol implementation is
// written against: the callback reason enumeration, the connection handle
// passed into callbacks, and the narrow interfaces the reactor and
// transport adapters satisfy.
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package api

// Reason identifies why a protocol callback fired. The set is closed —
// no other values are ever produced.
type Reason int

const (
	// ReasonEstablished fires once per connection, right after the
	// WebSocket upgrade handshake completes. UserSpace has just been
	// allocated and zeroed.
	ReasonEstablished Reason = iota
	// ReasonClosed fires once, iff ReasonEstablished fired for this
	// connection. It is the last valid use of UserSpace.
	ReasonClosed
	// ReasonReceive fires once per application message delivered by
	// the framing engine to an established connection.
	ReasonReceive
	// ReasonBroadcast fires once per connection targeted by a
	// Broadcast call on its protocol.
	ReasonBroadcast
	// ReasonHTTP fires only on the first protocol in the table, for
	// any non-upgrade HTTP request. Payload holds the request URI.
	ReasonHTTP
)

func (r Reason) String() string {
	switch r {
	case ReasonEstablished:
		return "ESTABLISHED"
	case ReasonClosed:
		return "CLOSED"
	case ReasonReceive:
		return "RECEIVE"
	case ReasonBroadcast:
		return "BROADCAST"
	case ReasonHTTP:
		return "HTTP"
	default:
		return "UNKNOWN"
	}
}
