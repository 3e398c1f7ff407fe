// Package rendezvous implements the wire framing for the broadcast
// rendezvous sockets component G relies on: a 4-byte big-endian length
// prefix ahead of each payload.
//
// original_source/lib/libwebsockets.c treats one write() as one
// read()'s worth of payload on its rendezvous sockets, which only
// holds because the fork()ed child connects and reads almost
// immediately after the parent's single write. Go has no such
// coincidence to lean on — a goroutine-based foreign writer and a
// polled loop reader can legitimately coalesce or split TCP segments —
// so broadcast payloads are length-prefixed and reassembled here
// instead. Partial datagrams wait in a plain byte buffer; every
// complete datagram a single read turned up is returned, in order.
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package rendezvous

import (
	"encoding/binary"
	"errors"
)

// FrameHeaderSize is the length of the length-prefix header.
const FrameHeaderSize = 4

// ErrPayloadTooLarge is returned by Feed when a prefixed length exceeds
// the reader's configured maximum.
var ErrPayloadTooLarge = errors.New("rendezvous: payload exceeds maximum broadcast size")

// Encode prepends a 4-byte big-endian length prefix to payload, ready
// for a single Write to the rendezvous socket.
func Encode(payload []byte) []byte {
	out := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[FrameHeaderSize:], payload)
	return out
}

// Reader reassembles length-prefixed datagrams out of a byte stream
// that may split or coalesce writes arbitrarily.
type Reader struct {
	max int
	buf []byte
}

// NewReader builds a Reader that rejects any prefixed length over max.
func NewReader(max int) *Reader {
	return &Reader{max: max}
}

// Feed appends data to the reader's internal buffer and returns every
// complete datagram it can now extract, in order.
func (r *Reader) Feed(data []byte) ([][]byte, error) {
	r.buf = append(r.buf, data...)

	var out [][]byte
	for {
		if len(r.buf) < FrameHeaderSize {
			return out, nil
		}
		length := int(binary.BigEndian.Uint32(r.buf))
		if length > r.max {
			return out, ErrPayloadTooLarge
		}
		total := FrameHeaderSize + length
		if len(r.buf) < total {
			return out, nil
		}
		payload := make([]byte, length)
		copy(payload, r.buf[FrameHeaderSize:total])
		out = append(out, payload)
		r.buf = r.buf[total:]
	}
}
