// Package wsframe implements the other half of component C: the
// RFC 6455 frame codec. Feed decodes incoming bytes into complete
// application messages (handling continuation-frame reassembly,
// auto-replying to ping, and reporting a peer close without sending a
// close frame back), and EmitFrame encodes an outgoing
// message for Write/Broadcast.
//
// Grounded on protocol/frame_codec.go and protocol/frame.go from the
// teacher; the decode side is reworked from "parse one frame from a
// byte slice" into "feed bytes, reassemble fragments, return decoded
// application messages" to match this connection record's streaming
// Feed contract.
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package wsframe

import (
	"encoding/binary"
	"errors"

	"github.com/kestrelws/wsreactor/internal/conn"
)

const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// MaxFramePayload bounds a single frame's payload to protect against
// resource exhaustion from a malicious length field.
const MaxFramePayload = 1 << 20 // 1 MiB

var (
	ErrFrameTooLarge = errors.New("wsframe: payload exceeds maximum frame size")
	ErrRSVSet        = errors.New("wsframe: reserved bits set without negotiated extension")
)

// Result classifies what Feed produced from the bytes available so
// far.
type Result int

const (
	// ResultNeedMore: no complete application message yet.
	ResultNeedMore Result = iota
	// ResultMessage: message is a complete text/binary application
	// message ready for the RECEIVE callback.
	ResultMessage
	// ResultPeerClose: the peer sent a Close frame; teardown, no
	// RECEIVE callback, no error.
	ResultPeerClose
	// ResultFatal: malformed frame; teardown as FRAMING_FATAL.
	ResultFatal
)

// Feed decodes as many complete frames as are buffered in rec.Scratch,
// auto-handling control frames (ping→pong, close) and reassembling
// fragmented messages, until either a complete application message is
// produced or the buffer is exhausted.
func Feed(rec *conn.Record, data []byte) (Result, []byte, error) {
	rec.Scratch = append(rec.Scratch, data...)

	for {
		f, consumed, err := decodeOne(rec.Scratch)
		if err != nil {
			return ResultFatal, nil, err
		}
		if consumed == 0 {
			return ResultNeedMore, nil, nil
		}
		rec.Scratch = rec.Scratch[consumed:]

		switch f.Opcode {
		case OpPing:
			pong := EmitFrame(OpPong, f.Payload, true)
			if _, err := rec.Transport.Write(pong); err != nil {
				return ResultFatal, nil, err
			}
			continue
		case OpPong:
			continue
		case OpClose:
			return ResultPeerClose, nil, nil
		case OpText, OpBinary:
			if !f.IsFinal {
				rec.FragOpcode = f.Opcode
				rec.FragPayload = append(rec.FragPayload[:0:0], f.Payload...)
				continue
			}
			return ResultMessage, f.Payload, nil
		case OpContinuation:
			if rec.FragOpcode == 0 {
				return ResultFatal, nil, errors.New("wsframe: continuation without initial frame")
			}
			rec.FragPayload = append(rec.FragPayload, f.Payload...)
			if !f.IsFinal {
				continue
			}
			msg := rec.FragPayload
			rec.FragPayload = nil
			rec.FragOpcode = 0
			return ResultMessage, msg, nil
		default:
			// Unknown opcode: ignore per RFC 6455 extensibility rules
			// unless/until an extension is negotiated.
			continue
		}
	}
}

type decoded struct {
	IsFinal bool
	Opcode  byte
	Payload []byte
}

// decodeOne parses a single frame from the front of raw. A return of
// (nil, 0, nil) means the buffer doesn't yet hold a complete frame.
func decodeOne(raw []byte) (*decoded, int, error) {
	if len(raw) < 2 {
		return nil, 0, nil
	}
	if raw[0]&0x70 != 0 {
		return nil, 0, ErrRSVSet
	}
	fin := raw[0]&0x80 != 0
	opcode := raw[0] & 0x0F
	masked := raw[1]&0x80 != 0
	length := int64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, nil
		}
		ulen := binary.BigEndian.Uint64(raw[offset:])
		if ulen > MaxFramePayload {
			return nil, 0, ErrFrameTooLarge
		}
		length = int64(ulen)
		offset += 8
	}
	if length > MaxFramePayload {
		return nil, 0, ErrFrameTooLarge
	}

	var maskKey [4]byte
	if masked {
		if len(raw) < offset+4 {
			return nil, 0, nil
		}
		copy(maskKey[:], raw[offset:offset+4])
		offset += 4
	}

	total := offset + int(length)
	if len(raw) < total {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, raw[offset:total])
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return &decoded{IsFinal: fin, Opcode: opcode, Payload: payload}, total, nil
}

// EmitFrame serializes one unmasked server-to-client frame (RFC 6455
// forbids servers from masking). The returned slice is a fresh
// allocation ready to pass to Transport.Write.
func EmitFrame(opcode byte, payload []byte, fin bool) []byte {
	var b0 byte
	if fin {
		b0 = 0x80
	}
	b0 |= opcode & 0x0F

	plen := len(payload)
	var hdr []byte
	switch {
	case plen <= 125:
		hdr = []byte{b0, byte(plen)}
	case plen <= 0xFFFF:
		hdr = make([]byte, 4)
		hdr[0] = b0
		hdr[1] = 126
		binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
	default:
		hdr = make([]byte, 10)
		hdr[0] = b0
		hdr[1] = 127
		binary.BigEndian.PutUint64(hdr[2:], uint64(plen))
	}
	out := make([]byte, 0, len(hdr)+plen)
	out = append(out, hdr...)
	out = append(out, payload...)
	return out
}
