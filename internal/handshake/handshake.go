// Package handshake implements half of component C, the handshake
// engine: an incremental HTTP upgrade parser that resumes across
// however many Feed calls it takes for headers to arrive, validates
// the upgrade per RFC 6455, and writes the 101 response.
//
// Grounded on protocol/handshake.go (DoHandshakeCore) from the
// teacher, reworked from "read one http.Request via bufio in a single
// blocking call" into a line-at-a-time scanner over a resumable
// scratch buffer, since the reactor hands it whatever a single
// nonblocking Read returned rather than a whole-request blocking
// reader.
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package handshake

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/kestrelws/wsreactor/api"
	"github.com/kestrelws/wsreactor/internal/conn"
)

const (
	webSocketGUID           = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	maxHandshakeHeadersSize = 8192
	requiredWebSocketVer    = "13"
)

var (
	ErrHeadersTooLarge     = errors.New("handshake: headers exceed maximum size")
	ErrInvalidUpgrade      = errors.New("handshake: invalid or missing upgrade headers")
	ErrBadWebSocketVersion = errors.New("handshake: unsupported Sec-WebSocket-Version")
	ErrMissingKey          = errors.New("handshake: missing Sec-WebSocket-Key")
	ErrMalformedRequest    = errors.New("handshake: malformed request line")
)

// Result classifies what Feed accomplished this call, replacing the
// original's negative/zero/positive integer encoding with a closed
// Go type per the Design Notes.
type Result int

const (
	// ResultNeedMore means headers are incomplete; call Feed again
	// when more bytes arrive.
	ResultNeedMore Result = iota
	// ResultEstablished means the upgrade succeeded, the 101 response
	// has been written, and rec has transitioned to StateEstablished
	// with Protocol/UserSpace already set. The caller must invoke the
	// ESTABLISHED callback.
	ResultEstablished
	// ResultHTTPRequest means a complete, non-upgrade HTTP request was
	// parsed. rec.Tokens[conn.TokRequestLine] holds the request URI.
	// The caller invokes the HTTP reason callback on protocols[0] and
	// then tears the connection down; this engine does not serve
	// files itself (see internal/httpfile for that external piece).
	ResultHTTPRequest
	// ResultFatal means the request could not be parsed or validated;
	// the caller must teardown the connection. The error is logged,
	// never propagated past the loop.
	ResultFatal
)

// Feed consumes data appended to rec's scratch buffer, advancing the
// incremental parse. protocols is the full protocol table (index 0 is
// the default/HTTP handler). On upgrade, the selected protocol's Size()
// decides the length of the zeroed UserSpace blob (none when 0).
func Feed(rec *conn.Record, data []byte, protocols []api.Protocol) (Result, error) {
	if len(rec.Scratch)+len(data) > maxHandshakeHeadersSize {
		return ResultFatal, ErrHeadersTooLarge
	}
	rec.Scratch = append(rec.Scratch, data...)
	rec.NameBufferPos = len(rec.Scratch)

	end := bytes.Index(rec.Scratch, []byte("\r\n\r\n"))
	if end < 0 {
		return ResultNeedMore, nil
	}

	headerBlock := rec.Scratch[:end]
	lines := strings.Split(string(headerBlock), "\r\n")
	if len(lines) == 0 {
		return ResultFatal, ErrMalformedRequest
	}

	requestLine := lines[0]
	uri, ferr := parseRequestLine(requestLine)
	if ferr != nil {
		return ResultFatal, ferr
	}
	rec.Tokens[conn.TokRequestLine] = []byte(uri)

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			continue
		}
		assignToken(rec, name, value)
	}

	// Consumed bytes belonging to this request are dropped; anything
	// after the blank line (e.g. the start of a WebSocket frame sent
	// eagerly) is preserved for the next stage.
	consumedLen := end + len("\r\n\r\n")
	leftover := append([]byte(nil), rec.Scratch[consumedLen:]...)

	if !isUpgradeRequest(rec) {
		rec.Scratch = leftover
		rec.NameBufferPos = len(rec.Scratch)
		return ResultHTTPRequest, nil
	}

	if err := validateUpgrade(rec); err != nil {
		return ResultFatal, err
	}

	accept := computeAccept(string(rec.Tokens[conn.TokSecWebSocketKey]))
	if err := writeResponse(rec, accept); err != nil {
		return ResultFatal, fmt.Errorf("write handshake response: %w", err)
	}

	proto := selectProtocol(rec, protocols)
	var userSpace []byte
	if proto.Size() > 0 {
		userSpace = make([]byte, proto.Size())
	}
	rec.MarkEstablished(proto, userSpace)
	rec.Scratch = leftover
	rec.NameBufferPos = len(rec.Scratch)
	return ResultEstablished, nil
}

func parseRequestLine(line string) (uri string, err error) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", ErrMalformedRequest
	}
	return parts[1], nil
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func assignToken(rec *conn.Record, name, value string) {
	switch strings.ToLower(name) {
	case "host":
		rec.Tokens[conn.TokHost] = []byte(value)
	case "connection":
		rec.Tokens[conn.TokConnection] = []byte(value)
	case "upgrade":
		rec.Tokens[conn.TokUpgrade] = []byte(value)
	case "sec-websocket-key":
		rec.Tokens[conn.TokSecWebSocketKey] = []byte(value)
	case "sec-websocket-version":
		rec.Tokens[conn.TokSecWebSocketVersion] = []byte(value)
	case "sec-websocket-protocol":
		rec.Tokens[conn.TokSecWebSocketProtocol] = []byte(value)
	case "origin":
		rec.Tokens[conn.TokOrigin] = []byte(value)
	}
}

func isUpgradeRequest(rec *conn.Record) bool {
	return containsToken(rec.Tokens[conn.TokConnection], "upgrade") &&
		containsToken(rec.Tokens[conn.TokUpgrade], "websocket")
}

func validateUpgrade(rec *conn.Record) error {
	if !isUpgradeRequest(rec) {
		return ErrInvalidUpgrade
	}
	if string(rec.Tokens[conn.TokSecWebSocketVersion]) != requiredWebSocketVer {
		return ErrBadWebSocketVersion
	}
	if len(rec.Tokens[conn.TokSecWebSocketKey]) == 0 {
		return ErrMissingKey
	}
	return nil
}

func containsToken(header []byte, token string) bool {
	if header == nil {
		return false
	}
	token = strings.ToLower(token)
	for _, part := range strings.Split(string(header), ",") {
		if strings.ToLower(strings.TrimSpace(part)) == token {
			return true
		}
	}
	return false
}

func computeAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key + webSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func writeResponse(rec *conn.Record, accept string) error {
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n"
	if proto := rec.Tokens[conn.TokSecWebSocketProtocol]; len(proto) > 0 {
		resp += "Sec-WebSocket-Protocol: " + firstToken(string(proto)) + "\r\n"
	}
	resp += "\r\n"
	_, err := rec.Transport.Write([]byte(resp))
	return err
}

func firstToken(csv string) string {
	parts := strings.Split(csv, ",")
	return strings.TrimSpace(parts[0])
}

// selectProtocol matches the client's requested Sec-WebSocket-Protocol
// against the table by name, falling back to protocols[0] — the same
// "unestablished connections point at the table head" default the
// data model describes, now resolved to an actual choice at handshake
// completion instead of staying a sentinel forever.
func selectProtocol(rec *conn.Record, protocols []api.Protocol) api.Protocol {
	if len(protocols) == 0 {
		return nil
	}
	requested := string(rec.Tokens[conn.TokSecWebSocketProtocol])
	if requested == "" {
		return protocols[0]
	}
	for _, want := range strings.Split(requested, ",") {
		want = strings.TrimSpace(want)
		for _, p := range protocols {
			if p.Name() == want {
				return p
			}
		}
	}
	return protocols[0]
}
