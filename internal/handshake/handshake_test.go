package handshake_test

import (
	"strings"
	"testing"

	"github.com/kestrelws/wsreactor/api"
	"github.com/kestrelws/wsreactor/internal/conn"
	"github.com/kestrelws/wsreactor/internal/handshake"
)

type fakeTransport struct {
	written []byte
}

func (f *fakeTransport) Read(buf []byte) (int, error) { return 0, nil }
func (f *fakeTransport) Write(buf []byte) (int, error) {
	f.written = append(f.written, buf...)
	return len(buf), nil
}
func (f *fakeTransport) Shutdown() error { return nil }
func (f *fakeTransport) Close() error    { return nil }
func (f *fakeTransport) Fd() int         { return -1 }

var _ api.Transport = (*fakeTransport)(nil)

type fakeProtocol struct {
	name string
}

func (p *fakeProtocol) Name() string  { return p.name }
func (p *fakeProtocol) Index() int    { return 0 }
func (p *fakeProtocol) Size() int     { return 0 }
func (p *fakeProtocol) Invoke(api.Conn, api.Reason, []byte, []byte) {}

const validUpgrade = "GET /chat HTTP/1.1\r\n" +
	"Host: example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

func TestFeedEstablishesOnCompleteUpgrade(t *testing.T) {
	tr := &fakeTransport{}
	rec := conn.New(tr)
	protocols := []api.Protocol{&fakeProtocol{name: "chat"}}

	result, err := handshake.Feed(rec, []byte(validUpgrade), protocols)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != handshake.ResultEstablished {
		t.Fatalf("expected ResultEstablished, got %v", result)
	}
	if rec.State != conn.StateEstablished {
		t.Fatalf("expected record state ESTABLISHED, got %v", rec.State)
	}
	if rec.Protocol == nil || rec.Protocol.Name() != "chat" {
		t.Fatalf("expected protocol 'chat' selected")
	}
	if !strings.Contains(string(tr.written), "101 Switching Protocols") {
		t.Fatalf("expected a 101 response, got %q", tr.written)
	}
}

func TestFeedNeedsMoreOnPartialHeaders(t *testing.T) {
	rec := conn.New(&fakeTransport{})
	protocols := []api.Protocol{&fakeProtocol{name: "chat"}}

	result, err := handshake.Feed(rec, []byte("GET /chat HTTP/1.1\r\nHost: example"), protocols)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != handshake.ResultNeedMore {
		t.Fatalf("expected ResultNeedMore, got %v", result)
	}
}

func TestFeedAcrossTwoCalls(t *testing.T) {
	rec := conn.New(&fakeTransport{})
	protocols := []api.Protocol{&fakeProtocol{name: "chat"}}

	split := len(validUpgrade) / 2
	result, err := handshake.Feed(rec, []byte(validUpgrade[:split]), protocols)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != handshake.ResultNeedMore {
		t.Fatalf("expected ResultNeedMore after partial feed, got %v", result)
	}

	result, err = handshake.Feed(rec, []byte(validUpgrade[split:]), protocols)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != handshake.ResultEstablished {
		t.Fatalf("expected ResultEstablished after full headers arrive, got %v", result)
	}
}

func TestFeedNonUpgradeRequestIsHTTPResult(t *testing.T) {
	rec := conn.New(&fakeTransport{})
	protocols := []api.Protocol{&fakeProtocol{name: "chat"}}
	req := "GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n"

	result, err := handshake.Feed(rec, []byte(req), protocols)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != handshake.ResultHTTPRequest {
		t.Fatalf("expected ResultHTTPRequest, got %v", result)
	}
	if string(rec.Tokens[conn.TokRequestLine]) != "/index.html" {
		t.Fatalf("expected request line token %q, got %q", "/index.html", rec.Tokens[conn.TokRequestLine])
	}
}

func TestFeedRejectsBadVersion(t *testing.T) {
	rec := conn.New(&fakeTransport{})
	protocols := []api.Protocol{&fakeProtocol{name: "chat"}}
	req := strings.Replace(validUpgrade, "Sec-WebSocket-Version: 13", "Sec-WebSocket-Version: 8", 1)

	result, err := handshake.Feed(rec, []byte(req), protocols)
	if result != handshake.ResultFatal {
		t.Fatalf("expected ResultFatal for bad version, got %v", result)
	}
	if err != handshake.ErrBadWebSocketVersion {
		t.Fatalf("expected ErrBadWebSocketVersion, got %v", err)
	}
}
