package server_test

import (
	"testing"

	"github.com/kestrelws/wsreactor/api"
	"github.com/kestrelws/wsreactor/server"
)

func TestNewAppliesOptionsOverDefaults(t *testing.T) {
	cfg := server.New(
		server.WithAddr("127.0.0.1", 9100),
		server.WithMaxClients(64),
		server.WithProtocol(server.ProtocolSpec{Name: "p0", Callback: noop}),
		server.WithProtocol(server.ProtocolSpec{Name: "p1", Callback: noop}),
	)

	if cfg.Addr != "127.0.0.1" || cfg.Port != 9100 {
		t.Fatalf("expected addr override to apply, got %q:%d", cfg.Addr, cfg.Port)
	}
	if cfg.MaxClients != 64 {
		t.Fatalf("expected MaxClients override to apply, got %d", cfg.MaxClients)
	}
	if len(cfg.Protocols) != 2 || cfg.Protocols[0].Name != "p0" || cfg.Protocols[1].Name != "p1" {
		t.Fatalf("expected two protocols registered in order, got %+v", cfg.Protocols)
	}
	if cfg.Backlog == 0 || cfg.MaxBroadcastPayload == 0 {
		t.Fatalf("expected unset fields to keep DefaultConfig values")
	}
}

func noop(api.Conn, api.Reason, []byte, []byte) {}
