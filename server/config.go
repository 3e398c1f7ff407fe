// Package server implements component H, the bootstrap/facade layer:
// turning a caller's protocol table and listen configuration into a
// running event loop, including privilege drop and per-protocol
// broadcast rendezvous wiring.
//
// Grounded on the teacher's server/options.go for the functional
// options shape, and on original_source/lib/libwebsockets.c's
// libwebsocket_create_server for the bootstrap sequence itself (bind,
// drop privileges, create rendezvous sockets, enter the service loop).
//
// Author: kestrel <kestrel@wsreactor.dev>
// License: Apache-2.0
package server

import (
	"crypto/tls"

	"github.com/kestrelws/wsreactor/api"
)

// ProtocolSpec is the caller-facing protocol declaration; CreateServer
// turns each of these into a table entry with its own index and
// broadcast rendezvous channel.
type ProtocolSpec struct {
	Name string
	// Size is the per-connection UserSpace blob size; 0 means none.
	Size     int
	Callback api.Callback
}

// Config bundles everything CreateServer needs. Use DefaultConfig and
// the With* options rather than constructing this directly, so future
// fields get sane zero-equivalent defaults.
type Config struct {
	Addr    string // "" means ANY
	Port    int
	Backlog int

	MaxClients          int
	MaxBroadcastPayload int
	RendezvousBacklog   int

	Protocols []ProtocolSpec

	// TLSConfig, if non-nil, makes every accepted connection go
	// through component A's Secure transport instead of Plain.
	TLSConfig *tls.Config

	// Gid/Uid, if non-zero, are applied via setgid/setuid immediately
	// after the listener and rendezvous sockets are bound, mirroring
	// the original's privilege-drop-after-bind sequence for servers
	// started as root to bind a low port.
	Gid int
	Uid int
}

// DefaultConfig returns a Config with the library's documented
// defaults; callers override via ServerOption.
func DefaultConfig() Config {
	return Config{
		Port:                8080,
		Backlog:             128,
		MaxClients:          api.DefaultMaxClients,
		MaxBroadcastPayload: api.DefaultMaxBroadcastPayload,
		RendezvousBacklog:   1,
	}
}

// ServerOption mutates a Config under construction.
type ServerOption func(*Config)

func WithAddr(addr string, port int) ServerOption {
	return func(c *Config) { c.Addr = addr; c.Port = port }
}

func WithBacklog(n int) ServerOption {
	return func(c *Config) { c.Backlog = n }
}

func WithMaxClients(n int) ServerOption {
	return func(c *Config) { c.MaxClients = n }
}

func WithMaxBroadcastPayload(n int) ServerOption {
	return func(c *Config) { c.MaxBroadcastPayload = n }
}

func WithTLSConfig(cfg *tls.Config) ServerOption {
	return func(c *Config) { c.TLSConfig = cfg }
}

func WithPrivilegeDrop(uid, gid int) ServerOption {
	return func(c *Config) { c.Uid = uid; c.Gid = gid }
}

// WithProtocol appends one protocol to the table; index is assigned
// by position, so registration order is significant — protocol 0 is
// also the one ReasonHTTP fires on.
func WithProtocol(spec ProtocolSpec) ServerOption {
	return func(c *Config) { c.Protocols = append(c.Protocols, spec) }
}

// New applies opts over DefaultConfig.
func New(opts ...ServerOption) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
