//go:build linux
// +build linux

package server

import (
	"errors"
	"log"
	"syscall"
	"time"

	"github.com/kestrelws/wsreactor/api"
	"github.com/kestrelws/wsreactor/internal/sock"
	"github.com/kestrelws/wsreactor/internal/transport"
	"github.com/kestrelws/wsreactor/reactor"
)

// Server owns one running event loop plus the foreign-context
// broadcast senders for every registered protocol.
type Server struct {
	cfg        Config
	loop       *reactor.Loop
	protocols  []*protocol
	listenerFd int
}

// CreateServer binds the listener and every protocol's rendezvous
// socket, optionally drops privileges, starts the event loop in its
// own goroutine, and dials the foreign side of each rendezvous
// channel before returning. It does not block for the server's
// lifetime — call Shutdown to stop it.
func CreateServer(cfg Config) (*Server, error) {
	if len(cfg.Protocols) == 0 {
		return nil, api.NewError(api.KindBootstrapFatal, "create_server", errors.New("at least one protocol is required"))
	}

	listenerFd, err := sock.ListenTCP(cfg.Addr, cfg.Port, cfg.Backlog)
	if err != nil {
		return nil, api.NewError(api.KindBootstrapFatal, "listen", err)
	}

	protocols := make([]*protocol, len(cfg.Protocols))
	rendezvousFds := make([]int, len(cfg.Protocols))
	apiProtocols := make([]api.Protocol, len(cfg.Protocols))
	for i, spec := range cfg.Protocols {
		rfd, port, err := sock.ListenLoopback(cfg.RendezvousBacklog)
		if err != nil {
			sock.Close(listenerFd)
			for _, fd := range rendezvousFds[:i] {
				sock.Close(fd)
			}
			return nil, api.NewError(api.KindBootstrapFatal, "rendezvous listen", err)
		}
		rendezvousFds[i] = rfd
		p := &protocol{name: spec.Name, index: i, size: spec.Size, callback: spec.Callback, rendezvousPort: port}
		protocols[i] = p
		apiProtocols[i] = p
	}

	// Privilege drop happens after every privileged bind (the main
	// listener may be on a port < 1024) and before the loop starts
	// accepting connections, mirroring libwebsocket_create_server's
	// setgid/setuid-before-fork sequence.
	if cfg.Gid != 0 {
		if err := syscall.Setgid(cfg.Gid); err != nil {
			return nil, api.NewError(api.KindBootstrapFatal, "setgid", err)
		}
	}
	if cfg.Uid != 0 {
		if err := syscall.Setuid(cfg.Uid); err != nil {
			return nil, api.NewError(api.KindBootstrapFatal, "setuid", err)
		}
	}

	newTransport := func(fd int) (api.Transport, error) {
		if cfg.TLSConfig != nil {
			return transport.NewSecure(fd, cfg.TLSConfig)
		}
		return transport.NewPlain(fd), nil
	}

	loop, err := reactor.NewLoop(listenerFd, rendezvousFds, apiProtocols, reactor.Config{
		MaxClients:          cfg.MaxClients,
		MaxBroadcastPayload: cfg.MaxBroadcastPayload,
		NewTransport:        newTransport,
	})
	if err != nil {
		return nil, err
	}

	srv := &Server{cfg: cfg, loop: loop, protocols: protocols, listenerFd: listenerFd}

	go func() {
		if err := loop.Run(); err != nil {
			log.Printf("wsreactor: event loop exited: %v", err)
		}
	}()

	// A short settle delay before dialing the foreign side of each
	// rendezvous channel, so the loop's first readiness wait has
	// already registered the rendezvous listeners before a connection
	// attempt lands on them. The original forked a child that
	// (eventually) entered its own service loop after the parent's
	// sleep(1); here the loop goroutine is already polling by the time
	// Run is scheduled, so this pause only needs to outlast goroutine
	// startup jitter.
	time.Sleep(50 * time.Millisecond)

	for _, p := range protocols {
		fd, err := sock.DialLoopback(p.rendezvousPort)
		if err != nil {
			srv.Shutdown()
			return nil, api.NewError(api.KindBootstrapFatal, "dial rendezvous", err)
		}
		p.broadcaster = &foreignBroadcaster{fd: fd}
	}

	return srv, nil
}

// Shutdown stops the event loop and closes every foreign-context
// broadcast sender. It does not wait for the loop goroutine to exit.
func (s *Server) Shutdown() error {
	s.loop.Stop()
	for _, p := range s.protocols {
		if p.broadcaster != nil {
			p.broadcaster.close()
		}
	}
	return nil
}

// Broadcast is the foreign-context half of component G: call this
// from any goroutine that is not inside a protocol callback. From
// inside a callback, use api.Conn.Broadcast instead — it fans out
// synchronously in-loop rather than round-tripping through the
// rendezvous socket.
func (s *Server) Broadcast(protocolIndex int, payload []byte) error {
	if protocolIndex < 0 || protocolIndex >= len(s.protocols) {
		return api.ErrInvalidArgument
	}
	p := s.protocols[protocolIndex]
	if p.broadcaster == nil {
		return api.ErrNotEstablished
	}
	return p.broadcaster.send(payload, s.cfg.MaxBroadcastPayload)
}
