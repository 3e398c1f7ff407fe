package server

import "github.com/kestrelws/wsreactor/api"

// protocol is the concrete api.Protocol the reactor dispatches
// against; it also carries the per-protocol foreign broadcaster so
// Server.Broadcast can reach the rendezvous socket the loop is
// polling on.
type protocol struct {
	name     string
	index    int
	size     int
	callback api.Callback

	broadcaster *foreignBroadcaster
	rendezvousPort int
}

func (p *protocol) Name() string  { return p.name }
func (p *protocol) Index() int    { return p.index }
func (p *protocol) Size() int     { return p.size }

func (p *protocol) Invoke(conn api.Conn, reason api.Reason, userSpace, payload []byte) {
	p.callback(conn, reason, userSpace, payload)
}

var _ api.Protocol = (*protocol)(nil)
