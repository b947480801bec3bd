// Package transport is the VPN packet datapath: it encapsulates,
// authenticates, compresses, sequences, routes and delivers Ethernet frames
// between the local device and remote peers over UDP, with the control
// channel as fallback.
package transport

import (
	"net"
	"sync"

	"github.com/1ureka/1ureka.net.vpn/internal/config"
	"github.com/1ureka/1ureka.net.vpn/internal/control"
	"github.com/1ureka/1ureka.net.vpn/internal/mesh"
	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
	"github.com/1ureka/1ureka.net.vpn/internal/util"
)

// Device is the TUN/TAP side of the datapath.
type Device interface {
	WritePacket(*protocol.Packet) error
}

// UDPSocket is one listening UDP socket. The datapath picks the socket whose
// family matches the peer address and remembers the last TOS applied to it.
type UDPSocket interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	IsIPv4() bool
	// TOS returns the last traffic class applied to the socket.
	TOS() int
	// SetTOS applies a traffic class and remembers it.
	SetTOS(tos int) error
}

// Datapath carries all process-wide datapath state and the collaborator
// delegates. Every external entry point takes the lock; peers, the registry
// and the connection list are only touched under it.
type Datapath struct {
	mu sync.Mutex

	cfg      *config.Config
	registry *mesh.Registry
	sockets  []UDPSocket
	device   Device

	connections []*control.Connection
	pendingTerm []mesh.ControlLink

	// Collaborator delegates.
	Route               func(*mesh.Peer, *protocol.Packet)
	RegenerateKey       func()
	SendReqKey          func(*mesh.Peer)
	TerminateConnection func(link mesh.ControlLink, notify bool)
}

// New creates a datapath over the given registry, device and listening
// sockets. The collaborator delegates default to no-ops so a partially
// wired datapath is still safe to drive.
func New(cfg *config.Config, registry *mesh.Registry, device Device, sockets ...UDPSocket) *Datapath {
	return &Datapath{
		cfg:                 cfg,
		registry:            registry,
		device:              device,
		sockets:             sockets,
		Route:               func(*mesh.Peer, *protocol.Packet) {},
		RegenerateKey:       func() {},
		SendReqKey:          func(*mesh.Peer) {},
		TerminateConnection: func(mesh.ControlLink, bool) {},
	}
}

// locked runs fn under the datapath lock, then terminates any control
// links fn marked broken. The delegate runs after the lock is released so
// its implementation is free to re-enter the datapath (RemoveConnection,
// SendPacket, …) without deadlocking.
func (d *Datapath) locked(fn func()) {
	d.mu.Lock()
	fn()
	pending := d.pendingTerm
	d.pendingTerm = nil
	d.mu.Unlock()

	for _, link := range pending {
		d.TerminateConnection(link, true)
	}
}

// failLink marks a control link broken. The entry point that owns the lock
// terminates it after unlocking.
func (d *Datapath) failLink(link mesh.ControlLink) {
	d.pendingTerm = append(d.pendingTerm, link)
}

// Registry exposes the peer graph index.
func (d *Datapath) Registry() *mesh.Registry {
	return d.registry
}

// AddConnection registers an established control channel with the datapath
// so broadcasts can walk it.
func (d *Datapath) AddConnection(c *control.Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connections = append(d.connections, c)
}

// RemoveConnection drops a control channel from the broadcast walk.
func (d *Datapath) RemoveConnection(c *control.Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, have := range d.connections {
		if have == c {
			d.connections = append(d.connections[:i], d.connections[i+1:]...)
			return
		}
	}
}

// socketFor chooses the first listening socket whose family matches addr,
// or the first socket when none matches.
func (d *Datapath) socketFor(addr *net.UDPAddr) UDPSocket {
	want4 := addr.IP.To4() != nil
	for _, s := range d.sockets {
		if s.IsIPv4() == want4 {
			return s
		}
	}
	util.LogDebug("no listening socket matches family of %s, using the first", addr)
	return d.sockets[0]
}
