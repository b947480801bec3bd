// Package mesh holds the peer graph records the datapath reads and mutates:
// peers, edges, the replay window, and the address-indexed registry. Graph
// and MST computation happen elsewhere; the datapath only consumes nexthop,
// via and the MST edge flag.
package mesh

import (
	"net"
	"time"

	"github.com/1ureka/1ureka.net.vpn/internal/crypto"
	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
)

// Options are per-peer (or self) behavior bits.
type Options uint32

const (
	// OptionTCPOnly forces all traffic to and from the peer over the
	// control channel.
	OptionTCPOnly Options = 1 << iota

	// OptionPMTUDiscovery gates UDP egress of IP frames until a minimum
	// MTU has been confirmed by probing.
	OptionPMTUDiscovery
)

// ControlLink is the bound control channel of a directly connected peer.
// The datapath only pushes framed packets over it; connection management
// belongs to the control layer.
type ControlLink interface {
	SendPacket(*protocol.Packet) bool
}

// Peer is a logical remote endpoint and the full per-peer datapath state.
// All mutation happens under the owning datapath's lock.
type Peer struct {
	Name     string
	Hostname string // diagnostics only

	// Session state.
	InCipher       *crypto.Cipher
	OutCipher      *crypto.Cipher
	InDigest       *crypto.Digest
	OutDigest      *crypto.Digest
	InCompression  int
	OutCompression int
	ValidKey       bool
	WaitingForKey  bool

	// Sequence state.
	SentSeqno uint32
	Window    Window

	// Current peer UDP socket address.
	Address *net.UDPAddr

	// Routing. NextHop is the directly connected peer used for
	// forwarding; Via is the endpoint at which the packet is
	// re-encrypted. They coincide for direct neighbors.
	NextHop *Peer
	Via     *Peer
	Link    ControlLink

	// MTU state.
	MTU       int
	MinMTU    int
	MaxMTU    int
	MTUProbes int
	MTUTimer  *time.Timer

	Reachable bool
	Options   Options
}

// NewPeer creates a peer with fresh MTU state. Session state stays empty
// until the handshake layer installs key material.
func NewPeer(name, hostname string) *Peer {
	p := &Peer{Name: name, Hostname: hostname}
	p.ResetMTU()
	return p
}

// ResetSession clears all session and sequence state. Called on key
// rotation; the next egress re-requests a key.
func (p *Peer) ResetSession() {
	p.InCipher = nil
	p.OutCipher = nil
	p.InDigest = nil
	p.OutDigest = nil
	p.ValidKey = false
	p.WaitingForKey = false
	p.SentSeqno = 0
	p.Window.Reset()
}

// ResetMTU restores the probe state machine to its starting point. Called
// when the peer becomes reachable.
func (p *Peer) ResetMTU() {
	p.MTU = protocol.MTU
	p.MinMTU = 0
	p.MaxMTU = protocol.MTU
	p.MTUProbes = 0
	if p.MTUTimer != nil {
		p.MTUTimer.Stop()
		p.MTUTimer = nil
	}
}
