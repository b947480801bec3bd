package transport

import (
	"net"

	"github.com/1ureka/1ureka.net.vpn/internal/mesh"
	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
)

// tryMAC probes whether wire authenticates under n's inbound digest,
// without any side effects on session state.
func tryMAC(n *mesh.Peer, wire []byte) bool {
	if !n.InDigest.Active() {
		return false
	}
	maclen := n.InDigest.Length()
	if len(wire) < protocol.SeqnoSize+maclen {
		return false
	}
	return n.InDigest.Verify(wire[:len(wire)-maclen], wire[len(wire)-maclen:])
}

// tryHarder resolves a datagram whose source address is not in the address
// index: walk the edges whose address matches ignoring the port, and adopt
// the first destination peer whose key verifies the MAC of this very
// packet. Returns nil when no edge authenticates the packet.
func (d *Datapath) tryHarder(from *net.UDPAddr, wire []byte) *mesh.Peer {
	for _, e := range d.registry.Edges() {
		if !mesh.AddrEqualNoPort(from, e.Address) {
			continue
		}
		if tryMAC(e.To, wire) {
			return e.To
		}
	}
	return nil
}
