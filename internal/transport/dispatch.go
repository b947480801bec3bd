package transport

import (
	"github.com/1ureka/1ureka.net.vpn/internal/mesh"
	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
	"github.com/1ureka/1ureka.net.vpn/internal/util"
)

// SendPacket delivers a frame to peer n, choosing between local device
// delivery, the UDP pipeline and the control channel.
func (d *Datapath) SendPacket(n *mesh.Peer, pkt *protocol.Packet) {
	d.locked(func() { d.sendPacket(n, pkt) })
}

func (d *Datapath) sendPacket(n *mesh.Peer, pkt *protocol.Packet) {
	if n == d.registry.Self {
		if d.cfg.OverwriteMAC && len(d.cfg.MAC) == 6 && pkt.Len >= len(d.cfg.MAC) {
			copy(pkt.Room(), d.cfg.MAC)
		}
		if err := d.device.WritePacket(pkt); err != nil {
			util.LogError("error writing packet to device: %v", err)
		}
		return
	}

	util.LogDebug("sending packet of %d bytes to %s (%s)", pkt.Len, n.Name, n.Hostname)

	if !n.Reachable {
		util.LogDebug("node %s (%s) is not reachable", n.Name, n.Hostname)
		return
	}

	via := n.Via
	if pkt.Priority == -1 || n.Via == d.registry.Self {
		via = n.NextHop
	}
	if via != n {
		util.LogDebug("sending packet to %s via %s (%s)", n.Name, via.Name, via.Hostname)
	}

	selfTCPOnly := d.cfg.TCPOnly
	if pkt.Priority == -1 || selfTCPOnly || via.Options&mesh.OptionTCPOnly != 0 {
		if via.Link == nil || !via.Link.SendPacket(pkt) {
			d.failLink(via.Link)
		}
		return
	}

	d.sendUDPPacket(via, pkt)
}

// BroadcastPacket floods a frame along the minimum spanning tree. The local
// device always gets a copy of packets that originate elsewhere; the MST
// walk skips the connection the packet arrived on, so a broadcast is never
// reflected to its forwarder.
func (d *Datapath) BroadcastPacket(from *mesh.Peer, pkt *protocol.Packet) {
	d.locked(func() { d.broadcastPacket(from, pkt) })
}

func (d *Datapath) broadcastPacket(from *mesh.Peer, pkt *protocol.Packet) {
	util.LogDebug("broadcasting packet of %d bytes from %s (%s)", pkt.Len, from.Name, from.Hostname)

	if from != d.registry.Self {
		d.sendPacket(d.registry.Self, pkt)

		// In tunnel server mode the MST of other nodes may not be
		// trustworthy; deliver locally but do not relay.
		if d.cfg.TunnelServer {
			return
		}
	}

	for _, c := range d.connections {
		if c.Active && c.MST && from.NextHop.Link != mesh.ControlLink(c) {
			d.sendPacket(c.Peer, pkt)
		}
	}
}
