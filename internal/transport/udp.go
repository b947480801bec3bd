package transport

import (
	"encoding/binary"
	"errors"
	"net"

	"golang.org/x/sys/unix"

	"github.com/1ureka/1ureka.net.vpn/internal/control"
	"github.com/1ureka/1ureka.net.vpn/internal/mesh"
	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
	"github.com/1ureka/1ureka.net.vpn/internal/util"
)

// sendUDPPacket runs the egress pipeline: compress, sequence, encrypt, MAC,
// send. Each transforming stage writes into its own scratch buffer, so two
// scratch packets suffice regardless of which stages are active. The caller
// sees origpkt unchanged apart from the seqno field.
func (d *Datapath) sendUDPPacket(n *mesh.Peer, origpkt *protocol.Packet) {
	var pkt1, pkt2 protocol.Packet

	// Without a valid key the packet cannot go out over UDP; ask for one
	// and push the frame over the control channel meanwhile.
	if !n.ValidKey {
		util.LogDebug("no valid key known yet for %s (%s), forwarding via control channel",
			n.Name, n.Hostname)
		if !n.WaitingForKey {
			d.SendReqKey(n)
		}
		n.WaitingForKey = true
		if n.NextHop.Link != nil {
			n.NextHop.Link.SendPacket(origpkt)
		}
		return
	}

	// IP frames stay off UDP until probing has confirmed a minimum MTU.
	if n.Options&mesh.OptionPMTUDiscovery != 0 && n.MinMTU == 0 && !origpkt.IsProbe() {
		util.LogDebug("no minimum MTU established yet for %s (%s), forwarding via control channel",
			n.Name, n.Hostname)
		if n.NextHop.Link != nil {
			n.NextHop.Link.SendPacket(origpkt)
		}
		return
	}

	origlen := origpkt.Len
	origpriority := origpkt.Priority

	inpkt := origpkt
	if n.OutCompression != protocol.CompressionNone {
		m, err := protocol.Compress(pkt1.Room(), inpkt.Data(), n.OutCompression)
		if err != nil {
			util.LogError("error while compressing packet to %s (%s): %v", n.Name, n.Hostname, err)
			return
		}
		pkt1.Len = m
		inpkt = &pkt1
	}

	n.SentSeqno++
	inpkt.SetSeqno(n.SentSeqno)

	if n.OutCipher.Active() {
		if err := n.OutCipher.Encrypt(pkt2.Room()[:inpkt.Len], inpkt.Data(), n.SentSeqno); err != nil {
			util.LogError("error while encrypting packet to %s (%s): %v", n.Name, n.Hostname, err)
			origpkt.Len = origlen
			return
		}
		pkt2.SetSeqno(n.SentSeqno)
		pkt2.Len = inpkt.Len
		inpkt = &pkt2
	}

	wirelen := protocol.SeqnoSize + inpkt.Len
	if n.OutDigest.Active() {
		maclen := n.OutDigest.Length()
		tag := inpkt.Buffer()[wirelen : wirelen+maclen]
		if err := n.OutDigest.Create(inpkt.Buffer()[:wirelen], tag); err != nil {
			util.LogError("error while authenticating packet to %s (%s): %v", n.Name, n.Hostname, err)
			origpkt.Len = origlen
			return
		}
		wirelen += maclen
	}

	sock := d.socketFor(n.Address)

	if d.cfg.PriorityInheritance && sock.IsIPv4() && origpriority != sock.TOS() {
		util.LogDebug("setting outgoing packet priority to %d", origpriority)
		if err := sock.SetTOS(origpriority); err != nil {
			util.LogError("setsockopt failed: %v", err)
		}
	}

	if _, err := sock.WriteToUDP(inpkt.Buffer()[:wirelen], n.Address); err != nil {
		if errors.Is(err, unix.EMSGSIZE) {
			// The path rejected this size; remember it as an upper bound.
			if n.MaxMTU >= origlen {
				n.MaxMTU = origlen - 1
			}
			if n.MTU >= origlen {
				n.MTU = origlen - 1
			}
		} else {
			util.LogError("error sending packet to %s (%s): %v", n.Name, n.Hostname, err)
		}
	} else {
		util.Stats.AddSent(wirelen)
	}

	origpkt.Len = origlen
}

// receiveUDPPacket runs the ingress pipeline on an attributed raw datagram:
// MAC verification on the ciphertext first, then decrypt, replay test,
// decompress and demux. Probe traffic is consumed here; a routable frame is
// returned to the caller, which must deliver it after releasing the lock so
// the routing layer can re-enter the datapath.
func (d *Datapath) receiveUDPPacket(n *mesh.Peer, wire []byte) (*protocol.Packet, bool) {
	var pkt1, pkt2 protocol.Packet

	if !n.InCipher.Active() {
		util.LogDebug("got packet from %s (%s) but we do not have a key yet", n.Name, n.Hostname)
		return nil, false
	}

	if len(wire) < protocol.SeqnoSize+n.InDigest.Length() {
		util.LogDebug("got too short packet from %s (%s)", n.Name, n.Hostname)
		return nil, false
	}

	if n.InDigest.Active() {
		maclen := n.InDigest.Length()
		body, tag := wire[:len(wire)-maclen], wire[len(wire)-maclen:]
		if !n.InDigest.Verify(body, tag) {
			util.LogDebug("got unauthenticated packet from %s (%s)", n.Name, n.Hostname)
			util.Stats.AddDrop()
			return nil, false
		}
		wire = body
	}

	seqno := binary.BigEndian.Uint32(wire[:protocol.SeqnoSize])

	work := &pkt1
	if err := n.InCipher.Decrypt(work.Room()[:len(wire)-protocol.SeqnoSize], wire[protocol.SeqnoSize:], seqno); err != nil {
		util.LogDebug("error decrypting packet from %s (%s): %v", n.Name, n.Hostname, err)
		return nil, false
	}
	work.SetSeqno(seqno)
	work.Len = len(wire) - protocol.SeqnoSize

	ok, lost := n.Window.Accept(seqno)
	if lost > 0 {
		util.LogWarning("lost %d packets from %s (%s)", lost, n.Name, n.Hostname)
	}
	if !ok {
		util.LogWarning("got late or replayed packet from %s (%s), seqno %d, last received %d",
			n.Name, n.Hostname, seqno, n.Window.ReceivedSeqno)
		util.Stats.AddDrop()
		return nil, false
	}

	if n.Window.ReceivedSeqno > protocol.MaxSeqno {
		d.RegenerateKey()
	}

	origlen := work.Len
	if n.InCompression != protocol.CompressionNone {
		m, err := protocol.Decompress(pkt2.Room(), work.Data(), n.InCompression)
		if err != nil {
			util.LogError("error while uncompressing packet from %s (%s): %v", n.Name, n.Hostname, err)
			return nil, false
		}
		pkt2.Len = m
		work = &pkt2
		origlen -= protocol.CompressionOverhead
	}

	work.Priority = 0

	if work.IsProbe() {
		d.mtuProbeH(n, work, origlen)
		return nil, false
	}
	return work, true
}

// receivePacket hands a fully validated frame to the routing layer. The
// datapath lock must not be held: route() may re-enter SendPacket or
// BroadcastPacket.
func (d *Datapath) receivePacket(n *mesh.Peer, pkt *protocol.Packet) {
	util.LogDebug("received packet of %d bytes from %s (%s)", pkt.Len, n.Name, n.Hostname)
	util.Stats.AddRecv(pkt.Len)
	d.Route(n, pkt)
}

// ReceiveUDPPacket runs the ingress pipeline for a datagram already
// attributed to peer n and delivers the resulting frame.
func (d *Datapath) ReceiveUDPPacket(n *mesh.Peer, datagram []byte) {
	var pkt *protocol.Packet
	var deliver bool
	d.locked(func() { pkt, deliver = d.receiveUDPPacket(n, datagram) })

	if deliver {
		d.receivePacket(n, pkt)
	}
}

// HandleIncomingData attributes a raw UDP datagram to a peer and runs the
// ingress pipeline on it.
func (d *Datapath) HandleIncomingData(datagram []byte, from *net.UDPAddr) {
	var pkt *protocol.Packet
	var deliver bool
	var n *mesh.Peer
	d.locked(func() {
		n = d.registry.LookupUDP(from)
		if n == nil {
			n = d.tryHarder(from, datagram)
			if n == nil {
				util.LogWarning("received UDP packet from unknown source %s", from)
				util.Stats.AddDrop()
				return
			}
			d.registry.UpdateUDP(n, from)
		}
		pkt, deliver = d.receiveUDPPacket(n, datagram)
	})

	if deliver {
		d.receivePacket(n, pkt)
	}
}

// ServeUDP drives the datapath from a listening socket until reading fails.
func (d *Datapath) ServeUDP(conn *net.UDPConn) error {
	buf := make([]byte, protocol.SeqnoSize+protocol.MaxSize)
	for {
		m, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		d.HandleIncomingData(buf[:m], from)
	}
}

// ReceiveTCPPacket delivers a packet that arrived framed on a control
// channel. A packet from a mixed-transport connection is marked with
// priority −1 so it will not leave the control channel before delivery.
// No lock is taken: the frame is already validated by the channel, and
// delivery re-enters the datapath on its own.
func (d *Datapath) ReceiveTCPPacket(c *control.Connection, data []byte) {
	var pkt protocol.Packet
	pkt.SetData(data)
	if c.TCPOnly {
		pkt.Priority = 0
	} else {
		pkt.Priority = -1
	}
	d.receivePacket(c.Peer, &pkt)
}
