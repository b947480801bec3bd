package transport

import (
	crand "crypto/rand"
	"math/rand/v2"
	"time"

	"github.com/1ureka/1ureka.net.vpn/internal/mesh"
	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
	"github.com/1ureka/1ureka.net.vpn/internal/util"
)

// MTU probe state machine parameters.
const (
	// MTUProbeInterval is the probe timer cadence while probing is active.
	MTUProbeInterval = time.Second

	// MTUProbeMaxNoReply aborts probing after this many unanswered attempts.
	MTUProbeMaxNoReply = 10

	// MTUProbeMaxTotal fixes the MTU after this many attempts in total.
	MTUProbeMaxTotal = 30

	// minProbeSize is the smallest probe emitted.
	minProbeSize = 64
)

// SendMTUProbe starts (or continues) MTU probing toward n. The first probe
// round fires synchronously; subsequent rounds run off the peer's timer.
func (d *Datapath) SendMTUProbe(n *mesh.Peer) {
	d.locked(func() { d.mtuProbeHandler(n) })
}

// mtuProbeHandler is one tick of the per-peer probe state machine. It emits
// three randomly sized probes and rearms the timer, unless the machine has
// reached a terminal state.
func (d *Datapath) mtuProbeHandler(n *mesh.Peer) {
	n.MTUProbes++

	if n.MTUProbes >= MTUProbeMaxNoReply && n.MinMTU == 0 {
		util.LogDebug("no response to MTU probes from %s (%s)", n.Name, n.Hostname)
		return
	}

	for i := 0; i < 3; i++ {
		if n.MTUProbes >= MTUProbeMaxTotal || n.MinMTU >= n.MaxMTU {
			n.MTU = n.MinMTU
			util.LogDebug("fixing MTU of %s (%s) to %d after %d probes",
				n.Name, n.Hostname, n.MTU, n.MTUProbes)
			return
		}

		length := n.MinMTU + 1 + rand.IntN(n.MaxMTU-n.MinMTU)
		if length < minProbeSize {
			length = minProbeSize
		}

		var pkt protocol.Packet
		pkt.Len = length
		pkt.Priority = 0
		probe := pkt.Data()
		clear(probe[:protocol.EthernetHeaderSize])
		randomize(probe[protocol.EthernetHeaderSize:])

		util.LogDebug("sending MTU probe length %d to %s (%s)", length, n.Name, n.Hostname)

		d.sendUDPPacket(n, &pkt)
	}

	n.MTUTimer = time.AfterFunc(MTUProbeInterval, func() {
		d.locked(func() { d.mtuProbeHandler(n) })
	})
}

// mtuProbeH handles a received probe. An outbound probe (first payload byte
// zero) is bounced back through the normal dispatch path, so the reply may
// take the control channel if it has to; a reply raises the confirmed
// minimum MTU.
func (d *Datapath) mtuProbeH(n *mesh.Peer, pkt *protocol.Packet, length int) {
	util.LogDebug("got MTU probe length %d from %s (%s)", pkt.Len, n.Name, n.Hostname)

	if pkt.Room()[0] == 0 {
		pkt.Room()[0] = 1
		d.sendPacket(n, pkt)
	} else if n.MinMTU < length {
		n.MinMTU = length
	}
}

func randomize(b []byte) {
	crand.Read(b)
}
