// Package app contains the top-level orchestration for a mesh node: it
// wires the TAP device, the UDP sockets, the control channels and the
// datapath together.
package app

import (
	"context"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/blake2s"

	"github.com/1ureka/1ureka.net.vpn/internal/config"
	"github.com/1ureka/1ureka.net.vpn/internal/control"
	"github.com/1ureka/1ureka.net.vpn/internal/crypto"
	"github.com/1ureka/1ureka.net.vpn/internal/mesh"
	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
	"github.com/1ureka/1ureka.net.vpn/internal/transport"
	"github.com/1ureka/1ureka.net.vpn/internal/tunnel"
	"github.com/1ureka/1ureka.net.vpn/internal/util"
)

// PeerConfig describes one remote node of the mesh.
type PeerConfig struct {
	Name        string
	ControlURL  string // empty: wait for the peer to dial us
	UDPAddress  string
	PSK         string // pre-shared session secret
	TCPOnly     bool
	PMTU        bool
	Compression int
}

// RunNode runs a mesh node until ctx is cancelled.
func RunNode(ctx context.Context, cfg *config.Config, peers []PeerConfig, pin string) error {
	// ── 1. Device ──────────────────────────────────────────────────────
	device, err := tunnel.OpenDevice(cfg.InterfaceName)
	if err != nil {
		return err
	}
	defer device.Close()
	if cfg.OverwriteMAC && cfg.MAC == nil {
		cfg.MAC = device.HardwareAddr()
	}

	// ── 2. UDP socket ──────────────────────────────────────────────────
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("bad listen address %q: %w", cfg.ListenAddress, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddress, err)
	}
	defer udpConn.Close()

	// ── 3. Registry and datapath ───────────────────────────────────────
	self := mesh.NewPeer(cfg.Name, "local")
	if cfg.TCPOnly {
		self.Options |= mesh.OptionTCPOnly
	}
	registry := mesh.NewRegistry(self)

	dp := transport.New(cfg, registry, device, transport.NewUDPSocket(udpConn))

	// Switching decisions live outside the datapath. This node floods
	// device frames along the MST and delivers everything that arrives
	// for it to the local device.
	dp.Route = func(from *mesh.Peer, pkt *protocol.Packet) {
		if from == registry.Self {
			dp.BroadcastPacket(from, pkt)
			return
		}
		dp.SendPacket(registry.Self, pkt)
	}
	dp.RegenerateKey = func() {
		util.LogWarning("sequence number ceiling reached, key regeneration required")
	}
	dp.TerminateConnection = func(link mesh.ControlLink, notify bool) {
		if c, ok := link.(*control.Connection); ok && c != nil {
			util.LogWarning("terminating control connection %s to %s", c.ID, c.Peer.Name)
			c.Peer.Reachable = false
			dp.RemoveConnection(c)
			c.Close()
		}
	}
	dp.SendReqKey = func(n *mesh.Peer) {
		util.LogDebug("requesting fresh key for %s", n.Name)
	}

	// ── 4. Control channels ────────────────────────────────────────────
	server := control.NewServer(pin)
	port, err := server.Start(fmt.Sprintf(":%d", cfg.ControlPort))
	if err != nil {
		return err
	}
	defer server.Close()
	util.Logf("control channel on port %d", port)

	for _, pc := range peers {
		peer := mesh.NewPeer(pc.Name, pc.UDPAddress)
		if pc.TCPOnly {
			peer.Options |= mesh.OptionTCPOnly
		}
		if pc.PMTU {
			peer.Options |= mesh.OptionPMTUDiscovery
		}
		peer.NextHop = peer
		peer.Via = peer
		installSessions(peer, pc, cfg)
		if addr, err := net.ResolveUDPAddr("udp", pc.UDPAddress); err == nil {
			registry.UpdateUDP(peer, addr)
			registry.AddEdge(&mesh.Edge{From: self, To: peer, Address: addr, Weight: 10})
		}
		registry.AddPeer(peer)

		if pc.ControlURL != "" {
			go dialPeer(ctx, dp, peer, pc.ControlURL, cfg.Name)
		}
	}

	go acceptPeers(ctx, server, dp)

	// ── 5. Read loops ──────────────────────────────────────────────────
	util.StartStatsReporter(ctx)
	go func() {
		if err := dp.ServeUDP(udpConn); err != nil && ctx.Err() == nil {
			util.LogError("UDP receive loop failed: %v", err)
		}
	}()
	go device.ReadLoop(ctx, func(pkt *protocol.Packet) {
		dp.Route(registry.Self, pkt)
	})

	<-ctx.Done()
	return nil
}

// installSessions derives both session directions from the pre-shared
// secret. A real deployment replaces this with the handshake layer; the
// datapath only consumes the resulting key material.
func installSessions(peer *mesh.Peer, pc PeerConfig, cfg *config.Config) {
	inKey := deriveKey(pc.PSK, pc.Name, cfg.Name)
	outKey := deriveKey(pc.PSK, cfg.Name, pc.Name)
	inSalt := deriveKey(pc.PSK+"/nonce", pc.Name, cfg.Name)
	outSalt := deriveKey(pc.PSK+"/nonce", cfg.Name, pc.Name)

	peer.InCipher, _ = crypto.NewCipher(inKey[:], inSalt[:crypto.NonceSize])
	peer.OutCipher, _ = crypto.NewCipher(outKey[:], outSalt[:crypto.NonceSize])
	peer.InDigest, _ = crypto.NewDigest(inKey[:], 16)
	peer.OutDigest, _ = crypto.NewDigest(outKey[:], 16)
	peer.InCompression = cfg.Compression
	peer.OutCompression = pc.Compression
	peer.ValidKey = true
}

func deriveKey(psk, from, to string) [blake2s.Size]byte {
	return blake2s.Sum256([]byte(psk + "|" + from + ">" + to))
}

// dialPeer establishes an outbound control channel, introduces itself and
// keeps reading it.
func dialPeer(ctx context.Context, dp *transport.Datapath, peer *mesh.Peer, url, localName string) {
	ws, err := control.Dial(ctx, url)
	if err != nil {
		util.LogError("failed to reach %s: %v", peer.Name, err)
		return
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(localName)); err != nil {
		util.LogError("failed to introduce to %s: %v", peer.Name, err)
		ws.Close()
		return
	}
	runConnection(dp, control.NewConnection(ws, peer))
}

// acceptPeers admits inbound control channels. The first frame on a fresh
// channel names the peer; everything after is packet traffic.
func acceptPeers(ctx context.Context, server *control.Server, dp *transport.Datapath) {
	for {
		ws, err := server.Accept(ctx)
		if err != nil {
			return
		}
		_, hello, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			continue
		}
		peer := dp.Registry().Peer(string(hello))
		if peer == nil || peer == dp.Registry().Self {
			util.LogWarning("control connection from unknown peer %q rejected", hello)
			ws.Close()
			continue
		}
		go runConnection(dp, control.NewConnection(ws, peer))
	}
}

// runConnection activates a control channel, marks the peer reachable and
// pumps inbound packets into the datapath until the channel breaks.
func runConnection(dp *transport.Datapath, c *control.Connection) {
	c.Active = true
	// With every node directly connected, each link is trivially part of
	// the minimum spanning tree. A graph layer refines this in bigger
	// meshes.
	c.MST = true
	c.TCPOnly = c.Peer.Options&mesh.OptionTCPOnly != 0
	c.Peer.Link = c
	c.Peer.Reachable = true
	c.Peer.ResetMTU()
	dp.AddConnection(c)

	util.Logf("peer %s is reachable", c.Peer.Name)

	if c.Peer.Options&mesh.OptionPMTUDiscovery != 0 {
		dp.SendMTUProbe(c.Peer)
	}

	err := c.ReadLoop(dp.ReceiveTCPPacket)
	util.LogDebug("control channel to %s closed: %v", c.Peer.Name, err)
	c.Peer.Reachable = false
	dp.RemoveConnection(c)
	c.Close()
}
