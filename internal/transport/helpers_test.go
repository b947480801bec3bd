package transport

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/1ureka/1ureka.net.vpn/internal/config"
	"github.com/1ureka/1ureka.net.vpn/internal/crypto"
	"github.com/1ureka/1ureka.net.vpn/internal/mesh"
	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
)

// fakeSocket records every datagram the egress pipeline emits.
type fakeSocket struct {
	ipv4     bool
	writes   [][]byte
	addrs    []*net.UDPAddr
	tos      int
	tosCalls int
	err      error
}

func (s *fakeSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.writes = append(s.writes, bytes.Clone(b))
	s.addrs = append(s.addrs, addr)
	return len(b), nil
}

func (s *fakeSocket) IsIPv4() bool { return s.ipv4 }
func (s *fakeSocket) TOS() int     { return s.tos }

func (s *fakeSocket) SetTOS(tos int) error {
	s.tos = tos
	s.tosCalls++
	return nil
}

// fakeDevice records frames delivered to the local device.
type fakeDevice struct {
	frames [][]byte
}

func (d *fakeDevice) WritePacket(p *protocol.Packet) error {
	d.frames = append(d.frames, bytes.Clone(p.Data()))
	return nil
}

// fakeLink records frames pushed over a control channel.
type fakeLink struct {
	sent [][]byte
	fail bool
}

func (l *fakeLink) SendPacket(p *protocol.Packet) bool {
	if l.fail {
		return false
	}
	l.sent = append(l.sent, bytes.Clone(p.Data()))
	return true
}

func newTestDatapath(t *testing.T) (*Datapath, *fakeSocket, *fakeDevice) {
	t.Helper()
	cfg := &config.Config{Name: "local"}
	self := mesh.NewPeer("local", "localhost")
	registry := mesh.NewRegistry(self)
	sock := &fakeSocket{ipv4: true}
	dev := &fakeDevice{}
	return New(cfg, registry, dev, sock), sock, dev
}

var nextTestIP byte

// newTestPeer creates a reachable peer with identity sessions, routing to
// itself, with a unique test address.
func newTestPeer(d *Datapath, name string) *mesh.Peer {
	nextTestIP++
	p := mesh.NewPeer(name, name+".example")
	p.NextHop = p
	p.Via = p
	p.Reachable = true
	p.ValidKey = true
	p.InCipher = crypto.NewIdentityCipher()
	p.OutCipher = crypto.NewIdentityCipher()
	p.Address = &net.UDPAddr{IP: net.IPv4(192, 0, 2, nextTestIP), Port: 655}
	d.registry.AddPeer(p)
	return p
}

func testSessionKey(b byte) []byte {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = b
	}
	return key
}

// installKeyedSessions gives tx and rx matching real sessions: what tx
// encrypts and signs, rx verifies and decrypts.
func installKeyedSessions(tx, rx *mesh.Peer, keyByte byte, maclen int) {
	key := testSessionKey(keyByte)
	nonce := make([]byte, crypto.NonceSize)
	tx.OutCipher, _ = crypto.NewCipher(key, nonce)
	rx.InCipher, _ = crypto.NewCipher(key, nonce)
	tx.OutDigest, _ = crypto.NewDigest(key, maclen)
	rx.InDigest, _ = crypto.NewDigest(key, maclen)
}

// testFrame builds an n-byte frame with a nonzero EtherType so it routes as
// a regular packet.
func testFrame(n int) []byte {
	frame := make([]byte, n)
	for i := range frame {
		frame[i] = byte(i + 1)
	}
	frame[12] = 0x08
	frame[13] = 0x00
	return frame
}

// rawDatagram builds seqno || payload, the wire form for a peer with an
// identity cipher and no digest.
func rawDatagram(seqno uint32, payload []byte) []byte {
	wire := make([]byte, protocol.SeqnoSize+len(payload))
	binary.BigEndian.PutUint32(wire, seqno)
	copy(wire[protocol.SeqnoSize:], payload)
	return wire
}

// captureRoute redirects delivered packets into a slice.
func captureRoute(d *Datapath) *[][]byte {
	var frames [][]byte
	d.Route = func(_ *mesh.Peer, pkt *protocol.Packet) {
		frames = append(frames, bytes.Clone(pkt.Data()))
	}
	return &frames
}

func stopProbeTimer(t *testing.T, p *mesh.Peer) {
	t.Cleanup(func() {
		if p.MTUTimer != nil {
			p.MTUTimer.Stop()
		}
	})
}
