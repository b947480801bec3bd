// Package protocol defines the VPN packet buffer and the datapath constants.
package protocol

import "encoding/binary"

// Datapath constants.
const (
	// MTU is the largest Ethernet frame the device side hands us.
	MTU = 1518

	// SeqnoSize is the width of the on-wire sequence number field.
	SeqnoSize = 4

	// MaxOverhead bounds what the pipeline can add to a frame: the MAC tag
	// plus worst-case compression expansion.
	MaxOverhead = 64 + MTU/64 + 20

	// MaxSize is the packet buffer payload capacity. It exceeds MTU plus
	// crypto overhead so every pipeline stage fits without reallocation.
	MaxSize = MTU + MaxOverhead

	// MaxSeqno is the sequence number past which a key regeneration
	// is requested.
	MaxSeqno = 1 << 30

	// EthernetHeaderSize is the fixed Ethernet header length; MTU probes
	// carry a zeroed header of this size.
	EthernetHeaderSize = 14

	// CompressionOverhead is the rough per-packet estimate subtracted from a
	// decompressed packet's length when reconstructing its original size.
	// It is a heuristic used only for MTU-probe accounting, not a wire
	// contract.
	CompressionOverhead = MTU/64 + 20
)

// Packet is a fixed-capacity VPN frame. The sequence number field and the
// payload are physically contiguous in one buffer, so the MAC can operate
// across both as a single byte range.
type Packet struct {
	Priority int
	Len      int // payload bytes, excluding the seqno field
	buf      [SeqnoSize + MaxSize]byte
}

// Seqno reads the sequence number field in host order.
func (p *Packet) Seqno() uint32 {
	return binary.BigEndian.Uint32(p.buf[:SeqnoSize])
}

// SetSeqno stores s into the sequence number field in network byte order.
func (p *Packet) SetSeqno(s uint32) {
	binary.BigEndian.PutUint32(p.buf[:SeqnoSize], s)
}

// Data returns the payload as currently sized by Len.
func (p *Packet) Data() []byte {
	return p.buf[SeqnoSize : SeqnoSize+p.Len]
}

// SetData copies b into the payload and sets Len.
func (p *Packet) SetData(b []byte) {
	p.Len = copy(p.buf[SeqnoSize:], b)
}

// Room returns the full payload capacity, regardless of Len.
func (p *Packet) Room() []byte {
	return p.buf[SeqnoSize:]
}

// Wire returns seqno || payload, the range the MAC covers.
func (p *Packet) Wire() []byte {
	return p.buf[:SeqnoSize+p.Len]
}

// Buffer returns the whole underlying buffer starting at the seqno field.
// Ingress copies a raw datagram here before the pipeline sizes Len.
func (p *Packet) Buffer() []byte {
	return p.buf[:]
}

// IsProbe reports whether the frame is an internal MTU probe: a frame whose
// EtherType bytes are both zero is never a routable Ethernet frame.
func (p *Packet) IsProbe() bool {
	return p.buf[SeqnoSize+12] == 0 && p.buf[SeqnoSize+13] == 0
}
