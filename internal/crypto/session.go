// Package crypto implements the per-peer symmetric session primitives: a
// stream cipher over an arbitrary byte range and a truncatable keyed MAC.
// Key material comes from the handshake layer; this package only consumes it.
package crypto

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20"
)

const (
	// KeySize is the cipher and digest key length.
	KeySize = chacha20.KeySize

	// NonceSize is the cipher nonce length.
	NonceSize = chacha20.NonceSize

	// MaxMACLength is the widest MAC tag a digest can produce.
	MaxMACLength = blake2s.Size
)

// Cipher is a symmetric session direction. Every packet is enciphered with
// a fresh keystream: the per-packet sequence number is written into the
// counter half of the nonce, so no two packets of a session share keystream
// bytes. Sequence numbers never repeat within a session — the key rotation
// forced at the sequence number ceiling happens long before the counter
// could wrap.
//
// A nil Cipher is inactive. An identity Cipher is active but passes data
// through unchanged, for sessions negotiated without encryption.
type Cipher struct {
	key      [KeySize]byte
	nonce    [NonceSize]byte
	identity bool
}

// NewCipher creates an active cipher from session key material.
func NewCipher(key, nonce []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("cipher nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	c := &Cipher{}
	copy(c.key[:], key)
	copy(c.nonce[:], nonce)
	return c, nil
}

// NewIdentityCipher creates an active cipher that copies data unchanged.
func NewIdentityCipher() *Cipher {
	return &Cipher{identity: true}
}

// Active reports whether the session direction has usable key material.
func (c *Cipher) Active() bool {
	return c != nil
}

// Encrypt encrypts src into dst under the keystream for sequence number
// seqno. dst and src may alias exactly or not at all.
func (c *Cipher) Encrypt(dst, src []byte, seqno uint32) error {
	return c.apply(dst, src, seqno)
}

// Decrypt decrypts src into dst. The stream cipher is symmetric; seqno must
// be the sequence number the packet was encrypted under.
func (c *Cipher) Decrypt(dst, src []byte, seqno uint32) error {
	return c.apply(dst, src, seqno)
}

func (c *Cipher) apply(dst, src []byte, seqno uint32) error {
	if c == nil {
		return fmt.Errorf("cipher not active")
	}
	if len(dst) < len(src) {
		return fmt.Errorf("cipher output too small: %d < %d", len(dst), len(src))
	}
	if c.identity {
		copy(dst, src)
		return nil
	}
	nonce := c.nonce
	binary.LittleEndian.PutUint64(nonce[4:], uint64(seqno))
	stream, err := chacha20.NewUnauthenticatedCipher(c.key[:], nonce[:])
	if err != nil {
		return err
	}
	stream.XORKeyStream(dst[:len(src)], src)
	return nil
}

// Digest is a keyed MAC session direction. Tags are truncated to the
// negotiated MAC length. A nil Digest is inactive and authenticates nothing.
type Digest struct {
	key    [KeySize]byte
	maclen int
}

// NewDigest creates a digest producing tags of maclen bytes.
func NewDigest(key []byte, maclen int) (*Digest, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("digest key must be %d bytes, got %d", KeySize, len(key))
	}
	if maclen < 1 || maclen > MaxMACLength {
		return nil, fmt.Errorf("mac length must be in [1, %d], got %d", MaxMACLength, maclen)
	}
	d := &Digest{maclen: maclen}
	copy(d.key[:], key)
	return d, nil
}

// Active reports whether the digest has usable key material.
func (d *Digest) Active() bool {
	return d != nil
}

// Length returns the negotiated MAC tag length in bytes.
func (d *Digest) Length() int {
	if d == nil {
		return 0
	}
	return d.maclen
}

// Create computes the MAC of data into mac, which must be Length() bytes.
func (d *Digest) Create(data, mac []byte) error {
	if d == nil {
		return fmt.Errorf("digest not active")
	}
	if len(mac) != d.maclen {
		return fmt.Errorf("mac buffer must be %d bytes, got %d", d.maclen, len(mac))
	}
	sum := d.sum(data)
	copy(mac, sum[:d.maclen])
	return nil
}

// Verify reports whether mac is the valid tag for data. The comparison is
// constant-time.
func (d *Digest) Verify(data, mac []byte) bool {
	if d == nil || len(mac) != d.maclen {
		return false
	}
	sum := d.sum(data)
	return subtle.ConstantTimeCompare(sum[:d.maclen], mac) == 1
}

func (d *Digest) sum(data []byte) [blake2s.Size]byte {
	h, _ := blake2s.New256(d.key[:])
	h.Write(data)
	var sum [blake2s.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
