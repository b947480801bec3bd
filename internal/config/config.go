// Package config holds the daemon configuration types.
package config

import "net"

// Config stores the process-wide options the datapath observes. Parsing and
// validation happen in the CLI layer.
type Config struct {
	Name string // local peer name

	InterfaceName string // TAP device name, e.g. "vpn0"
	ListenAddress string // UDP listen address, e.g. ":655"
	ControlPort   int    // control channel listen port, 0 for random

	// PriorityInheritance mirrors the priority of outgoing frames into the
	// IPv4 socket traffic class.
	PriorityInheritance bool

	// TunnelServer suppresses relaying of broadcast packets received from
	// other peers.
	TunnelServer bool

	// OverwriteMAC rewrites the leading MAC of frames delivered to the
	// local device with the device's own address.
	OverwriteMAC bool
	MAC          net.HardwareAddr

	// TCPOnly forces all local traffic over the control channel.
	TCPOnly bool

	// Compression is the level advertised to peers for inbound traffic
	// (0–11).
	Compression int

	Debug bool
}
