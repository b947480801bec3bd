// Package tunnel owns the TAP device end of the datapath: reading Ethernet
// frames from the kernel and writing delivered frames back.
package tunnel

import (
	"context"
	"fmt"
	"net"

	"github.com/songgao/water"

	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
	"github.com/1ureka/1ureka.net.vpn/internal/util"
)

// Device is an open TAP interface.
type Device struct {
	iface *water.Interface
}

// OpenDevice opens (or creates) the named TAP device.
func OpenDevice(name string) (*Device, error) {
	cfg := water.Config{DeviceType: water.TAP}
	cfg.Name = name

	iface, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", name, err)
	}

	util.Logf("device %s is open", iface.Name())
	return &Device{iface: iface}, nil
}

// Name returns the kernel name of the device.
func (d *Device) Name() string {
	return d.iface.Name()
}

// HardwareAddr returns the device MAC, if the interface is up and named.
func (d *Device) HardwareAddr() net.HardwareAddr {
	iface, err := net.InterfaceByName(d.iface.Name())
	if err != nil {
		return nil
	}
	return iface.HardwareAddr
}

// ReadPacket reads the next frame from the device into pkt. A false return
// means the device is closed or failed.
func (d *Device) ReadPacket(pkt *protocol.Packet) bool {
	n, err := d.iface.Read(pkt.Room())
	if err != nil {
		util.LogError("error reading packet from device: %v", err)
		return false
	}
	pkt.Len = n
	pkt.Priority = 0
	return true
}

// WritePacket enqueues a frame to the device.
func (d *Device) WritePacket(pkt *protocol.Packet) error {
	if _, err := d.iface.Write(pkt.Data()); err != nil {
		return fmt.Errorf("failed to write packet to device: %w", err)
	}
	return nil
}

// ReadLoop reads frames until the device fails or ctx is cancelled, handing
// each frame to handle.
func (d *Device) ReadLoop(ctx context.Context, handle func(*protocol.Packet)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var pkt protocol.Packet
		if !d.ReadPacket(&pkt) {
			return
		}
		handle(&pkt)
	}
}

// Close shuts the device down.
func (d *Device) Close() error {
	return d.iface.Close()
}
