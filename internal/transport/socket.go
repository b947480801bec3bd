package transport

import (
	"net"

	"golang.org/x/net/ipv4"
)

// udpSocket wraps a listening *net.UDPConn. The last applied TOS is stored
// per socket so priority inheritance only issues a setsockopt when the
// value actually changes.
type udpSocket struct {
	conn *net.UDPConn
	p4   *ipv4.PacketConn // nil on IPv6 sockets
	tos  int
}

// NewUDPSocket wraps conn for use as a datapath listening socket.
func NewUDPSocket(conn *net.UDPConn) UDPSocket {
	s := &udpSocket{conn: conn}
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP.To4() != nil {
		s.p4 = ipv4.NewPacketConn(conn)
	}
	return s
}

func (s *udpSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	return s.conn.WriteToUDP(b, addr)
}

func (s *udpSocket) IsIPv4() bool {
	return s.p4 != nil
}

func (s *udpSocket) TOS() int {
	return s.tos
}

func (s *udpSocket) SetTOS(tos int) error {
	if s.p4 == nil {
		return nil
	}
	if err := s.p4.SetTOS(tos); err != nil {
		return err
	}
	s.tos = tos
	return nil
}
