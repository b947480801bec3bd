// Package control implements the peer control channel: a WebSocket stream
// between directly connected peers that carries, among protocol traffic,
// whole VPN packets as length-framed binary messages. The datapath falls
// back to it whenever UDP cannot be used.
package control

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/1ureka.net.vpn/internal/mesh"
	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
	"github.com/1ureka/1ureka.net.vpn/internal/util"
)

// Connection is one established control channel. Status bits are maintained
// by the graph layer; the datapath reads Active and MST during broadcasts.
type Connection struct {
	ID   uuid.UUID
	Peer *mesh.Peer

	Active  bool
	MST     bool
	TCPOnly bool

	ws      *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
}

// NewConnection wraps an established WebSocket as a control channel bound
// to the given peer.
func NewConnection(ws *websocket.Conn, peer *mesh.Peer) *Connection {
	return &Connection{
		ID:   uuid.New(),
		Peer: peer,
		ws:   ws,
	}
}

// SendPacket pushes a framed packet over the control channel. A false
// return means the channel is broken and must be terminated by the caller.
func (c *Connection) SendPacket(p *protocol.Packet) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p.Data()); err != nil {
		util.LogDebug("[%s] control channel write failed: %v", c.ID, err)
		return false
	}
	util.Stats.AddSent(p.Len)
	return true
}

// ReadLoop reads framed packets and hands each to receive. It returns when
// the channel breaks or closes.
func (c *Connection) ReadLoop(receive func(*Connection, []byte)) error {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if len(data) > protocol.MaxSize {
			util.LogWarning("[%s] oversized control packet of %d bytes dropped", c.ID, len(data))
			continue
		}
		util.Stats.AddRecv(len(data))
		receive(c, data)
	}
}

// Close tears the channel down. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.Active = false
		err = c.ws.Close()
	})
	return err
}
