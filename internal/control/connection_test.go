package control

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/1ureka.net.vpn/internal/mesh"
	"github.com/1ureka/1ureka.net.vpn/internal/protocol"
)

// wsPair spins up a loopback server and returns both ends of an
// established control channel.
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	server := NewServer("1234")
	port, err := server.Start(":0")
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	client, err := Dial(ctx, fmt.Sprintf("ws://127.0.0.1:%d/vpn?pin=1234", port))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	accepted, err := server.Accept(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { accepted.Close() })

	return client, accepted
}

// TestConnectionSendPacket verifies a packet travels the channel as one
// binary message carrying exactly the payload.
func TestConnectionSendPacket(t *testing.T) {
	client, accepted := wsPair(t)

	peer := mesh.NewPeer("beta", "beta.example")
	c := NewConnection(client, peer)

	frame := make([]byte, 64)
	for i := range frame {
		frame[i] = byte(i)
	}
	var pkt protocol.Packet
	pkt.SetData(frame)
	require.True(t, c.SendPacket(&pkt))

	kind, data, err := accepted.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, frame, data)
}

// TestConnectionReadLoop verifies inbound binary messages reach the receive
// callback and the loop ends when the channel closes.
func TestConnectionReadLoop(t *testing.T) {
	client, accepted := wsPair(t)

	peer := mesh.NewPeer("beta", "beta.example")
	c := NewConnection(accepted, peer)

	var got [][]byte
	done := make(chan error, 1)
	go func() {
		done <- c.ReadLoop(func(conn *Connection, data []byte) {
			assert.Same(t, c, conn)
			got = append(got, data)
		})
	}()

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ignored")))
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{4, 5}))
	client.Close()

	err := <-done
	require.Error(t, err, "loop ends when the channel closes")
	require.Len(t, got, 2, "text messages are not packet traffic")
	assert.Equal(t, []byte{1, 2, 3}, got[0])
	assert.Equal(t, []byte{4, 5}, got[1])
}

// TestConnectionSendAfterClose verifies a dead channel reports failure so
// the caller can terminate it.
func TestConnectionSendAfterClose(t *testing.T) {
	client, _ := wsPair(t)

	c := NewConnection(client, mesh.NewPeer("beta", "beta.example"))
	require.NoError(t, c.Close())

	var pkt protocol.Packet
	pkt.SetData([]byte{1})
	assert.False(t, c.SendPacket(&pkt))
}

// TestServerRejectsBadPIN verifies admission control.
func TestServerRejectsBadPIN(t *testing.T) {
	server := NewServer("1234")
	port, err := server.Start(":0")
	require.NoError(t, err)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Dial(ctx, fmt.Sprintf("ws://127.0.0.1:%d/vpn?pin=9999", port))
	assert.Error(t, err)
}
