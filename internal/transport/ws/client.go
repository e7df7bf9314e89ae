package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wildlink.gg/internal/protocol"
	"wildlink.gg/internal/trade"
)

// Client is one peer's connection to the relay. It performs the
// HELLO/WELCOME handshake during Dial, then feeds trade frames and
// presence changes to the coordinator through Run. There is no
// reconnect: a dropped connection means a fresh Dial and a fresh
// peer id.
type Client struct {
	log  *log.Logger
	conn *websocket.Conn

	self   protocol.PeerRef
	roster []protocol.PeerRef

	writeMu sync.Mutex

	mu        sync.Mutex
	connected bool

	closeOnce sync.Once
}

// Dial connects, sends HELLO and waits for the WELCOME. The returned
// client knows its assigned id and the roster at join time.
func Dial(ctx context.Context, url, name string, logger *log.Logger) (*Client, error) {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PeerName:        name,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("await WELCOME: %w", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", string(msg))
	}
	if welcome.ProtocolVersion != protocol.Version {
		_ = conn.Close()
		return nil, fmt.Errorf("relay speaks protocol %q, want %q", welcome.ProtocolVersion, protocol.Version)
	}
	if welcome.PeerID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("WELCOME without peer_id")
	}

	selfName := welcome.PeerName
	if selfName == "" {
		selfName = name
	}

	// The relay pings idle connections. Answer and push the read
	// deadline out so a quiet link is not mistaken for a dead one.
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	return &Client{
		log:       logger,
		conn:      conn,
		self:      protocol.PeerRef{ID: welcome.PeerID, Name: selfName},
		roster:    welcome.Peers,
		connected: true,
	}, nil
}

func (c *Client) Self() protocol.PeerRef { return c.self }

// Roster is the set of peers that were already connected when this
// client joined. Later joins and leaves arrive through Run.
func (c *Client) Roster() []protocol.PeerRef {
	out := make([]protocol.PeerRef, len(c.roster))
	copy(out, c.roster)
	return out
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.markDisconnected()
		_ = c.conn.Close()
	})
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// Send marshals v and writes it to the relay. Safe for concurrent use.
func (c *Client) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.Connected() {
		return fmt.Errorf("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.markDisconnected()
		return err
	}
	return nil
}

// Run pumps the connection until it drops or ctx is cancelled. The
// handshake roster is delivered first as joins, so the coordinator
// sees every peer the same way regardless of join order. Trade frames
// go to inbox raw; the coordinator does its own filtering.
func (c *Client) Run(ctx context.Context, inbox chan<- []byte, peerEv chan<- trade.PeerEvent) error {
	// Unblock ReadMessage when ctx ends.
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for _, ref := range c.roster {
		if ref.ID == c.self.ID {
			continue
		}
		select {
		case peerEv <- trade.PeerEvent{Kind: trade.PeerJoined, Peer: ref}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.markDisconnected()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypePeerJoined:
			var m protocol.PeerJoinedMsg
			if err := json.Unmarshal(msg, &m); err != nil || m.Peer.ID == "" || m.Peer.ID == c.self.ID {
				continue
			}
			select {
			case peerEv <- trade.PeerEvent{Kind: trade.PeerJoined, Peer: m.Peer}:
			case <-ctx.Done():
				return ctx.Err()
			}

		case protocol.TypePeerLeft:
			var m protocol.PeerLeftMsg
			if err := json.Unmarshal(msg, &m); err != nil || m.Peer.ID == "" || m.Peer.ID == c.self.ID {
				continue
			}
			select {
			case peerEv <- trade.PeerEvent{Kind: trade.PeerLeft, Peer: m.Peer}:
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			if !protocol.IsTradeType(base.Type) {
				continue
			}
			frame := make([]byte, len(msg))
			copy(frame, msg)
			select {
			case inbox <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
