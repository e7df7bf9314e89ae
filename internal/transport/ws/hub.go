// Package ws carries the protocol over websockets: a broadcast Hub
// that relays frames between peers, and a Client that peers use to
// reach it.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"wildlink.gg/internal/protocol"
)

// Trade traffic is bursty. The hub pings on an interval and both ends
// extend their read deadlines on ping/pong, so an idle peer stays
// connected as long as the link is healthy.
const (
	readWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Hub is the rendezvous relay. It understands HELLO and presence and
// nothing else: every trade frame is fanned out verbatim to every
// connected peer, the sender included. Addressing and filtering are
// the peers' problem.
type Hub struct {
	log      *log.Logger
	upgrader websocket.Upgrader
	audit    AuditSink

	mu    sync.Mutex
	peers map[string]*hubPeer

	nextPeerNum atomic.Uint64

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	dropped   atomic.Uint64
}

// AuditSink receives one record per join, leave and relayed frame.
// The zstd JSONL journal writer satisfies it.
type AuditSink interface {
	Write(v any) error
}

type auditRecord struct {
	TS    int64  `json:"ts_ms"`
	Event string `json:"event"`
	Peer  string `json:"peer,omitempty"`
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
	To    string `json:"to,omitempty"`
}

type hubPeer struct {
	ref protocol.PeerRef
	out chan []byte
}

type HubMetrics struct {
	Peers     int
	FramesIn  uint64
	FramesOut uint64
	Dropped   uint64
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		log:   logger,
		peers: map[string]*hubPeer{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// SetAudit wires an audit sink. Call before the hub starts serving.
func (h *Hub) SetAudit(a AuditSink) { h.audit = a }

func (h *Hub) auditWrite(rec auditRecord) {
	if h.audit == nil {
		return
	}
	rec.TS = time.Now().UnixMilli()
	if err := h.audit.Write(rec); err != nil {
		h.log.Printf("audit write: %v", err)
	}
}

func (h *Hub) Metrics() HubMetrics {
	h.mu.Lock()
	n := len(h.peers)
	h.mu.Unlock()
	return HubMetrics{
		Peers:     n,
		FramesIn:  h.framesIn.Load(),
		FramesOut: h.framesOut.Load(),
		Dropped:   h.dropped.Load(),
	}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		peer := h.handshake(conn)
		if peer == nil {
			return
		}

		// Registration and the roster snapshot happen under one lock
		// so two peers joining at once cannot miss each other.
		roster := h.register(peer)

		welcome := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			PeerID:          peer.ref.ID,
			PeerName:        peer.ref.Name,
			Peers:           roster,
		}
		b, err := json.Marshal(welcome)
		if err != nil {
			h.unregister(peer)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.unregister(peer)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})

		// Writer goroutine. Closing the conn on error also unblocks
		// the reader below.
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case frame, ok := <-peer.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						_ = conn.Close()
						return
					}
					h.framesOut.Add(1)
				case <-ping.C:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()

		h.log.Printf("peer %s (%s) joined", peer.ref.ID, peer.ref.Name)
		h.auditWrite(auditRecord{Event: "JOIN", Peer: peer.ref.ID, Name: peer.ref.Name})

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			base, err := protocol.DecodeBase(msg)
			if err != nil || !protocol.IsTradeType(base.Type) {
				continue
			}
			h.framesIn.Add(1)
			h.auditWrite(auditRecord{Event: "RELAY", Peer: base.From, Type: base.Type, To: base.To})
			h.broadcast(msg)
		}

		cancel()
		h.unregister(peer)
		h.log.Printf("peer %s (%s) left", peer.ref.ID, peer.ref.Name)
		h.auditWrite(auditRecord{Event: "LEAVE", Peer: peer.ref.ID, Name: peer.ref.Name})
	}
}

// handshake reads and validates the HELLO and mints the peer id. The
// WELCOME is sent by the caller once the peer is registered.
func (h *Hub) handshake(conn *websocket.Conn) *hubPeer {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		h.reject(conn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		h.reject(conn, "bad protocol_version")
		return nil
	}
	if hello.PeerName == "" {
		hello.PeerName = "peer"
	}

	return &hubPeer{
		ref: protocol.PeerRef{
			ID:   fmt.Sprintf("P%d", h.nextPeerNum.Add(1)),
			Name: hello.PeerName,
		},
		out: make(chan []byte, 64),
	}
}

func (h *Hub) reject(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// register adds the peer and returns the roster as it stood at that
// moment, sorted by id and without the peer itself.
func (h *Hub) register(p *hubPeer) []protocol.PeerRef {
	h.mu.Lock()
	others := make([]protocol.PeerRef, 0, len(h.peers))
	for _, q := range h.peers {
		others = append(others, q.ref)
	}
	h.peers[p.ref.ID] = p
	h.mu.Unlock()
	sort.Slice(others, func(i, j int) bool { return others[i].ID < others[j].ID })

	joined, _ := json.Marshal(protocol.PeerJoinedMsg{
		Type:            protocol.TypePeerJoined,
		ProtocolVersion: protocol.Version,
		Peer:            p.ref,
	})
	h.broadcastExcept(joined, p.ref.ID)
	return others
}

func (h *Hub) unregister(p *hubPeer) {
	h.mu.Lock()
	delete(h.peers, p.ref.ID)
	h.mu.Unlock()

	left, _ := json.Marshal(protocol.PeerLeftMsg{
		Type:            protocol.TypePeerLeft,
		ProtocolVersion: protocol.Version,
		Peer:            p.ref,
	})
	h.broadcastExcept(left, p.ref.ID)
}

// broadcast queues a frame for every peer. A peer whose queue is full
// loses the frame rather than stalling the hub.
func (h *Hub) broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.peers {
		select {
		case p.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) broadcastExcept(b []byte, exceptID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, p := range h.peers {
		if id == exceptID {
			continue
		}
		select {
		case p.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}
