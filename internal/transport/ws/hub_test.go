package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"wildlink.gg/internal/protocol"
	"wildlink.gg/internal/trade"
)

func newTestRelay(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(log.New(io.Discard, "", 0))
	mux := http.NewServeMux()
	mux.Handle("/v1/ws", hub.Handler())
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/ws"
}

type testPeer struct {
	client *Client
	inbox  chan []byte
	peerEv chan trade.PeerEvent
}

func dialPeer(t *testing.T, url, name string) *testPeer {
	t.Helper()
	client, err := Dial(context.Background(), url, name, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("dial %s failed: %v", name, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &testPeer{
		client: client,
		inbox:  make(chan []byte, 64),
		peerEv: make(chan trade.PeerEvent, 16),
	}
	go func() { _ = client.Run(ctx, p.inbox, p.peerEv) }()
	t.Cleanup(func() {
		cancel()
		client.Close()
	})
	return p
}

func waitFrame(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return nil
	}
}

func waitPeerEvent(t *testing.T, ch <-chan trade.PeerEvent, kind trade.PeerEventKind, peerID string) trade.PeerEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind && (peerID == "" || ev.Peer.ID == peerID) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for peer event kind=%d peer=%s", kind, peerID)
			return trade.PeerEvent{}
		}
	}
}

func assertNoFrameWithin(t *testing.T, ch <-chan []byte, d time.Duration) {
	t.Helper()
	select {
	case b := <-ch:
		t.Fatalf("unexpected frame: %s", string(b))
	case <-time.After(d):
	}
}

func TestHandshakeAssignsDistinctIDsAndRoster(t *testing.T) {
	_, url := newTestRelay(t)

	a := dialPeer(t, url, "mira")
	b := dialPeer(t, url, "kerrin")

	aSelf, bSelf := a.client.Self(), b.client.Self()
	if aSelf.ID == "" || bSelf.ID == "" {
		t.Fatalf("expected assigned peer ids, got %q and %q", aSelf.ID, bSelf.ID)
	}
	if aSelf.ID == bSelf.ID {
		t.Fatalf("expected distinct peer ids, both got %q", aSelf.ID)
	}
	if aSelf.Name != "mira" || bSelf.Name != "kerrin" {
		t.Fatalf("expected names echoed back, got %q and %q", aSelf.Name, bSelf.Name)
	}

	roster := b.client.Roster()
	foundA := false
	for _, ref := range roster {
		if ref.ID == bSelf.ID {
			t.Fatalf("roster should not contain self, got %+v", roster)
		}
		if ref.ID == aSelf.ID && ref.Name == "mira" {
			foundA = true
		}
	}
	if !foundA {
		t.Fatalf("expected %s in roster, got %+v", aSelf.ID, roster)
	}

	// The earlier peer hears about the later one, and the later one
	// replays its handshake roster as joins.
	waitPeerEvent(t, a.peerEv, trade.PeerJoined, bSelf.ID)
	ev := waitPeerEvent(t, b.peerEv, trade.PeerJoined, aSelf.ID)
	if ev.Peer.Name != "mira" {
		t.Fatalf("expected roster join to carry name, got %+v", ev.Peer)
	}
}

func TestTradeFrameFansOutToEveryoneIncludingSender(t *testing.T) {
	_, url := newTestRelay(t)

	a := dialPeer(t, url, "mira")
	b := dialPeer(t, url, "kerrin")
	c := dialPeer(t, url, "sol")

	req := protocol.TradeRequestMsg{
		Type:            protocol.TypeTradeRequest,
		ProtocolVersion: protocol.Version,
		From:            a.client.Self().ID,
		FromName:        "mira",
		To:              b.client.Self().ID,
	}
	if err := a.client.Send(req); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	for _, p := range []*testPeer{a, b, c} {
		var got protocol.TradeRequestMsg
		if err := json.Unmarshal(waitFrame(t, p.inbox), &got); err != nil {
			t.Fatalf("decode relayed frame failed: %v", err)
		}
		if got.Type != protocol.TypeTradeRequest || got.From != req.From || got.To != req.To {
			t.Fatalf("relayed frame mismatch for %s: %+v", p.client.Self().ID, got)
		}
	}
}

func TestPeerLeaveBroadcastsPeerLeft(t *testing.T) {
	_, url := newTestRelay(t)

	a := dialPeer(t, url, "mira")
	b := dialPeer(t, url, "kerrin")
	bID := b.client.Self().ID

	waitPeerEvent(t, a.peerEv, trade.PeerJoined, bID)

	b.client.Close()

	waitPeerEvent(t, a.peerEv, trade.PeerLeft, bID)
}

func TestHandshakeRejectsWrongVersion(t *testing.T) {
	_, url := newTestRelay(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: "0.9",
		PeerName:        "oldpeer",
	}); err != nil {
		t.Fatalf("write HELLO failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestHandshakeRejectsNonHelloFirstFrame(t *testing.T) {
	_, url := newTestRelay(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.TradeRequestMsg{
		Type:            protocol.TypeTradeRequest,
		ProtocolVersion: protocol.Version,
		From:            "P9",
		To:              "P1",
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestUnknownTypesAreNotRelayed(t *testing.T) {
	hub, url := newTestRelay(t)

	a := dialPeer(t, url, "mira")
	b := dialPeer(t, url, "kerrin")

	if err := a.client.Send(map[string]any{
		"type":             "GOSSIP",
		"protocol_version": protocol.Version,
	}); err != nil {
		t.Fatalf("send gossip failed: %v", err)
	}
	if err := a.client.Send(protocol.TradeRequestMsg{
		Type:            protocol.TypeTradeRequest,
		ProtocolVersion: protocol.Version,
		From:            a.client.Self().ID,
		To:              b.client.Self().ID,
	}); err != nil {
		t.Fatalf("send request failed: %v", err)
	}

	var got protocol.TradeRequestMsg
	if err := json.Unmarshal(waitFrame(t, b.inbox), &got); err != nil {
		t.Fatalf("decode frame failed: %v", err)
	}
	if got.Type != protocol.TypeTradeRequest {
		t.Fatalf("expected the trade request first, got %+v", got)
	}
	assertNoFrameWithin(t, b.inbox, 300*time.Millisecond)

	if m := hub.Metrics(); m.FramesIn != 1 {
		t.Fatalf("expected 1 relayed frame, metrics say %+v", m)
	}
}

func TestMetricsCountPeers(t *testing.T) {
	hub, url := newTestRelay(t)

	a := dialPeer(t, url, "mira")
	b := dialPeer(t, url, "kerrin")

	if m := hub.Metrics(); m.Peers != 2 {
		t.Fatalf("expected 2 peers, got %+v", m)
	}

	b.client.Close()
	waitPeerEvent(t, a.peerEv, trade.PeerLeft, b.client.Self().ID)

	if m := hub.Metrics(); m.Peers != 1 {
		t.Fatalf("expected 1 peer after leave, got %+v", m)
	}
}

type captureSink struct {
	mu   sync.Mutex
	recs []auditRecord
}

func (s *captureSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := v.(auditRecord)
	if !ok {
		return nil
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *captureSink) byEvent(event string) []auditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auditRecord
	for _, r := range s.recs {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

func TestAuditSinkSeesJoinRelayLeave(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(log.New(io.Discard, "", 0))
	hub.SetAudit(sink)
	mux := http.NewServeMux()
	mux.Handle("/v1/ws", hub.Handler())
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/ws"

	waitAudit := func(event string, n int) []auditRecord {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if recs := sink.byEvent(event); len(recs) >= n {
				return recs
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %d %s audit records", n, event)
		return nil
	}

	a := dialPeer(t, url, "mira")
	b := dialPeer(t, url, "kerrin")

	joins := waitAudit("JOIN", 2)
	names := map[string]bool{}
	for _, r := range joins {
		if r.Peer == "" || r.TS == 0 {
			t.Fatalf("join record incomplete: %+v", r)
		}
		names[r.Name] = true
	}
	if !names["mira"] || !names["kerrin"] {
		t.Fatalf("join records missing names: %+v", joins)
	}

	if err := a.client.Send(protocol.TradeRequestMsg{
		Type:            protocol.TypeTradeRequest,
		ProtocolVersion: protocol.Version,
		From:            a.client.Self().ID,
		To:              b.client.Self().ID,
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	relays := waitAudit("RELAY", 1)
	if relays[0].Type != protocol.TypeTradeRequest || relays[0].Peer != a.client.Self().ID || relays[0].To != b.client.Self().ID {
		t.Fatalf("relay record mismatch: %+v", relays[0])
	}

	b.client.Close()
	leaves := waitAudit("LEAVE", 1)
	if leaves[0].Peer != b.client.Self().ID {
		t.Fatalf("leave record mismatch: %+v", leaves[0])
	}
}
