package trade

import (
	"encoding/json"

	"wildlink.gg/internal/protocol"
)

func (c *Coordinator) handleRaw(raw []byte) {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return
	}
	c.handleMessage(base, raw)
}

// handleMessage routes one relay frame. The relay fans every frame out
// to every peer including the sender, so the first obligation of every
// handler is the address filter: drop frames not addressed to this
// peer and drop our own echoes.
func (c *Coordinator) handleMessage(base protocol.BaseMessage, raw []byte) {
	if base.To != c.self.ID || base.From == c.self.ID || base.From == "" {
		return
	}
	if base.ProtocolVersion != protocol.Version {
		return
	}

	switch base.Type {
	case protocol.TypeTradeRequest:
		var m protocol.TradeRequestMsg
		if json.Unmarshal(raw, &m) == nil {
			c.handleTradeRequest(m)
		}
	case protocol.TypeTradeAccept:
		var m protocol.TradeAcceptMsg
		if json.Unmarshal(raw, &m) == nil {
			c.handleTradeAccept(m)
		}
	case protocol.TypeTradeDecline:
		var m protocol.TradeDeclineMsg
		if json.Unmarshal(raw, &m) == nil {
			c.handleTradeDecline(m)
		}
	case protocol.TypeOfferUpdate:
		var m protocol.OfferUpdateMsg
		if json.Unmarshal(raw, &m) == nil {
			c.handleOfferUpdate(m)
		}
	case protocol.TypeReadyState:
		var m protocol.ReadyStateMsg
		if json.Unmarshal(raw, &m) == nil {
			c.handleReadyState(m)
		}
	case protocol.TypeTradeCancel:
		var m protocol.TradeCancelMsg
		if json.Unmarshal(raw, &m) == nil {
			c.handleTradeCancel(m)
		}
	case protocol.TypeTradeExecute:
		var m protocol.TradeExecuteMsg
		if json.Unmarshal(raw, &m) == nil {
			c.handleTradeExecute(m)
		}
	case protocol.TypeTradeExecAck:
		var m protocol.TradeExecAckMsg
		if json.Unmarshal(raw, &m) == nil {
			c.handleTradeExecAck(m)
		}
	}
}

func (c *Coordinator) handleTradeRequest(m protocol.TradeRequestMsg) {
	from := protocol.PeerRef{ID: m.From, Name: m.FromName}
	if known, ok := c.peers[m.From]; ok && from.Name == "" {
		from.Name = known.Name
	}

	// One pending slot. Anything beyond it, and anything arriving
	// while trading or cooling down, is declined without surfacing.
	busy := c.session != nil || c.pending != nil
	if busy || c.now().Before(c.cooldownUntil) {
		if c.tr.Connected() {
			_ = c.tr.Send(protocol.TradeDeclineMsg{
				Type:            protocol.TypeTradeDecline,
				ProtocolVersion: protocol.Version,
				From:            c.self.ID,
				To:              m.From,
			})
		}
		return
	}

	c.pending = &PendingRequest{From: from, ReceivedAt: c.now()}
	c.reqEpoch++
	c.reqTimer = c.arm(timerRequest, c.reqEpoch, c.cfg.RequestTTL)
	c.emit(protocol.Event{
		"type":      "TRADE_REQUESTED",
		"from":      from.ID,
		"from_name": from.Name,
		"ttl_ms":    c.cfg.RequestTTL.Milliseconds(),
	})
}

func (c *Coordinator) onRequestExpired(epoch uint64) {
	if epoch != c.reqEpoch {
		return
	}
	req := c.pending
	if req == nil {
		return
	}
	c.dropPending()
	c.emit(protocol.Event{"type": "TRADE_REQUEST_EXPIRED", "from": req.From.ID})
}

func (c *Coordinator) handleTradeAccept(m protocol.TradeAcceptMsg) {
	if m.SessionID == "" {
		return
	}
	if c.session != nil {
		if c.session.ID == m.SessionID {
			return
		}
		c.rejectAccept(m, "requester is already trading")
		return
	}
	ob := c.outbound
	if ob == nil || ob.To != m.From || c.now().Sub(ob.SentAt) > c.cfg.RequestTTL {
		c.rejectAccept(m, "request no longer open")
		return
	}

	partner := protocol.PeerRef{ID: m.From}
	if known, ok := c.peers[m.From]; ok {
		partner = known
	}
	c.openSession(m.SessionID, partner)
}

// rejectAccept tells an accepter whose session we cannot honor to tear
// it down, so it is not left waiting in a session we never joined.
func (c *Coordinator) rejectAccept(m protocol.TradeAcceptMsg, reason string) {
	if !c.tr.Connected() {
		return
	}
	_ = c.tr.Send(protocol.TradeCancelMsg{
		Type:            protocol.TypeTradeCancel,
		ProtocolVersion: protocol.Version,
		From:            c.self.ID,
		To:              m.From,
		SessionID:       m.SessionID,
		Reason:          reason,
	})
}

func (c *Coordinator) handleTradeDecline(m protocol.TradeDeclineMsg) {
	ob := c.outbound
	if ob == nil || ob.To != m.From {
		return
	}
	c.outbound = nil
	c.emit(protocol.Event{"type": "REQUEST_DECLINED", "by": m.From})
}

func (c *Coordinator) handleOfferUpdate(m protocol.OfferUpdateMsg) {
	s := c.session
	if s == nil || s.ID != m.SessionID || s.Partner.ID != m.From {
		return
	}
	if s.State != StateOpen || s.Theirs.Ready {
		return
	}

	s.Theirs.Creatures = append([]string(nil), m.CreatureRefs...)
	s.Theirs.Items = make(map[string]int, len(m.Items))
	for item, qty := range m.Items {
		if qty > 0 {
			s.Theirs.Items[item] = qty
		}
	}
	s.TheirPreviews = append([]protocol.CreatureSnapshot(nil), m.Previews...)

	// Contents changed, so nobody stays ready.
	s.Mine.Ready = false
	s.Theirs.Ready = false
	c.emit(protocol.Event{
		"type":      "OFFER_UPDATED",
		"session":   s.ID,
		"side":      "theirs",
		"creatures": s.Theirs.creaturesCopy(),
		"items":     s.Theirs.itemsCopy(),
	})
}

func (c *Coordinator) handleReadyState(m protocol.ReadyStateMsg) {
	s := c.session
	if s == nil || s.ID != m.SessionID || s.Partner.ID != m.From {
		return
	}

	if m.Ready {
		if s.State != StateOpen || s.Theirs.Ready {
			return
		}
		s.Theirs.Ready = true
		c.emit(protocol.Event{"type": "READY_CHANGED", "session": s.ID, "side": "theirs", "ready": true})
		c.maybeLock(s)
		return
	}

	if s.State == StateLocked {
		c.cancelLock(s, "partner un-readied")
	}
	if !s.Theirs.Ready {
		return
	}
	s.Theirs.Ready = false
	c.emit(protocol.Event{"type": "READY_CHANGED", "session": s.ID, "side": "theirs", "ready": false})
}

func (c *Coordinator) handleTradeCancel(m protocol.TradeCancelMsg) {
	s := c.session
	if s == nil || s.Partner.ID != m.From {
		return
	}
	if m.SessionID != "" && m.SessionID != s.ID {
		return
	}
	reason := "partner cancelled the trade"
	if m.Reason != "" && m.Reason != "cancelled" {
		reason = "partner cancelled: " + m.Reason
	}
	c.teardown(reason)
}

func (c *Coordinator) handlePeerEvent(ev PeerEvent) {
	if ev.Peer.ID == c.self.ID {
		return
	}
	switch ev.Kind {
	case PeerJoined:
		c.peers[ev.Peer.ID] = ev.Peer
		c.emit(protocol.Event{"type": "PEER_JOINED", "peer": ev.Peer.ID, "name": ev.Peer.Name})
	case PeerLeft:
		delete(c.peers, ev.Peer.ID)
		if c.pending != nil && c.pending.From.ID == ev.Peer.ID {
			from := c.pending.From
			c.dropPending()
			c.emit(protocol.Event{"type": "TRADE_REQUEST_EXPIRED", "from": from.ID})
		}
		if c.outbound != nil && c.outbound.To == ev.Peer.ID {
			c.outbound = nil
		}
		if s := c.session; s != nil && s.Partner.ID == ev.Peer.ID {
			c.teardown("partner disconnected")
		}
		c.emit(protocol.Event{"type": "PEER_LEFT", "peer": ev.Peer.ID, "name": ev.Peer.Name})
	}
}
