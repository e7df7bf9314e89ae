package trade

import (
	"fmt"

	"github.com/google/uuid"

	"wildlink.gg/internal/creature"
	"wildlink.gg/internal/protocol"
)

// SendTradeRequest asks a connected peer to trade.
func (c *Coordinator) SendTradeRequest(targetID string) error {
	return c.do(func() error { return c.sendTradeRequest(targetID) })
}

// AcceptTradeRequest accepts the pending request, mints the session id
// and opens the session.
func (c *Coordinator) AcceptTradeRequest() error {
	return c.do(func() error { return c.acceptTradeRequest() })
}

// DeclineTradeRequest discards the pending request and tells the
// requester.
func (c *Coordinator) DeclineTradeRequest() error {
	return c.do(func() error { return c.declineTradeRequest() })
}

func (c *Coordinator) AddCreatureToOffer(ref string) error {
	return c.do(func() error { return c.addCreatureToOffer(ref) })
}

func (c *Coordinator) AddItemToOffer(item string, qty int) error {
	return c.do(func() error { return c.addItemToOffer(item, qty) })
}

func (c *Coordinator) RemoveCreatureFromOffer(ref string) error {
	return c.do(func() error { return c.removeCreatureFromOffer(ref) })
}

func (c *Coordinator) RemoveItemFromOffer(item string, qty int) error {
	return c.do(func() error { return c.removeItemFromOffer(item, qty) })
}

// SetReady marks this side's offer ready. Readying requires an open
// session; un-readying is also legal during the lock countdown and
// reverts the session to open.
func (c *Coordinator) SetReady(ready bool) error {
	return c.do(func() error { return c.setReady(ready) })
}

// CancelTrade aborts the active session on both sides.
func (c *Coordinator) CancelTrade() error {
	return c.do(func() error { return c.cancelTrade() })
}

func (c *Coordinator) sendTradeRequest(targetID string) error {
	if c.session != nil {
		return ErrAlreadyTrading
	}
	if c.now().Before(c.cooldownUntil) {
		return ErrOnCooldown
	}
	if targetID == "" || targetID == c.self.ID {
		return ErrInvalidTarget
	}
	if _, ok := c.peers[targetID]; !ok {
		return ErrInvalidTarget
	}
	if !c.tr.Connected() {
		return ErrNotConnected
	}

	msg := protocol.TradeRequestMsg{
		Type:            protocol.TypeTradeRequest,
		ProtocolVersion: protocol.Version,
		From:            c.self.ID,
		FromName:        c.self.Name,
		To:              targetID,
	}
	if err := c.tr.Send(msg); err != nil {
		return fmt.Errorf("send trade request: %w", err)
	}
	c.outbound = &outboundRequest{To: targetID, SentAt: c.now()}
	c.emit(protocol.Event{"type": "TRADE_REQUEST_SENT", "to": targetID})
	return nil
}

func (c *Coordinator) acceptTradeRequest() error {
	req := c.pending
	if req == nil {
		return ErrNoRequest
	}
	if c.now().Sub(req.ReceivedAt) > c.cfg.RequestTTL {
		c.dropPending()
		return ErrNoRequest
	}
	if c.session != nil {
		return ErrAlreadyTrading
	}
	if !c.tr.Connected() {
		return ErrNotConnected
	}

	sid := uuid.NewString()
	msg := protocol.TradeAcceptMsg{
		Type:            protocol.TypeTradeAccept,
		ProtocolVersion: protocol.Version,
		From:            c.self.ID,
		To:              req.From.ID,
		SessionID:       sid,
	}
	if err := c.tr.Send(msg); err != nil {
		return fmt.Errorf("send trade accept: %w", err)
	}
	c.dropPending()
	c.openSession(sid, req.From)
	return nil
}

func (c *Coordinator) declineTradeRequest() error {
	req := c.pending
	if req == nil {
		return ErrNoRequest
	}
	c.dropPending()
	if c.tr.Connected() {
		_ = c.tr.Send(protocol.TradeDeclineMsg{
			Type:            protocol.TypeTradeDecline,
			ProtocolVersion: protocol.Version,
			From:            c.self.ID,
			To:              req.From.ID,
		})
	}
	c.emit(protocol.Event{"type": "TRADE_REQUEST_DECLINED", "from": req.From.ID})
	return nil
}

func (c *Coordinator) addCreatureToOffer(ref string) error {
	s, err := c.mutableSession()
	if err != nil {
		return err
	}
	if err := c.checkCreatureAdd(s.Mine, ref); err != nil {
		return err
	}
	s.Mine.Creatures = append(s.Mine.Creatures, ref)
	c.offerChanged(s)
	return nil
}

func (c *Coordinator) removeCreatureFromOffer(ref string) error {
	s, err := c.mutableSession()
	if err != nil {
		return err
	}
	idx := -1
	for i, r := range s.Mine.Creatures {
		if r == ref {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotInOffer
	}
	s.Mine.Creatures = append(s.Mine.Creatures[:idx], s.Mine.Creatures[idx+1:]...)
	c.offerChanged(s)
	return nil
}

func (c *Coordinator) addItemToOffer(item string, qty int) error {
	s, err := c.mutableSession()
	if err != nil {
		return err
	}
	if err := c.checkItemAdd(s.Mine, item, qty); err != nil {
		return err
	}
	s.Mine.Items[item] += qty
	c.offerChanged(s)
	return nil
}

func (c *Coordinator) removeItemFromOffer(item string, qty int) error {
	s, err := c.mutableSession()
	if err != nil {
		return err
	}
	if qty <= 0 {
		return ErrBadQuantity
	}
	have := s.Mine.Items[item]
	if have < qty {
		return ErrNotInOffer
	}
	if have == qty {
		delete(s.Mine.Items, item)
	} else {
		s.Mine.Items[item] = have - qty
	}
	c.offerChanged(s)
	return nil
}

// mutableSession gates every offer mutation: open session, own side
// not marked ready.
func (c *Coordinator) mutableSession() (*Session, error) {
	s := c.session
	if s == nil {
		return nil, ErrNoSession
	}
	if s.State != StateOpen {
		return nil, ErrNotOpen
	}
	if s.Mine.Ready {
		return nil, ErrOfferReady
	}
	return s, nil
}

// offerChanged clears both ready flags, broadcasts the full offer and
// notifies the UI. Called after every accepted mutation.
func (c *Coordinator) offerChanged(s *Session) {
	s.Mine.Ready = false
	s.Theirs.Ready = false
	c.broadcastOffer(s)
	c.emit(protocol.Event{
		"type":      "OFFER_UPDATED",
		"session":   s.ID,
		"side":      "mine",
		"creatures": s.Mine.creaturesCopy(),
		"items":     s.Mine.itemsCopy(),
	})
}

func (c *Coordinator) broadcastOffer(s *Session) {
	msg := protocol.OfferUpdateMsg{
		Type:            protocol.TypeOfferUpdate,
		ProtocolVersion: protocol.Version,
		From:            c.self.ID,
		To:              s.Partner.ID,
		SessionID:       s.ID,
		CreatureRefs:    s.Mine.creaturesCopy(),
		Items:           s.Mine.itemsCopy(),
	}
	for _, ref := range s.Mine.Creatures {
		if cr, ok := c.inv.Creature(ref); ok {
			msg.Previews = append(msg.Previews, creature.Export(cr))
		}
	}
	if err := c.tr.Send(msg); err != nil {
		c.logf("broadcast offer: %v", err)
	}
}

func (c *Coordinator) setReady(ready bool) error {
	s := c.session
	if s == nil {
		return ErrNoSession
	}
	if ready {
		if s.State != StateOpen {
			return ErrNotOpen
		}
		if s.Mine.Ready {
			return nil
		}
		if err := c.validateOffer(s.Mine); err != nil {
			return err
		}
		s.Mine.Ready = true
		c.sendReady(s, true)
		c.emit(protocol.Event{"type": "READY_CHANGED", "session": s.ID, "side": "mine", "ready": true})
		c.maybeLock(s)
		return nil
	}

	if s.State == StateLocked {
		c.cancelLock(s, "you un-readied")
	}
	if !s.Mine.Ready {
		return nil
	}
	s.Mine.Ready = false
	c.sendReady(s, false)
	c.emit(protocol.Event{"type": "READY_CHANGED", "session": s.ID, "side": "mine", "ready": false})
	return nil
}

func (c *Coordinator) sendReady(s *Session, ready bool) {
	err := c.tr.Send(protocol.ReadyStateMsg{
		Type:            protocol.TypeReadyState,
		ProtocolVersion: protocol.Version,
		From:            c.self.ID,
		To:              s.Partner.ID,
		SessionID:       s.ID,
		Ready:           ready,
	})
	if err != nil {
		c.logf("send ready state: %v", err)
	}
}

func (c *Coordinator) cancelTrade() error {
	s := c.session
	if s == nil {
		return ErrNoSession
	}
	if c.tr.Connected() {
		_ = c.tr.Send(protocol.TradeCancelMsg{
			Type:            protocol.TypeTradeCancel,
			ProtocolVersion: protocol.Version,
			From:            c.self.ID,
			To:              s.Partner.ID,
			SessionID:       s.ID,
			Reason:          "cancelled",
		})
	}
	c.teardown("you cancelled the trade")
	return nil
}

func (c *Coordinator) openSession(id string, partner protocol.PeerRef) {
	c.outbound = nil
	c.session = newSession(id, partner, c.now())
	c.record("SESSION_OPENED", id, partner.ID, nil)
	c.emit(protocol.Event{
		"type":         "SESSION_OPENED",
		"session":      id,
		"partner":      partner.ID,
		"partner_name": partner.Name,
	})
}

// maybeLock moves an open session with both sides ready into the
// locked countdown.
func (c *Coordinator) maybeLock(s *Session) {
	if s.State != StateOpen || !s.Mine.Ready || !s.Theirs.Ready {
		return
	}
	if err := c.validateOffer(s.Mine); err != nil {
		c.protocolCancel(s, "offer failed validation: "+err.Error())
		return
	}
	s.State = StateLocked
	s.Mine.Locked = true
	s.Theirs.Locked = true
	c.lockEpoch++
	c.lockDeadline = c.now().Add(c.cfg.LockWindow)
	c.lockTimer = c.arm(timerLock, c.lockEpoch, c.cfg.LockWindow)
	c.record("TRADE_LOCKED", s.ID, s.Partner.ID, nil)
	c.emit(protocol.Event{
		"type":        "TRADE_LOCKED",
		"session":     s.ID,
		"executes_in": c.cfg.LockWindow.Milliseconds(),
	})
}

// cancelLock reverts a locked session to open. Ready flags are left
// alone: only the caller knows which side un-readied.
func (c *Coordinator) cancelLock(s *Session, why string) {
	if s.State != StateLocked {
		return
	}
	s.State = StateOpen
	s.Mine.Locked = false
	s.Theirs.Locked = false
	c.lockEpoch++
	if c.lockTimer != nil {
		c.lockTimer.Stop()
		c.lockTimer = nil
	}
	c.emit(protocol.Event{"type": "LOCK_CANCELLED", "session": s.ID, "reason": why})
}

// protocolCancel aborts the session because of a rule violation found
// locally (failed validation at lock or execute time). The partner gets
// the reason on the wire.
func (c *Coordinator) protocolCancel(s *Session, reason string) {
	if c.tr.Connected() {
		_ = c.tr.Send(protocol.TradeCancelMsg{
			Type:            protocol.TypeTradeCancel,
			ProtocolVersion: protocol.Version,
			From:            c.self.ID,
			To:              s.Partner.ID,
			SessionID:       s.ID,
			Reason:          reason,
		})
	}
	c.teardown(reason)
}

// teardown finishes the active session as cancelled.
func (c *Coordinator) teardown(reason string) {
	s := c.session
	if s == nil {
		return
	}
	s.State = StateCancelled
	s.Mine.Locked = false
	s.Theirs.Locked = false
	c.lockEpoch++
	if c.lockTimer != nil {
		c.lockTimer.Stop()
		c.lockTimer = nil
	}
	c.remember(s)
	c.session = nil
	c.record("TRADE_CANCELLED", s.ID, s.Partner.ID, map[string]any{"reason": reason})
	c.emit(protocol.Event{"type": "TRADE_CANCELLED", "session": s.ID, "reason": reason})
}

func (c *Coordinator) remember(s *Session) {
	c.recent = &endedSession{
		ID:      s.ID,
		Partner: s.Partner.ID,
		State:   s.State,
		EndedAt: c.now(),
	}
}

func (c *Coordinator) dropPending() {
	c.pending = nil
	c.reqEpoch++
	if c.reqTimer != nil {
		c.reqTimer.Stop()
		c.reqTimer = nil
	}
}
