package trade

import (
	"wildlink.gg/internal/creature"
	"wildlink.gg/internal/protocol"
)

// creditedKeep bounds the credited-session memory used for ack
// idempotency.
const creditedKeep = 16

func (c *Coordinator) onLockExpired(epoch uint64) {
	if epoch != c.lockEpoch {
		return
	}
	s := c.session
	if s == nil || s.State != StateLocked {
		return
	}
	c.executeTrade(s)
}

// executeTrade runs this side's half of the exchange: validate once
// more, snapshot, debit, broadcast, complete. Each peer executes its
// own half independently; the retry loop below chases the ack.
func (c *Coordinator) executeTrade(s *Session) {
	if err := c.validateOffer(s.Mine); err != nil {
		c.protocolCancel(s, "offer failed validation: "+err.Error())
		return
	}

	// Snapshot before debiting. Once the creatures leave the store the
	// wire payload is the only copy.
	snaps := make([]protocol.CreatureSnapshot, 0, len(s.Mine.Creatures))
	for _, ref := range s.Mine.Creatures {
		cr, ok := c.inv.Creature(ref)
		if !ok {
			c.protocolCancel(s, "offer failed validation: creature "+ref+" missing")
			return
		}
		snaps = append(snaps, creature.Export(cr))
	}

	items := s.Mine.itemsCopy()
	itemsSent := 0
	for _, ref := range s.Mine.Creatures {
		if err := c.inv.RemoveCreature(ref); err != nil {
			c.logf("debit creature %s: %v", ref, err)
		}
	}
	for item, qty := range items {
		if err := c.inv.RemoveItem(item, qty); err != nil {
			c.logf("debit item %s x%d: %v", item, qty, err)
		}
		itemsSent += qty
	}

	msg := protocol.TradeExecuteMsg{
		Type:            protocol.TypeTradeExecute,
		ProtocolVersion: protocol.Version,
		From:            c.self.ID,
		To:              s.Partner.ID,
		SessionID:       s.ID,
		Creatures:       snaps,
		Items:           items,
	}
	if err := c.tr.Send(msg); err != nil {
		c.logf("send trade execute: %v", err)
	}
	c.inflight = &execRecord{SessionID: s.ID, Partner: s.Partner.ID, Msg: msg, Attempts: 1}
	c.retryEpoch++
	c.retryTimer = c.arm(timerRetry, c.retryEpoch, c.cfg.ExecRetryEvery)

	s.State = StateCompleted
	now := c.now()
	c.cooldownUntil = now.Add(c.cfg.Cooldown)
	done := CompletedTrade{
		SessionID:     s.ID,
		Partner:       s.Partner.ID,
		PartnerName:   s.Partner.Name,
		CompletedAt:   now,
		CreaturesSent: len(snaps),
		ItemsSent:     itemsSent,
	}
	if c.hist != nil {
		if err := c.hist.RecordCompleted(done); err != nil {
			c.logf("record completed trade: %v", err)
		}
	}
	c.remember(s)
	c.session = nil
	c.record("TRADE_COMPLETED", s.ID, s.Partner.ID, map[string]any{
		"creature_refs": s.Mine.creaturesCopy(),
		"items":         items,
	})
	c.emit(protocol.Event{
		"type":           "TRADE_COMPLETED",
		"session":        s.ID,
		"partner":        s.Partner.ID,
		"creatures_sent": len(snaps),
		"items_sent":     itemsSent,
	})
}

func (c *Coordinator) onRetryDue(epoch uint64) {
	if epoch != c.retryEpoch {
		return
	}
	r := c.inflight
	if r == nil || r.Stranded {
		return
	}
	if r.Attempts >= c.cfg.ExecRetryAttempts {
		r.Stranded = true
		c.record("DELIVERY_UNCONFIRMED", r.SessionID, r.Partner, map[string]any{
			"attempts": r.Attempts,
			"payload":  r.Msg,
		})
		c.emit(protocol.Event{
			"type":     "TRADE_DELIVERY_UNCONFIRMED",
			"session":  r.SessionID,
			"partner":  r.Partner,
			"attempts": r.Attempts,
		})
		c.logf("trade %s: no ack from %s after %d sends, payload journaled for manual recovery",
			r.SessionID, r.Partner, r.Attempts)
		return
	}
	r.Attempts++
	if err := c.tr.Send(r.Msg); err != nil {
		c.logf("resend trade execute: %v", err)
	}
	c.retryEpoch++
	c.retryTimer = c.arm(timerRetry, c.retryEpoch, c.cfg.ExecRetryEvery)
}

// handleTradeExecute credits the partner's half. Crediting is
// unconditional once the frame correlates to the live session or the
// most recently ended one; a cancel racing the partner's execution must
// not void goods they already debited.
func (c *Coordinator) handleTradeExecute(m protocol.TradeExecuteMsg) {
	if m.SessionID == "" {
		return
	}
	if c.alreadyCredited(m.SessionID) {
		c.sendExecAck(m)
		return
	}
	live := c.session != nil && c.session.ID == m.SessionID && c.session.Partner.ID == m.From
	past := c.recent != nil && c.recent.ID == m.SessionID && c.recent.Partner == m.From
	if !live && !past {
		return
	}

	var gained []string
	for _, snap := range m.Creatures {
		ref, err := c.inv.AddCreature(snap)
		if err != nil {
			c.logf("credit creature from %s: %v", m.From, err)
			c.record("CREDIT_SKIPPED", m.SessionID, m.From, map[string]any{
				"species": snap.SpeciesID,
				"error":   err.Error(),
			})
			continue
		}
		gained = append(gained, ref)
	}
	items := map[string]int{}
	for item, qty := range m.Items {
		if qty <= 0 {
			continue
		}
		if err := c.inv.AddItem(item, qty); err != nil {
			c.logf("credit item %s from %s: %v", item, m.From, err)
			continue
		}
		items[item] = qty
	}

	c.markCredited(m.SessionID)
	c.sendExecAck(m)
	c.record("TRADE_CREDITED", m.SessionID, m.From, map[string]any{
		"creature_refs": gained,
		"items":         items,
	})
	c.emit(protocol.Event{
		"type":      "TRADE_CREDITED",
		"session":   m.SessionID,
		"from":      m.From,
		"creatures": gained,
		"items":     items,
	})
}

func (c *Coordinator) sendExecAck(m protocol.TradeExecuteMsg) {
	if !c.tr.Connected() {
		return
	}
	_ = c.tr.Send(protocol.TradeExecAckMsg{
		Type:            protocol.TypeTradeExecAck,
		ProtocolVersion: protocol.Version,
		From:            c.self.ID,
		To:              m.From,
		SessionID:       m.SessionID,
	})
}

func (c *Coordinator) handleTradeExecAck(m protocol.TradeExecAckMsg) {
	r := c.inflight
	if r == nil || r.SessionID != m.SessionID || r.Partner != m.From {
		return
	}
	c.inflight = nil
	c.retryEpoch++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.record("DELIVERY_CONFIRMED", r.SessionID, r.Partner, map[string]any{"attempts": r.Attempts})
	c.emit(protocol.Event{"type": "TRADE_DELIVERED", "session": r.SessionID, "attempts": r.Attempts})
}

func (c *Coordinator) alreadyCredited(sid string) bool {
	for _, s := range c.credited {
		if s == sid {
			return true
		}
	}
	return false
}

func (c *Coordinator) markCredited(sid string) {
	c.credited = append(c.credited, sid)
	if len(c.credited) > creditedKeep {
		c.credited = c.credited[len(c.credited)-creditedKeep:]
	}
}
