package trade

import (
	"errors"
	"testing"
	"time"
)

// lockAndExpire walks both sides to locked, then fires both lock
// timers. Frames stay queued until the caller pumps.
func lockAndExpire(t *testing.T, h *harness) {
	t.Helper()
	readyBoth(t, h)
	if h.a.co.session.State != StateLocked || h.b.co.session.State != StateLocked {
		t.Fatalf("not locked")
	}
	h.clock.advance(5 * time.Second)
	h.a.co.onLockExpired(h.a.co.lockEpoch)
	h.b.co.onLockExpired(h.b.co.lockEpoch)
}

func TestHappyPathSwapsAtomically(t *testing.T) {
	h := newHarness(t)
	wolf := h.roll(h.a, "EMBERWOLF")
	fin := h.roll(h.b, "TIDEFIN")
	h.a.inv.Grant("SUN_BERRY", 10)
	sid := h.openSession(h.a, h.b)

	wolfBefore, _ := h.a.inv.Creature(wolf)
	finBefore, _ := h.b.inv.Creature(fin)

	if err := h.a.co.addCreatureToOffer(wolf); err != nil {
		t.Fatalf("a add creature: %v", err)
	}
	if err := h.a.co.addItemToOffer("SUN_BERRY", 4); err != nil {
		t.Fatalf("a add item: %v", err)
	}
	if err := h.b.co.addCreatureToOffer(fin); err != nil {
		t.Fatalf("b add creature: %v", err)
	}
	h.pump()

	lockAndExpire(t, h)
	h.pump()

	// Both halves executed and acked.
	if h.a.co.session != nil || h.b.co.session != nil {
		t.Fatalf("sessions should be gone")
	}
	if h.a.co.inflight != nil || h.b.co.inflight != nil {
		t.Fatalf("execute records should be acked away")
	}
	if h.a.co.recent == nil || h.a.co.recent.State != StateCompleted {
		t.Fatalf("a recent: %+v", h.a.co.recent)
	}

	// Debits.
	if h.a.inv.OwnsCreature(wolf) {
		t.Fatalf("a still owns the traded wolf")
	}
	if h.b.inv.OwnsCreature(fin) {
		t.Fatalf("b still owns the traded fin")
	}
	if got := h.a.inv.Count("SUN_BERRY"); got != 6 {
		t.Fatalf("a berry balance: %d", got)
	}

	// Credits: same creature data under a freshly minted ref.
	var gotFin, gotWolf bool
	for _, cr := range h.a.inv.Creatures() {
		if cr.SpeciesID == "TIDEFIN" {
			gotFin = true
			if cr.Ref == fin {
				t.Fatalf("credited creature kept the old ref")
			}
			if cr.Genes != finBefore.Genes || cr.Level != finBefore.Level {
				t.Fatalf("fin payload mutated in transit")
			}
			if cr.TamerName != "kerrin" {
				t.Fatalf("fin lost original tamer: %q", cr.TamerName)
			}
		}
	}
	for _, cr := range h.b.inv.Creatures() {
		if cr.SpeciesID == "EMBERWOLF" {
			gotWolf = true
			if cr.Ref == wolf {
				t.Fatalf("credited creature kept the old ref")
			}
			if cr.Genes != wolfBefore.Genes {
				t.Fatalf("wolf payload mutated in transit")
			}
		}
	}
	if !gotFin || !gotWolf {
		t.Fatalf("creatures not credited: fin=%v wolf=%v", gotFin, gotWolf)
	}
	if got := h.b.inv.Count("SUN_BERRY"); got != 4 {
		t.Fatalf("b berry balance: %d", got)
	}

	// Completion bookkeeping.
	if len(h.a.hist.recs) != 1 || h.a.hist.recs[0].SessionID != sid {
		t.Fatalf("a history: %+v", h.a.hist.recs)
	}
	if h.a.hist.recs[0].CreaturesSent != 1 || h.a.hist.recs[0].ItemsSent != 4 {
		t.Fatalf("a history counters: %+v", h.a.hist.recs[0])
	}
	if !h.a.co.cooldownUntil.After(h.clock.now()) {
		t.Fatalf("cooldown not armed")
	}
	if len(h.a.jour.byEvent("TRADE_COMPLETED")) != 1 {
		t.Fatalf("a journal missing TRADE_COMPLETED")
	}
	if len(h.b.jour.byEvent("TRADE_CREDITED")) != 1 {
		t.Fatalf("b journal missing TRADE_CREDITED")
	}
	if len(h.a.jour.byEvent("DELIVERY_CONFIRMED")) != 1 {
		t.Fatalf("a journal missing DELIVERY_CONFIRMED")
	}

	evsA := drainEvents(h.a.co)
	if !hasEvent(evsA, "TRADE_COMPLETED") || !hasEvent(evsA, "TRADE_CREDITED") || !hasEvent(evsA, "TRADE_DELIVERED") {
		t.Fatalf("a events incomplete: %v", evsA)
	}
}

func TestExecuteValidationFailureCancelsWithoutDebit(t *testing.T) {
	h := newHarness(t)
	wolf := h.roll(h.a, "EMBERWOLF")
	h.a.inv.Grant("SUN_BERRY", 2)
	h.openSession(h.a, h.b)
	if err := h.a.co.addCreatureToOffer(wolf); err != nil {
		t.Fatalf("add creature: %v", err)
	}
	if err := h.a.co.addItemToOffer("SUN_BERRY", 2); err != nil {
		t.Fatalf("add item: %v", err)
	}
	h.pump()
	readyBoth(t, h)

	// Berries vanish during the countdown; the creature must not be
	// debited either, the whole execution aborts.
	if err := h.a.inv.RemoveItem("SUN_BERRY", 2); err != nil {
		t.Fatalf("spend: %v", err)
	}
	h.clock.advance(5 * time.Second)
	h.a.co.onLockExpired(h.a.co.lockEpoch)
	h.pump()

	if h.a.co.session != nil || h.b.co.session != nil {
		t.Fatalf("sessions survived execution-time failure")
	}
	if !h.a.inv.OwnsCreature(wolf) {
		t.Fatalf("creature debited despite aborted execution")
	}
	if h.a.co.inflight != nil {
		t.Fatalf("aborted execution left an execute record")
	}
	if h.a.co.recent == nil || h.a.co.recent.State != StateCancelled {
		t.Fatalf("a recent: %+v", h.a.co.recent)
	}
	// B never executed: its lock epoch went stale with the teardown.
	if len(h.b.inv.Items()) != 0 {
		t.Fatalf("b credited from a cancelled execution")
	}
}

func TestExecuteRetriesUntilAckAndCreditIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.a.inv.Grant("MOON_STONE", 3)
	h.openSession(h.a, h.b)
	if err := h.a.co.addItemToOffer("MOON_STONE", 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	h.pump()
	readyBoth(t, h)

	h.clock.advance(5 * time.Second)
	h.a.co.onLockExpired(h.a.co.lockEpoch)
	// First transmission is lost.
	h.dropFrames()
	if h.a.co.inflight == nil || h.a.co.inflight.Attempts != 1 {
		t.Fatalf("inflight after execute: %+v", h.a.co.inflight)
	}

	// Retry timer fires; this copy gets through.
	h.clock.advance(3 * time.Second)
	h.a.co.onRetryDue(h.a.co.retryEpoch)
	if h.a.co.inflight.Attempts != 2 {
		t.Fatalf("attempts: %d", h.a.co.inflight.Attempts)
	}
	retryFrame := append([]byte(nil), h.bus.frames[0]...)
	h.pump()

	if got := h.b.inv.Count("MOON_STONE"); got != 3 {
		t.Fatalf("b stones after credit: %d", got)
	}
	if h.a.co.inflight != nil {
		t.Fatalf("ack did not clear the execute record")
	}

	// A duplicate of the same execute frame re-acks without crediting
	// twice.
	h.b.co.handleRaw(retryFrame)
	if got := h.b.inv.Count("MOON_STONE"); got != 3 {
		t.Fatalf("duplicate execute double-credited: %d stones", got)
	}
	if len(h.bus.frames) != 1 {
		t.Fatalf("expected a lone re-ack frame, got %d", len(h.bus.frames))
	}
	if len(h.b.jour.byEvent("TRADE_CREDITED")) != 1 {
		t.Fatalf("credit journaled more than once")
	}
}

func TestRetryExhaustionJournalsForManualRecovery(t *testing.T) {
	h := newHarness(t)
	h.a.inv.Grant("EMBER_SHARD", 1)
	sid := h.openSession(h.a, h.b)
	if err := h.a.co.addItemToOffer("EMBER_SHARD", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	h.pump()
	readyBoth(t, h)

	h.clock.advance(5 * time.Second)
	h.a.co.onLockExpired(h.a.co.lockEpoch)
	h.dropFrames()
	drainEvents(h.a.co)

	// Partner never acks; every retransmission is lost.
	for i := 0; i < 4; i++ {
		h.clock.advance(3 * time.Second)
		h.a.co.onRetryDue(h.a.co.retryEpoch)
		h.dropFrames()
	}
	if h.a.co.inflight.Attempts != 5 {
		t.Fatalf("attempts before exhaustion: %d", h.a.co.inflight.Attempts)
	}
	h.clock.advance(3 * time.Second)
	h.a.co.onRetryDue(h.a.co.retryEpoch)

	if !h.a.co.inflight.Stranded {
		t.Fatalf("record not marked stranded")
	}
	if evs := drainEvents(h.a.co); !hasEvent(evs, "TRADE_DELIVERY_UNCONFIRMED") {
		t.Fatalf("missing delivery-unconfirmed event: %v", evs)
	}
	entries := h.a.jour.byEvent("DELIVERY_UNCONFIRMED")
	if len(entries) != 1 {
		t.Fatalf("journal entries: %d", len(entries))
	}
	if entries[0].SessionID != sid || entries[0].Detail["payload"] == nil {
		t.Fatalf("recovery entry incomplete: %+v", entries[0])
	}

	// A further stray timer does nothing.
	h.clock.advance(3 * time.Second)
	h.a.co.onRetryDue(h.a.co.retryEpoch)
	if len(h.a.jour.byEvent("DELIVERY_UNCONFIRMED")) != 1 {
		t.Fatalf("stranded record journaled twice")
	}

	// The debited goods are gone locally; only the journal holds them.
	if got := h.a.inv.Count("EMBER_SHARD"); got != 0 {
		t.Fatalf("debit reverted: %d", got)
	}
}

func TestLateExecuteAfterLocalCancelStillCredits(t *testing.T) {
	h := newHarness(t)
	h.a.inv.Grant("HEAL_TONIC", 2)
	h.openSession(h.a, h.b)
	if err := h.a.co.addItemToOffer("HEAL_TONIC", 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	h.pump()
	readyBoth(t, h)

	// A's countdown fires and executes; B cancels in the same instant,
	// before A's execute frame arrives.
	h.clock.advance(5 * time.Second)
	h.a.co.onLockExpired(h.a.co.lockEpoch)
	if err := h.b.co.cancelTrade(); err != nil {
		t.Fatalf("b cancel: %v", err)
	}
	h.pump()

	// B already ended the session, but the partner debited in good
	// faith: the goods must still land.
	if got := h.b.inv.Count("HEAL_TONIC"); got != 2 {
		t.Fatalf("late execute not credited: %d tonics", got)
	}
	if !h.b.co.alreadyCredited(h.b.co.recent.ID) {
		t.Fatalf("credit not recorded against the ended session")
	}
	// A saw the ack and closed out its delivery.
	if h.a.co.inflight != nil {
		t.Fatalf("a still waiting for ack")
	}
}

func TestCooldownAfterCompletionBlocksAndRestores(t *testing.T) {
	h := newHarness(t)
	h.a.inv.Grant("CALM_TONIC", 1)
	h.openSession(h.a, h.b)
	if err := h.a.co.addItemToOffer("CALM_TONIC", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	h.pump()
	lockAndExpire(t, h)
	h.pump()

	if err := h.a.co.sendTradeRequest("P3"); !errors.Is(err, ErrOnCooldown) {
		t.Fatalf("request during cooldown: %v", err)
	}

	// Inbound requests bounce off a cooling peer as well.
	if err := h.c.co.sendTradeRequest("P1"); err != nil {
		t.Fatalf("c request: %v", err)
	}
	h.pump()
	if h.a.co.pending != nil {
		t.Fatalf("cooling peer kept an inbound request")
	}
	if evs := drainEvents(h.c.co); !hasEvent(evs, "REQUEST_DECLINED") {
		t.Fatalf("c not declined: %v", evs)
	}

	h.clock.advance(61 * time.Second)
	if err := h.a.co.sendTradeRequest("P3"); err != nil {
		t.Fatalf("request after cooldown: %v", err)
	}

	// A fresh coordinator over the same history resumes the cooldown.
	replacement, err := New(Config{
		Self:     h.a.co.Self(),
		Cooldown: 60 * time.Second,
	}, Deps{
		Inventory: h.a.inv,
		Catalog:   &h.cats.Items,
		Transport: &busTransport{b: h.bus},
		History:   h.a.hist,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(replacement.Close)
	replacement.now = h.clock.now
	if !replacement.cooldownUntil.Equal(h.a.hist.last.Add(60 * time.Second)) {
		t.Fatalf("cooldown not restored from history: %v", replacement.cooldownUntil)
	}
}
