package trade

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"wildlink.gg/internal/catalogs"
	"wildlink.gg/internal/creature"
	"wildlink.gg/internal/inventory"
	"wildlink.gg/internal/protocol"
)

// testBus stands in for the relay: every sent frame is queued and then
// delivered to every peer, sender included, exactly like the broadcast
// hub behaves.
type testBus struct {
	frames [][]byte
	down   bool
}

type busTransport struct {
	b *testBus
}

func (t *busTransport) Send(v any) error {
	if t.b.down {
		return fmt.Errorf("relay down")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.b.frames = append(t.b.frames, raw)
	return nil
}

func (t *busTransport) Connected() bool { return !t.b.down }

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

type memHist struct {
	last time.Time
	ok   bool
	recs []CompletedTrade
}

func (h *memHist) LastCompleted() (time.Time, bool) { return h.last, h.ok }

func (h *memHist) RecordCompleted(rec CompletedTrade) error {
	h.recs = append(h.recs, rec)
	h.last = rec.CompletedAt
	h.ok = true
	return nil
}

type memJournal struct {
	entries []JournalEntry
}

func (j *memJournal) Record(e JournalEntry) error {
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) byEvent(event string) []JournalEntry {
	var out []JournalEntry
	for _, e := range j.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type tradePeer struct {
	co    *Coordinator
	inv   *inventory.Store
	locks *inventory.Locks
	hist  *memHist
	jour  *memJournal
}

type harness struct {
	t     *testing.T
	bus   *testBus
	clock *fakeClock
	cats  *catalogs.Catalogs
	rng   *rand.Rand

	a, b, c *tradePeer
	all     []*tradePeer
}

// newHarness builds three coordinators that share one bus and one
// clock. Tests drive the loop-side handlers directly, so no goroutines
// run and every interleaving is explicit.
func newHarness(t *testing.T) *harness {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join("..", "..", "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	h := &harness{
		t:     t,
		bus:   &testBus{},
		clock: &fakeClock{t: time.Unix(1_700_000_000, 0)},
		cats:  cats,
		rng:   rand.New(rand.NewSource(42)),
	}
	h.a = h.newPeer("P1", "mira")
	h.b = h.newPeer("P2", "kerrin")
	h.c = h.newPeer("P3", "sol")
	h.all = []*tradePeer{h.a, h.b, h.c}

	for _, p := range h.all {
		for _, q := range h.all {
			if p != q {
				p.co.handlePeerEvent(PeerEvent{Kind: PeerJoined, Peer: q.co.Self()})
			}
		}
	}
	return h
}

func (h *harness) newPeer(id, name string) *tradePeer {
	h.t.Helper()
	inv := inventory.NewStore(name, h.cats)
	locks := inventory.NewLocks()
	hist := &memHist{}
	jour := &memJournal{}
	co, err := New(Config{
		Self:              protocol.PeerRef{ID: id, Name: name},
		LockWindow:        5 * time.Second,
		Cooldown:          60 * time.Second,
		RequestTTL:        30 * time.Second,
		MaxCreatures:      3,
		MaxItemStacks:     8,
		ExecRetryEvery:    3 * time.Second,
		ExecRetryAttempts: 5,
	}, Deps{
		Inventory: inv,
		Catalog:   &h.cats.Items,
		Guard:     locks,
		Transport: &busTransport{b: h.bus},
		History:   hist,
		Journal:   jour,
	})
	if err != nil {
		h.t.Fatalf("new coordinator %s: %v", id, err)
	}
	co.now = h.clock.now
	h.t.Cleanup(co.Close)
	return &tradePeer{co: co, inv: inv, locks: locks, hist: hist, jour: jour}
}

// pump delivers queued frames to every peer until the bus drains,
// including frames generated while handling earlier ones.
func (h *harness) pump() {
	for len(h.bus.frames) > 0 {
		frames := h.bus.frames
		h.bus.frames = nil
		for _, raw := range frames {
			for _, p := range h.all {
				p.co.handleRaw(raw)
			}
		}
	}
}

// dropFrames discards everything queued, simulating relay loss.
func (h *harness) dropFrames() {
	h.bus.frames = nil
}

// roll seeds a fresh creature into a peer's inventory and returns its
// ref.
func (h *harness) roll(p *tradePeer, speciesID string) string {
	h.t.Helper()
	def, ok := h.cats.Species.Get(speciesID)
	if !ok {
		h.t.Fatalf("unknown species %s", speciesID)
	}
	cr := creature.Roll(def, p.inv.Tamer(), h.rng)
	p.inv.Put(cr)
	return cr.Ref
}

// openSession walks a request/accept exchange between two peers and
// returns the shared session id.
func (h *harness) openSession(from, to *tradePeer) string {
	h.t.Helper()
	if err := from.co.sendTradeRequest(to.co.Self().ID); err != nil {
		h.t.Fatalf("send request: %v", err)
	}
	h.pump()
	if err := to.co.acceptTradeRequest(); err != nil {
		h.t.Fatalf("accept request: %v", err)
	}
	h.pump()
	if from.co.session == nil || to.co.session == nil {
		h.t.Fatalf("session not open on both sides")
	}
	if from.co.session.ID != to.co.session.ID {
		h.t.Fatalf("session ids diverge: %s vs %s", from.co.session.ID, to.co.session.ID)
	}
	return from.co.session.ID
}

func drainEvents(c *Coordinator) []protocol.Event {
	var out []protocol.Event
	for {
		select {
		case ev := <-c.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(evs []protocol.Event, typ string) bool {
	for _, ev := range evs {
		if ev["type"] == typ {
			return true
		}
	}
	return false
}

func findEvent(evs []protocol.Event, typ string) (protocol.Event, bool) {
	for _, ev := range evs {
		if ev["type"] == typ {
			return ev, true
		}
	}
	return nil, false
}
