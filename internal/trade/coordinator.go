// Package trade implements the bilateral session protocol: request and
// accept, mirrored offers, the ready/lock/execute state machine and the
// delivery-confirmation loop. A Coordinator owns all of one peer's
// trade state and mutates it from a single goroutine; operations from
// other goroutines are funneled through a command channel.
package trade

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"wildlink.gg/internal/protocol"
)

type Config struct {
	Self protocol.PeerRef

	// LockWindow is the countdown between both sides readying and the
	// exchange executing.
	LockWindow time.Duration
	// Cooldown blocks new outbound requests after a completed trade.
	Cooldown   time.Duration
	RequestTTL time.Duration

	MaxCreatures  int
	MaxItemStacks int

	ExecRetryEvery    time.Duration
	ExecRetryAttempts int
}

func (c *Config) normalize() {
	if c.LockWindow <= 0 {
		c.LockWindow = 5 * time.Second
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.RequestTTL <= 0 {
		c.RequestTTL = 30 * time.Second
	}
	if c.MaxCreatures <= 0 {
		c.MaxCreatures = 3
	}
	if c.MaxItemStacks <= 0 {
		c.MaxItemStacks = 8
	}
	if c.ExecRetryEvery <= 0 {
		c.ExecRetryEvery = 3 * time.Second
	}
	if c.ExecRetryAttempts <= 0 {
		c.ExecRetryAttempts = 5
	}
}

type Deps struct {
	Inventory Inventory
	Catalog   Catalog
	Guard     ActivityGuard
	Transport Transport

	// Optional (may be nil).
	History History
	Journal Journal
	Log     *log.Logger
}

type command struct {
	fn   func() error
	resp chan error
}

type timerKind int

const (
	timerLock timerKind = iota + 1
	timerRequest
	timerRetry
)

type timerEvent struct {
	kind  timerKind
	epoch uint64
}

type execRecord struct {
	SessionID string
	Partner   string
	Msg       protocol.TradeExecuteMsg
	Attempts  int
	Stranded  bool
}

// Coordinator drives one peer's trades.
// All state must be accessed only from the coordinator loop goroutine.
type Coordinator struct {
	cfg  Config
	self protocol.PeerRef

	inv   Inventory
	cat   Catalog
	guard ActivityGuard
	tr    Transport
	hist  History
	jour  Journal
	log   *log.Logger

	peers map[string]protocol.PeerRef

	session  *Session
	pending  *PendingRequest
	outbound *outboundRequest
	recent   *endedSession

	inflight *execRecord
	credited []string

	cooldownUntil time.Time

	lockEpoch    uint64
	lockDeadline time.Time
	lockTimer    *time.Timer
	reqEpoch     uint64
	reqTimer     *time.Timer
	retryEpoch   uint64
	retryTimer   *time.Timer

	inbox  chan []byte
	peerEv chan PeerEvent
	cmds   chan command
	timerC chan timerEvent
	events chan protocol.Event

	stop     chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	cfg.normalize()
	if cfg.Self.ID == "" {
		return nil, fmt.Errorf("trade: missing self peer id")
	}
	if deps.Inventory == nil || deps.Catalog == nil || deps.Transport == nil {
		return nil, fmt.Errorf("trade: inventory, catalog and transport are required")
	}

	c := &Coordinator{
		cfg:    cfg,
		self:   cfg.Self,
		inv:    deps.Inventory,
		cat:    deps.Catalog,
		guard:  deps.Guard,
		tr:     deps.Transport,
		hist:   deps.History,
		jour:   deps.Journal,
		log:    deps.Log,
		peers:  map[string]protocol.PeerRef{},
		inbox:  make(chan []byte, 256),
		peerEv: make(chan PeerEvent, 64),
		cmds:   make(chan command, 16),
		timerC: make(chan timerEvent, 16),
		events: make(chan protocol.Event, 256),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
	if c.hist != nil {
		if last, ok := c.hist.LastCompleted(); ok {
			c.cooldownUntil = last.Add(cfg.Cooldown)
		}
	}
	return c, nil
}

// Run processes messages, presence, commands and timers until ctx is
// cancelled or Close is called.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case raw := <-c.inbox:
			c.handleRaw(raw)
		case ev := <-c.peerEv:
			c.handlePeerEvent(ev)
		case cmd := <-c.cmds:
			cmd.resp <- cmd.fn()
		case te := <-c.timerC:
			c.handleTimer(te)
		}
	}
}

func (c *Coordinator) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		for _, t := range []*time.Timer{c.lockTimer, c.reqTimer, c.retryTimer} {
			if t != nil {
				t.Stop()
			}
		}
	})
}

func (c *Coordinator) Self() protocol.PeerRef { return c.self }

// Inbox receives raw relay frames.
func (c *Coordinator) Inbox() chan<- []byte { return c.inbox }

// PeerEvents receives presence updates from the transport.
func (c *Coordinator) PeerEvents() chan<- PeerEvent { return c.peerEv }

// Events delivers local notifications (session opened, offer changed,
// trade completed and so on) for UI consumption. When the buffer fills
// the oldest notification is dropped.
func (c *Coordinator) Events() <-chan protocol.Event { return c.events }

func (c *Coordinator) do(fn func() error) error {
	cmd := command{fn: fn, resp: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.stop:
		return ErrClosed
	}
	select {
	case err := <-cmd.resp:
		return err
	case <-c.stop:
		return ErrClosed
	}
}

func (c *Coordinator) handleTimer(te timerEvent) {
	switch te.kind {
	case timerLock:
		c.onLockExpired(te.epoch)
	case timerRequest:
		c.onRequestExpired(te.epoch)
	case timerRetry:
		c.onRetryDue(te.epoch)
	}
}

func (c *Coordinator) arm(kind timerKind, epoch uint64, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() {
		select {
		case c.timerC <- timerEvent{kind: kind, epoch: epoch}:
		case <-c.stop:
		}
	})
}

func (c *Coordinator) emit(ev protocol.Event) {
	if _, ok := ev["t"]; !ok {
		ev["t"] = c.now().UnixMilli()
	}
	select {
	case c.events <- ev:
		return
	default:
	}
	select {
	case <-c.events:
	default:
	}
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Coordinator) record(event, sessionID, partner string, detail map[string]any) {
	if c.jour == nil {
		return
	}
	err := c.jour.Record(JournalEntry{
		TS:        c.now().UnixMilli(),
		Peer:      c.self.ID,
		Event:     event,
		SessionID: sessionID,
		Partner:   partner,
		Detail:    detail,
	})
	if err != nil {
		c.logf("journal %s: %v", event, err)
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}

func (c *Coordinator) creatureLocked(ref string) bool {
	return c.guard != nil && c.guard.CreatureLocked(ref)
}

// OfferView and SessionView are copies handed out by Status.
type OfferView struct {
	Creatures []string
	Items     map[string]int
	Ready     bool
	Locked    bool
}

type SessionView struct {
	ID            string
	Partner       protocol.PeerRef
	State         State
	Mine          OfferView
	Theirs        OfferView
	TheirPreviews []protocol.CreatureSnapshot
	LockRemaining time.Duration
}

type Status struct {
	Session      *SessionView
	PendingFrom  *protocol.PeerRef
	OutboundTo   string
	CooldownLeft time.Duration
	AwaitingAck  string
	Peers        []protocol.PeerRef
}

func (c *Coordinator) Status() (Status, error) {
	var st Status
	err := c.do(func() error {
		st = c.status()
		return nil
	})
	return st, err
}

func (c *Coordinator) status() Status {
	now := c.now()
	st := Status{}
	if s := c.session; s != nil {
		view := &SessionView{
			ID:      s.ID,
			Partner: s.Partner,
			State:   s.State,
			Mine: OfferView{
				Creatures: s.Mine.creaturesCopy(),
				Items:     s.Mine.itemsCopy(),
				Ready:     s.Mine.Ready,
				Locked:    s.Mine.Locked,
			},
			Theirs: OfferView{
				Creatures: s.Theirs.creaturesCopy(),
				Items:     s.Theirs.itemsCopy(),
				Ready:     s.Theirs.Ready,
				Locked:    s.Theirs.Locked,
			},
			TheirPreviews: append([]protocol.CreatureSnapshot(nil), s.TheirPreviews...),
		}
		if s.State == StateLocked && c.lockDeadline.After(now) {
			view.LockRemaining = c.lockDeadline.Sub(now)
		}
		st.Session = view
	}
	if p := c.pending; p != nil {
		ref := p.From
		st.PendingFrom = &ref
	}
	if o := c.outbound; o != nil {
		st.OutboundTo = o.To
	}
	if c.cooldownUntil.After(now) {
		st.CooldownLeft = c.cooldownUntil.Sub(now)
	}
	if r := c.inflight; r != nil && !r.Stranded {
		st.AwaitingAck = r.SessionID
	}
	for _, p := range c.peers {
		st.Peers = append(st.Peers, p)
	}
	sort.Slice(st.Peers, func(i, j int) bool { return st.Peers[i].ID < st.Peers[j].ID })
	return st
}
