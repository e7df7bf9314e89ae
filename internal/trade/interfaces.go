package trade

import (
	"time"

	"wildlink.gg/internal/creature"
	"wildlink.gg/internal/protocol"
)

// Inventory is the coordinator's only view of owned assets. The
// coordinator never touches storage directly: every ownership check,
// debit and credit goes through here.
type Inventory interface {
	OwnsCreature(ref string) bool
	Creature(ref string) (*creature.Creature, bool)
	OwnsItemQuantity(item string, qty int) bool
	RemoveCreature(ref string) error
	RemoveItem(item string, qty int) error
	AddCreature(snap protocol.CreatureSnapshot) (newRef string, err error)
	AddItem(item string, qty int) error
}

// Catalog answers whether an item id exists, whether it may be traded
// and how large one offered stack may be.
type Catalog interface {
	KnownItem(id string) bool
	ItemTradeable(id string) bool
	StackLimit(id string) int
}

// ActivityGuard reports creatures tied up elsewhere (expedition,
// daycare, battle). May be nil, in which case nothing is locked.
type ActivityGuard interface {
	CreatureLocked(ref string) bool
}

// Transport sends a message to the relay. Addressing lives inside the
// message itself; the relay fans every frame out to all peers.
type Transport interface {
	Send(v any) error
	Connected() bool
}

// History persists trade completion across restarts. The completion
// timestamp restores the cooldown window on startup.
type History interface {
	LastCompleted() (time.Time, bool)
	RecordCompleted(rec CompletedTrade) error
}

type CompletedTrade struct {
	SessionID     string
	Partner       string
	PartnerName   string
	CompletedAt   time.Time
	CreaturesSent int
	ItemsSent     int
}

// Journal is the append-only trade log. Delivery-unconfirmed entries
// carry the full execute payload so a stranded trade can be recovered
// by hand.
type Journal interface {
	Record(e JournalEntry) error
}

type JournalEntry struct {
	TS        int64          `json:"ts_ms"`
	Peer      string         `json:"peer"`
	Event     string         `json:"event"`
	SessionID string         `json:"session_id,omitempty"`
	Partner   string         `json:"partner,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// PeerEvent is presence news from the transport: roster entries from
// the welcome, then joins and leaves as they happen.
type PeerEvent struct {
	Kind PeerEventKind
	Peer protocol.PeerRef
}

type PeerEventKind int

const (
	PeerJoined PeerEventKind = iota + 1
	PeerLeft
)
