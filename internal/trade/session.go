package trade

import (
	"time"

	"wildlink.gg/internal/protocol"
)

type State int

const (
	StateOpen State = iota + 1
	StateLocked
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateLocked:
		return "LOCKED"
	case StateCompleted:
		return "COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Offer is one side's half of a session. Creature refs keep insertion
// order but behave as a set; items map id to quantity.
type Offer struct {
	Creatures []string
	Items     map[string]int
	Ready     bool
	Locked    bool
}

func newOffer() *Offer {
	return &Offer{Items: map[string]int{}}
}

func (o *Offer) HasCreature(ref string) bool {
	for _, r := range o.Creatures {
		if r == ref {
			return true
		}
	}
	return false
}

func (o *Offer) Empty() bool {
	return len(o.Creatures) == 0 && len(o.Items) == 0
}

func (o *Offer) itemsCopy() map[string]int {
	out := make(map[string]int, len(o.Items))
	for k, v := range o.Items {
		out[k] = v
	}
	return out
}

// creaturesCopy never returns nil: OFFER_UPDATE carries an empty
// array, not null, for a bare offer.
func (o *Offer) creaturesCopy() []string {
	out := make([]string, len(o.Creatures))
	copy(out, o.Creatures)
	return out
}

// Session is one bilateral trade. Each peer holds its own mirrored
// instance; the session id is minted by the accepting side and shared
// over the wire.
type Session struct {
	ID        string
	Partner   protocol.PeerRef
	State     State
	Mine      *Offer
	Theirs    *Offer
	StartedAt time.Time

	// Partner creature previews from their last OFFER_UPDATE, for
	// display only. Credits always rehydrate from the TRADE_EXECUTE
	// payload instead.
	TheirPreviews []protocol.CreatureSnapshot
}

func newSession(id string, partner protocol.PeerRef, at time.Time) *Session {
	return &Session{
		ID:        id,
		Partner:   partner,
		State:     StateOpen,
		Mine:      newOffer(),
		Theirs:    newOffer(),
		StartedAt: at,
	}
}

// PendingRequest is the single inbound request slot. Further requests
// are auto-declined while it is occupied.
type PendingRequest struct {
	From       protocol.PeerRef
	ReceivedAt time.Time
}

// outboundRequest remembers the last request this peer sent, so that
// only an accept from that target within the TTL opens a session.
type outboundRequest struct {
	To     string
	SentAt time.Time
}

// endedSession keeps just enough of the most recently finished session
// to correlate late TRADE_EXECUTE and TRADE_CANCEL frames.
type endedSession struct {
	ID      string
	Partner string
	State   State
	EndedAt time.Time
}
