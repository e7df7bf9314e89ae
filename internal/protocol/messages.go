package protocol

// HELLO (peer -> relay)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PeerName        string `json:"peer_name"`
}

// WELCOME (relay -> peer): assigned id plus the current roster. The
// relay echoes the registered name back so a defaulted name is visible.
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	PeerID          string    `json:"peer_id"`
	PeerName        string    `json:"peer_name,omitempty"`
	Peers           []PeerRef `json:"peers,omitempty"`
}

type PeerRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// PEER_JOINED / PEER_LEFT (relay -> all peers)
type PeerJoinedMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Peer            PeerRef `json:"peer"`
}

type PeerLeftMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Peer            PeerRef `json:"peer"`
}

// TRADE_REQUEST (peer -> peer): no session exists yet, so no session_id.
type TradeRequestMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	From            string `json:"from"`
	FromName        string `json:"from_name,omitempty"`
	To              string `json:"to"`
}

// TRADE_ACCEPT (peer -> peer): the accepter mints the session id.
type TradeAcceptMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	From            string `json:"from"`
	To              string `json:"to"`
	SessionID       string `json:"session_id"`
}

// TRADE_DECLINE (peer -> peer): UX feedback for the requester only.
type TradeDeclineMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	From            string `json:"from"`
	To              string `json:"to"`
}

// OFFER_UPDATE (peer -> peer): the sender's full offer, not a diff.
// Previews let the partner render offered creatures before execution.
type OfferUpdateMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	From            string             `json:"from"`
	To              string             `json:"to"`
	SessionID       string             `json:"session_id"`
	CreatureRefs    []string           `json:"creature_refs"`
	Items           map[string]int     `json:"items"`
	Previews        []CreatureSnapshot `json:"creature_previews,omitempty"`
}

// READY_STATE (peer -> peer)
type ReadyStateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	From            string `json:"from"`
	To              string `json:"to"`
	SessionID       string `json:"session_id"`
	Ready           bool   `json:"ready"`
}

// TRADE_CANCEL (peer -> peer)
type TradeCancelMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	From            string `json:"from"`
	To              string `json:"to"`
	SessionID       string `json:"session_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// TRADE_EXECUTE (peer -> peer): the sender's debited side of the trade.
type TradeExecuteMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	From            string             `json:"from"`
	To              string             `json:"to"`
	SessionID       string             `json:"session_id"`
	Creatures       []CreatureSnapshot `json:"creatures,omitempty"`
	Items           map[string]int     `json:"items,omitempty"`
}

// TRADE_EXEC_ACK (peer -> peer): credit confirmation for a TRADE_EXECUTE.
type TradeExecAckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	From            string `json:"from"`
	To              string `json:"to"`
	SessionID       string `json:"session_id"`
}

// CreatureSnapshot is the full serialized state of a creature as carried
// by OFFER_UPDATE previews and TRADE_EXECUTE payloads. Derived stats are
// intentionally absent: receivers recompute them from genetics and the
// species catalog. Ref is the sender-side ref, informational only; the
// receiver mints a fresh one on credit.
type CreatureSnapshot struct {
	Ref        string   `json:"ref,omitempty"`
	SpeciesID  string   `json:"species_id"`
	Nickname   string   `json:"nickname,omitempty"`
	Level      int      `json:"level"`
	Experience int      `json:"experience"`
	Genes      [6]int   `json:"genes"`
	Moves      []string `json:"moves,omitempty"`
	TamerName  string   `json:"tamer_name,omitempty"`
	CaughtAt   int64    `json:"caught_at_unix,omitempty"`
}

// ItemStack is an inventory listing entry.
type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// Event is a loosely-typed notification surfaced to local observers
// (UI, logs). Not a wire message.
type Event map[string]interface{}
