package protocol

import "encoding/json"

const Version = "1.0"

// Relay/presence message types.
const (
	TypeHello      = "HELLO"
	TypeWelcome    = "WELCOME"
	TypePeerJoined = "PEER_JOINED"
	TypePeerLeft   = "PEER_LEFT"
)

// Trade message types.
const (
	TypeTradeRequest = "TRADE_REQUEST"
	TypeTradeAccept  = "TRADE_ACCEPT"
	TypeTradeDecline = "TRADE_DECLINE"
	TypeOfferUpdate  = "OFFER_UPDATE"
	TypeReadyState   = "READY_STATE"
	TypeTradeCancel  = "TRADE_CANCEL"
	TypeTradeExecute = "TRADE_EXECUTE"
	TypeTradeExecAck = "TRADE_EXEC_ACK"
)

// IsTradeType reports whether t is one of the peer-to-peer trade
// message types the relay fans out.
func IsTradeType(t string) bool {
	switch t {
	case TypeTradeRequest, TypeTradeAccept, TypeTradeDecline, TypeOfferUpdate,
		TypeReadyState, TypeTradeCancel, TypeTradeExecute, TypeTradeExecAck:
		return true
	}
	return false
}

// BaseMessage lets us route unknown JSON messages by type and address
// without decoding the full payload.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	From            string `json:"from,omitempty"`
	To              string `json:"to,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
