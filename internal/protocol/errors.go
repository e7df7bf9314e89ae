package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Operation preconditions.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrAlreadyTrading = "E_ALREADY_TRADING"
	ErrOnCooldown     = "E_ON_COOLDOWN"
	ErrNotConnected   = "E_NOT_CONNECTED"
	ErrInvalidTarget  = "E_INVALID_TARGET"
	ErrNoRequest      = "E_NO_REQUEST"
	ErrNoSession      = "E_NO_SESSION"
	ErrNotOpen        = "E_NOT_OPEN"
	ErrOfferReady     = "E_OFFER_READY"
	ErrOfferLocked    = "E_OFFER_LOCKED"

	// Offer validation.
	ErrNotOwned       = "E_NOT_OWNED"
	ErrCreatureLocked = "E_CREATURE_LOCKED"
	ErrNotTradeable   = "E_NOT_TRADEABLE"
	ErrOfferFull      = "E_OFFER_FULL"

	// Message handling.
	ErrStale    = "E_STALE"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrAlreadyTrading:  {},
	ErrOnCooldown:      {},
	ErrNotConnected:    {},
	ErrInvalidTarget:   {},
	ErrNoRequest:       {},
	ErrNoSession:       {},
	ErrNotOpen:         {},
	ErrOfferReady:      {},
	ErrOfferLocked:     {},
	ErrNotOwned:        {},
	ErrCreatureLocked:  {},
	ErrNotTradeable:    {},
	ErrOfferFull:       {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
