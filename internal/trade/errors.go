package trade

import (
	"errors"

	"wildlink.gg/internal/protocol"
)

var (
	ErrClosed = errors.New("trade coordinator closed")

	ErrAlreadyTrading = errors.New("already in a trade session")
	ErrOnCooldown     = errors.New("trade cooldown active")
	ErrNotConnected   = errors.New("not connected to the relay")
	ErrInvalidTarget  = errors.New("invalid trade target")
	ErrNoRequest      = errors.New("no pending trade request")
	ErrNoSession      = errors.New("no active trade session")
	ErrNotOpen        = errors.New("trade session is not open")
	ErrOfferReady     = errors.New("offer is marked ready")
	ErrNotOwned       = errors.New("not owned")
	ErrCreatureLocked = errors.New("creature is locked by another activity")
	ErrNotTradeable   = errors.New("item cannot be traded")
	ErrOfferFull      = errors.New("offer slots exhausted")
	ErrAlreadyOffered = errors.New("already in the offer")
	ErrNotInOffer     = errors.New("not in the offer")
	ErrBadQuantity    = errors.New("quantity must be positive")
	ErrStackLimit     = errors.New("stack size over catalog limit")
)

// CodeFor maps an operation error to its wire/event error code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyTrading):
		return protocol.ErrAlreadyTrading
	case errors.Is(err, ErrOnCooldown):
		return protocol.ErrOnCooldown
	case errors.Is(err, ErrNotConnected):
		return protocol.ErrNotConnected
	case errors.Is(err, ErrInvalidTarget):
		return protocol.ErrInvalidTarget
	case errors.Is(err, ErrNoRequest):
		return protocol.ErrNoRequest
	case errors.Is(err, ErrNoSession):
		return protocol.ErrNoSession
	case errors.Is(err, ErrNotOpen):
		return protocol.ErrNotOpen
	case errors.Is(err, ErrOfferReady):
		return protocol.ErrOfferReady
	case errors.Is(err, ErrNotOwned):
		return protocol.ErrNotOwned
	case errors.Is(err, ErrCreatureLocked):
		return protocol.ErrCreatureLocked
	case errors.Is(err, ErrNotTradeable):
		return protocol.ErrNotTradeable
	case errors.Is(err, ErrOfferFull), errors.Is(err, ErrStackLimit):
		return protocol.ErrOfferFull
	case errors.Is(err, ErrAlreadyOffered), errors.Is(err, ErrNotInOffer), errors.Is(err, ErrBadQuantity):
		return protocol.ErrBadRequest
	}
	return protocol.ErrInternal
}
