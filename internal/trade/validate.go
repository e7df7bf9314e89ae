package trade

import "fmt"

// checkCreatureAdd validates a single creature joining the offer.
func (c *Coordinator) checkCreatureAdd(o *Offer, ref string) error {
	if ref == "" {
		return ErrInvalidTarget
	}
	if len(o.Creatures) >= c.cfg.MaxCreatures {
		return ErrOfferFull
	}
	if o.HasCreature(ref) {
		return ErrAlreadyOffered
	}
	if !c.inv.OwnsCreature(ref) {
		return fmt.Errorf("%w: creature %s", ErrNotOwned, ref)
	}
	if c.creatureLocked(ref) {
		return fmt.Errorf("%w: %s", ErrCreatureLocked, ref)
	}
	return nil
}

// checkItemAdd validates raising an item stack by qty.
func (c *Coordinator) checkItemAdd(o *Offer, item string, qty int) error {
	if qty <= 0 {
		return ErrBadQuantity
	}
	if !c.cat.KnownItem(item) || !c.cat.ItemTradeable(item) {
		return fmt.Errorf("%w: %s", ErrNotTradeable, item)
	}
	if _, ok := o.Items[item]; !ok && len(o.Items) >= c.cfg.MaxItemStacks {
		return ErrOfferFull
	}
	want := o.Items[item] + qty
	if limit := c.cat.StackLimit(item); limit > 0 && want > limit {
		return fmt.Errorf("%w: %s max %d", ErrStackLimit, item, limit)
	}
	if !c.inv.OwnsItemQuantity(item, want) {
		return fmt.Errorf("%w: %s x%d", ErrNotOwned, item, want)
	}
	return nil
}

// validateOffer re-checks the whole local offer. Runs when this side
// readies, when the session locks and once more at execution; anything
// that drifted since the add (asset spent, creature tied up by another
// activity) fails here.
func (c *Coordinator) validateOffer(o *Offer) error {
	if len(o.Creatures) > c.cfg.MaxCreatures {
		return ErrOfferFull
	}
	seen := make(map[string]bool, len(o.Creatures))
	for _, ref := range o.Creatures {
		if seen[ref] {
			return fmt.Errorf("%w: creature %s", ErrAlreadyOffered, ref)
		}
		seen[ref] = true
		if !c.inv.OwnsCreature(ref) {
			return fmt.Errorf("%w: creature %s", ErrNotOwned, ref)
		}
		if c.creatureLocked(ref) {
			return fmt.Errorf("%w: %s", ErrCreatureLocked, ref)
		}
	}
	if len(o.Items) > c.cfg.MaxItemStacks {
		return ErrOfferFull
	}
	for item, qty := range o.Items {
		if qty <= 0 {
			return fmt.Errorf("%w: %s", ErrBadQuantity, item)
		}
		if !c.cat.KnownItem(item) || !c.cat.ItemTradeable(item) {
			return fmt.Errorf("%w: %s", ErrNotTradeable, item)
		}
		if limit := c.cat.StackLimit(item); limit > 0 && qty > limit {
			return fmt.Errorf("%w: %s max %d", ErrStackLimit, item, limit)
		}
		if !c.inv.OwnsItemQuantity(item, qty) {
			return fmt.Errorf("%w: %s x%d", ErrNotOwned, item, qty)
		}
	}
	return nil
}
