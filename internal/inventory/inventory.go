// Package inventory holds a peer's owned creatures and item stacks and
// answers the ownership questions the trade coordinator asks. All
// mutations go through the store so debits and credits stay atomic with
// respect to lookups.
package inventory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"wildlink.gg/internal/catalogs"
	"wildlink.gg/internal/creature"
	"wildlink.gg/internal/protocol"
)

type Store struct {
	mu        sync.Mutex
	tamer     string
	cats      *catalogs.Catalogs
	creatures map[string]*creature.Creature
	items     map[string]int
}

func NewStore(tamer string, cats *catalogs.Catalogs) *Store {
	return &Store{
		tamer:     tamer,
		cats:      cats,
		creatures: map[string]*creature.Creature{},
		items:     map[string]int{},
	}
}

func (s *Store) Tamer() string { return s.tamer }

// Put inserts an already-materialized creature, keyed by its ref.
func (s *Store) Put(c *creature.Creature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creatures[c.Ref] = c
}

// Grant adds qty of item without any catalog checks. Seeding only.
func (s *Store) Grant(item string, qty int) {
	if qty <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item] += qty
}

func (s *Store) OwnsCreature(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.creatures[ref]
	return ok
}

// Creature returns a copy of the creature with the given ref. Callers
// never see the stored instance.
func (s *Store) Creature(ref string) (*creature.Creature, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creatures[ref]
	if !ok {
		return nil, false
	}
	cp := *c
	cp.Moves = append([]string(nil), c.Moves...)
	return &cp, true
}

func (s *Store) OwnsItemQuantity(item string, qty int) bool {
	if qty <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[item] >= qty
}

func (s *Store) RemoveCreature(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creatures[ref]; !ok {
		return fmt.Errorf("remove creature: unknown ref %s", ref)
	}
	delete(s.creatures, ref)
	return nil
}

func (s *Store) RemoveItem(item string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("remove item %s: bad quantity %d", item, qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	have := s.items[item]
	if have < qty {
		return fmt.Errorf("remove item %s: have %d want %d", item, have, qty)
	}
	if have == qty {
		delete(s.items, item)
	} else {
		s.items[item] = have - qty
	}
	return nil
}

// AddCreature rehydrates a wire snapshot into a locally owned creature
// under a freshly minted ref and returns that ref. The snapshot's own
// ref belongs to the previous owner and is discarded.
func (s *Store) AddCreature(snap protocol.CreatureSnapshot) (string, error) {
	def, ok := s.cats.Species.Get(snap.SpeciesID)
	if !ok {
		return "", fmt.Errorf("add creature: unknown species %q", snap.SpeciesID)
	}
	c, err := creature.Rehydrate(snap, def, uuid.NewString())
	if err != nil {
		return "", fmt.Errorf("add creature: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creatures[c.Ref] = c
	return c.Ref, nil
}

func (s *Store) AddItem(item string, qty int) error {
	if item == "" {
		return fmt.Errorf("add item: empty id")
	}
	if qty <= 0 {
		return fmt.Errorf("add item %s: bad quantity %d", item, qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item] += qty
	return nil
}

// Creatures lists copies of all owned creatures sorted by ref.
func (s *Store) Creatures() []*creature.Creature {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]string, 0, len(s.creatures))
	for ref := range s.creatures {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	out := make([]*creature.Creature, 0, len(refs))
	for _, ref := range refs {
		c := s.creatures[ref]
		cp := *c
		cp.Moves = append([]string(nil), c.Moves...)
		out = append(out, &cp)
	}
	return out
}

// Items lists the item stacks sorted by id.
func (s *Store) Items() []protocol.ItemStack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ItemStack, 0, len(s.items))
	for item, count := range s.items {
		if count <= 0 {
			continue
		}
		out = append(out, protocol.ItemStack{Item: item, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

// Count returns the owned quantity of a single item.
func (s *Store) Count(item string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[item]
}
