package creature

import (
	"fmt"
	"time"

	"wildlink.gg/internal/catalogs"
	"wildlink.gg/internal/protocol"
)

// Export serializes a creature for the wire. Derived stats are left out
// on purpose: the receiving side recomputes them from species bases.
func Export(c *Creature) protocol.CreatureSnapshot {
	snap := protocol.CreatureSnapshot{
		Ref:        c.Ref,
		SpeciesID:  c.SpeciesID,
		Nickname:   c.Nickname,
		Level:      c.Level,
		Experience: c.Experience,
		Moves:      append([]string(nil), c.Moves...),
		TamerName:  c.TamerName,
		CaughtAt:   c.CaughtAt.Unix(),
	}
	for i, g := range c.Genes {
		snap.Genes[i] = g
	}
	return snap
}

// Rehydrate builds a local creature from a wire snapshot. The species
// must already be resolved by the caller. A fresh ref is minted by the
// caller and the snapshot's ref is ignored. Out-of-range fields are
// clamped rather than rejected; only an unresolvable species is an
// error.
func Rehydrate(snap protocol.CreatureSnapshot, def catalogs.SpeciesDef, newRef string) (*Creature, error) {
	if snap.SpeciesID != def.ID {
		return nil, fmt.Errorf("species mismatch: snapshot %q, def %q", snap.SpeciesID, def.ID)
	}
	if newRef == "" {
		return nil, fmt.Errorf("empty ref for rehydrated creature")
	}

	cap := def.GeneCap
	if cap <= 0 || cap > DefaultGeneCap {
		cap = DefaultGeneCap
	}

	c := &Creature{
		Ref:        newRef,
		SpeciesID:  def.ID,
		Nickname:   snap.Nickname,
		Level:      clampInt(snap.Level, 1, MaxLevel),
		Experience: maxInt(snap.Experience, 0),
		TamerName:  snap.TamerName,
		CaughtAt:   unixOrZero(snap.CaughtAt),
	}
	if c.Nickname == "" {
		c.Nickname = def.Name
	}
	for i, g := range snap.Genes {
		c.Genes[i] = clampInt(g, 0, cap)
	}

	seen := map[string]bool{}
	for _, m := range snap.Moves {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		c.Moves = append(c.Moves, m)
		if len(c.Moves) == MaxMoves {
			break
		}
	}

	c.Stats = ComputeStats(def.BaseStats, c.Level, c.Genes)
	return c, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
