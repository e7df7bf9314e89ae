package creature

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"wildlink.gg/internal/catalogs"
)

const (
	GeneCount = 6
	MaxMoves  = 4
	MaxLevel  = 100

	// DefaultGeneCap applies when a species does not declare its own.
	DefaultGeneCap = 31
)

// Gene slot order inside the Genes array.
const (
	GeneHP = iota
	GeneAtk
	GeneDef
	GeneSpA
	GeneSpD
	GeneSpe
)

// Creature is a single owned creature. Ref is unique per owner and is
// never reused across a trade: the receiving side mints a fresh one.
type Creature struct {
	Ref        string
	SpeciesID  string
	Nickname   string
	Level      int
	Experience int
	Genes      [GeneCount]int
	Moves      []string
	TamerName  string
	CaughtAt   time.Time
	Stats      Stats
}

// Stats are derived from species base stats, level and genes. They are
// recomputed wherever a creature is materialized and never taken from
// the wire.
type Stats struct {
	HP  int
	Atk int
	Def int
	SpA int
	SpD int
	Spe int
}

func ComputeStats(base catalogs.BaseStats, level int, genes [GeneCount]int) Stats {
	return Stats{
		HP:  (2*base.HP+genes[GeneHP])*level/100 + level + 10,
		Atk: (2*base.Atk+genes[GeneAtk])*level/100 + 5,
		Def: (2*base.Def+genes[GeneDef])*level/100 + 5,
		SpA: (2*base.SpA+genes[GeneSpA])*level/100 + 5,
		SpD: (2*base.SpD+genes[GeneSpD])*level/100 + 5,
		Spe: (2*base.Spe+genes[GeneSpe])*level/100 + 5,
	}
}

// Roll creates a fresh creature of the given species with random genes,
// level and moves. Used for starter rosters and test fixtures.
func Roll(def catalogs.SpeciesDef, tamer string, r *rand.Rand) *Creature {
	cap := def.GeneCap
	if cap <= 0 || cap > DefaultGeneCap {
		cap = DefaultGeneCap
	}
	var genes [GeneCount]int
	for i := range genes {
		genes[i] = r.Intn(cap + 1)
	}

	moves := make([]string, 0, MaxMoves)
	for _, m := range def.MovePool {
		if len(moves) == MaxMoves {
			break
		}
		moves = append(moves, m)
	}

	level := 5 + r.Intn(16)
	c := &Creature{
		Ref:        uuid.NewString(),
		SpeciesID:  def.ID,
		Nickname:   def.Name,
		Level:      level,
		Experience: level * level * level,
		Genes:      genes,
		Moves:      moves,
		TamerName:  tamer,
		CaughtAt:   time.Now().UTC(),
	}
	c.Stats = ComputeStats(def.BaseStats, c.Level, c.Genes)
	return c
}

func (c *Creature) String() string {
	return fmt.Sprintf("%s[%s] L%d %s", c.Nickname, c.SpeciesID, c.Level, c.Ref)
}
