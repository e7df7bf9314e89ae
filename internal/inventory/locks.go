package inventory

import "sync"

// Locks tracks creatures tied up by other activities (expedition,
// daycare, battle). A locked creature cannot be offered in a trade.
type Locks struct {
	mu   sync.Mutex
	refs map[string]string // ref -> activity
}

func NewLocks() *Locks {
	return &Locks{refs: map[string]string{}}
}

func (l *Locks) Lock(ref, activity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refs[ref] = activity
}

func (l *Locks) Unlock(ref string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.refs, ref)
}

func (l *Locks) CreatureLocked(ref string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.refs[ref]
	return ok
}

// Activity returns what a creature is locked by, if anything.
func (l *Locks) Activity(ref string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.refs[ref]
	return a, ok
}
