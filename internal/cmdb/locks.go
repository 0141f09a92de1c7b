package cmdb

import (
	"slices"
	"sync"
)

// keyLocks is a table of per-key mutexes. Entries are reference counted and
// removed once no caller holds or waits on them.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[string]*keyLock)}
}

// lockSet names the keys one operation must hold. Items are always locked
// before links, and each kind in ascending key order, so two operations can
// never wait on each other in a cycle.
type lockSet struct {
	schema []string
	items  []string
	links  []string
}

func (s lockSet) ordered() []string {
	var out []string
	for _, group := range []struct {
		prefix string
		keys   []string
	}{
		{"schema/", s.schema},
		{"item/", s.items},
		{"link/", s.links},
	} {
		keys := slices.Clone(group.keys)
		slices.Sort(keys)
		for _, k := range slices.Compact(keys) {
			if k != "" {
				out = append(out, group.prefix+k)
			}
		}
	}
	return out
}

// lock acquires every key in s and returns the function that releases them.
func (l *keyLocks) lock(s lockSet) (unlock func()) {
	keys := s.ordered()
	held := make([]*keyLock, 0, len(keys))
	for _, k := range keys {
		l.mu.Lock()
		kl, ok := l.m[k]
		if !ok {
			kl = &keyLock{}
			l.m[k] = kl
		}
		kl.refs++
		l.mu.Unlock()

		kl.mu.Lock()
		held = append(held, kl)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(keys[i], held[i])
		}
	}
}

func (l *keyLocks) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.m, key)
	}
}

// size reports how many keys are held or awaited.
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
