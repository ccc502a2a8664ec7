package rumor

import (
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultCoolDown is how many times a rumor is sent to each peer before
// it goes cold for that peer.
const DefaultCoolDown = 2

// Store holds every rumor this node knows, addressed by (kind, key, id),
// plus per-peer heat: how many times each rumor has been sent to each
// peer since it last changed.
type Store struct {
	mu     sync.RWMutex
	rumors map[Kind]map[string]map[string]Rumor
	heat   map[Key]map[string]int

	coolDown int
	updates  atomic.Uint64
}

// NewStore returns an empty store. A coolDown <= 0 means DefaultCoolDown.
func NewStore(coolDown int) *Store {
	if coolDown <= 0 {
		coolDown = DefaultCoolDown
	}
	return &Store{
		rumors:   make(map[Kind]map[string]map[string]Rumor),
		heat:     make(map[Key]map[string]int),
		coolDown: coolDown,
	}
}

// Insert merges r into the store. It returns true if the stored state
// changed, in which case the rumor is hot again for every peer.
func (s *Store) Insert(r Rumor) bool {
	k := KeyOf(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.rumors[k.Kind]
	if !ok {
		byKey = make(map[string]map[string]Rumor)
		s.rumors[k.Kind] = byKey
	}
	byID, ok := byKey[k.Key]
	if !ok {
		byID = make(map[string]Rumor)
		byKey[k.Key] = byID
	}

	if current, ok := byID[k.ID]; ok {
		merged, changed := current.Merge(r)
		if !changed {
			return false
		}
		byID[k.ID] = merged
	} else {
		byID[k.ID] = r
	}

	delete(s.heat, k)
	s.updates.Add(1)
	return true
}

// MarkHot makes the rumor at k hot for every peer without changing it.
func (s *Store) MarkHot(k Key) {
	s.mu.Lock()
	delete(s.heat, k)
	s.mu.Unlock()
}

// RumorsToSend returns up to max rumors that are still hot for peer,
// least-sent first, and counts them as sent. With no kinds given every
// kind is eligible.
func (s *Store) RumorsToSend(peer string, max int, kinds ...Kind) []Rumor {
	if max <= 0 {
		return nil
	}
	if len(kinds) == 0 {
		kinds = Kinds
	}

	type candidate struct {
		key   Key
		r     Rumor
		sends int
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var hot []candidate
	for _, kind := range kinds {
		for key, byID := range s.rumors[kind] {
			for id, r := range byID {
				k := Key{Kind: kind, Key: key, ID: id}
				sends := s.heat[k][peer]
				if sends >= s.coolDown {
					continue
				}
				hot = append(hot, candidate{key: k, r: r, sends: sends})
			}
		}
	}

	slices.SortFunc(hot, func(a, b candidate) int {
		if a.sends != b.sends {
			return a.sends - b.sends
		}
		if a.key.less(b.key) {
			return -1
		}
		if b.key.less(a.key) {
			return 1
		}
		return 0
	})
	if len(hot) > max {
		hot = hot[:max]
	}

	out := make([]Rumor, 0, len(hot))
	for _, c := range hot {
		peers, ok := s.heat[c.key]
		if !ok {
			peers = make(map[string]int)
			s.heat[c.key] = peers
		}
		peers[peer]++
		out = append(out, c.r)
	}
	return out
}

// Heat returns how many times the rumor at k has been sent to peer
// since it last changed.
func (s *Store) Heat(k Key, peer string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heat[k][peer]
}

// Get returns the rumor stored at k.
func (s *Store) Get(k Key) (Rumor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rumors[k.Kind][k.Key][k.ID]
	return r, ok
}

// ByKey returns every rumor of kind under key, ordered by id.
func (s *Store) ByKey(kind Kind, key string) []Rumor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.rumors[kind][key])
}

// ByKind returns every rumor of kind, ordered by key then id.
func (s *Store) ByKind(kind Kind) []Rumor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Rumor
	for _, key := range sortedKeys(s.rumors[kind]) {
		out = append(out, sortedByID(s.rumors[kind][key])...)
	}
	return out
}

// Keys returns the distinct keys holding rumors of kind.
func (s *Store) Keys(kind Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.rumors[kind])
}

// Len is the total number of stored rumors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, byKey := range s.rumors {
		for _, byID := range byKey {
			n += len(byID)
		}
	}
	return n
}

// UpdateCounter increases every time the store changes. Readers that
// build views from the store can poll it to skip unchanged rebuilds.
func (s *Store) UpdateCounter() uint64 {
	return s.updates.Load()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func sortedByID(byID map[string]Rumor) []Rumor {
	out := make([]Rumor, 0, len(byID))
	for _, id := range sortedKeys(byID) {
		out = append(out, byID[id])
	}
	return out
}
