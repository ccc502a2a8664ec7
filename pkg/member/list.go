package member

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/internal/clock"
)

// Entry is a snapshot of one member as the list sees it.
type Entry struct {
	Member          Member    `json:"member"`
	Health          Health    `json:"health"`
	HealthChangedAt time.Time `json:"health_changed_at"`
}

// List is the roster of every member this node has heard of. Members
// are never removed by the protocol; Departed entries stay so that a
// departed id is not re-admitted by stale rumors. Only Prune deletes.
type List struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	clock   clock.Clock
	log     *zap.Logger
}

// NewList returns an empty list. A nil clock uses the real clock and a
// nil logger discards output.
func NewList(clk clock.Clock, log *zap.Logger) *List {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &List{
		entries: make(map[string]*Entry),
		clock:   clk,
		log:     log.Named("memberlist"),
	}
}

// Insert merges a (member, health) claim and reports whether the
// list changed. See ShouldReplace for the rules.
func (l *List) Insert(m Member, h Health) bool {
	if !h.Valid() {
		l.log.Warn("rejecting member claim with unknown health",
			zap.String("member", m.ID), zap.Uint8("health", uint8(h)))
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.entries[m.ID]
	if !ok {
		l.entries[m.ID] = &Entry{Member: m, Health: h, HealthChangedAt: l.clock.Now()}
		return true
	}
	if !ShouldReplace(current.Member, current.Health, m, h) {
		return false
	}
	if current.Health != h {
		current.HealthChangedAt = l.clock.Now()
	}
	current.Member = m
	current.Health = h
	return true
}

// MarkDeparted moves id straight to Departed at its current
// incarnation, bypassing suspicion and confirmation. An unknown id is
// recorded as a bare departed entry so later rumors about it lose.
func (l *List) MarkDeparted(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.entries[id]
	if !ok {
		l.entries[id] = &Entry{Member: Member{ID: id}, Health: Departed, HealthChangedAt: l.clock.Now()}
		return true
	}
	if current.Health == Departed {
		return false
	}
	current.Health = Departed
	current.HealthChangedAt = l.clock.Now()
	return true
}

// HealthOf returns the health of id.
func (l *List) HealthOf(id string) (Health, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return 0, false
	}
	return e.Health, true
}

// Get returns the entry for id.
func (l *List) Get(id string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Alive returns every Alive member.
func (l *List) Alive() []Member { return l.withHealth(Alive) }

// Suspect returns every Suspect member.
func (l *List) Suspect() []Member { return l.withHealth(Suspect) }

// Confirmed returns every Confirmed member.
func (l *List) Confirmed() []Member { return l.withHealth(Confirmed) }

// Departed returns every Departed member.
func (l *List) Departed() []Member { return l.withHealth(Departed) }

func (l *List) withHealth(h Health) []Member {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Member, 0)
	for _, e := range l.entries {
		if e.Health == h {
			out = append(out, e.Member)
		}
	}
	sortMembers(out)
	return out
}

// Snapshot copies every entry, ordered by member id.
func (l *List) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Member.ID < out[j].Member.ID })
	return out
}

// Counts returns the number of members per health.
func (l *List) Counts() map[Health]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[Health]int, 4)
	for _, e := range l.entries {
		counts[e.Health]++
	}
	return counts
}

// Len is the number of known members, self and departed included.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ProbeCandidates returns the members the prober should cycle through:
// Alive and Suspect members, plus persistent members whatever their
// health. exclude is never returned.
func (l *List) ProbeCandidates(exclude string) []Member {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Member, 0, len(l.entries))
	for id, e := range l.entries {
		if id == exclude || !e.Probeable() {
			continue
		}
		out = append(out, e.Member)
	}
	sortMembers(out)
	return out
}

// Probeable reports whether the prober should still check this member.
// Persistent members are always probed so that a partition involving
// them heals once their Acks get through again.
func (e Entry) Probeable() bool {
	switch e.Health {
	case Alive, Suspect:
		return true
	default:
		return e.Member.Persistent
	}
}

// ExpireSuspects confirms every member that has been Suspect for longer
// than timeout and returns the members it changed.
func (l *List) ExpireSuspects(timeout time.Duration) []Member {
	return l.expire(Suspect, Confirmed, timeout)
}

// ExpireConfirmed departs every member that has been Confirmed for
// longer than timeout and returns the members it changed.
func (l *List) ExpireConfirmed(timeout time.Duration) []Member {
	return l.expire(Confirmed, Departed, timeout)
}

func (l *List) expire(from, to Health, timeout time.Duration) []Member {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	var changed []Member
	for _, e := range l.entries {
		if e.Health != from || now.Sub(e.HealthChangedAt) <= timeout {
			continue
		}
		e.Health = to
		e.HealthChangedAt = now
		changed = append(changed, e.Member)
	}
	sortMembers(changed)
	return changed
}

// Prune forgets id entirely. The protocol never calls this; it exists
// for operators and supervisors that garbage-collect departed members.
func (l *List) Prune(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[id]; !ok {
		return false
	}
	delete(l.entries, id)
	return true
}

func sortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}
