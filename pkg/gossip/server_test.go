package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/ryandielhenn/butterfly/internal/clock"
	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
	"github.com/ryandielhenn/butterfly/pkg/transport"
	"github.com/ryandielhenn/butterfly/pkg/wire"
)

const (
	swimPort   = 9638
	gossipPort = 9639
)

func fastTiming() Timing {
	tm := DefaultTiming()
	tm.Ping = 40 * time.Millisecond
	tm.PingReq = 80 * time.Millisecond
	tm.GossipPeriod = 30 * time.Millisecond
	tm.ExpireInterval = 10 * time.Millisecond
	return tm
}

func testMember(id, host string) member.Member {
	return member.Member{ID: id, Address: host, SwimPort: swimPort, GossipPort: gossipPort}
}

func newTestServer(t *testing.T, f *transport.Fabric, id, host string, configure func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		Self:    testMember(id, host),
		Timing:  fastTiming(),
		Network: f.Network(host),
	}
	if configure != nil {
		configure(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", id, err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s): %v", id, err)
	}
	t.Cleanup(s.Stop)
	return s
}

func mustRingKey(t *testing.T) *wire.RingKey {
	t.Helper()
	k, err := wire.GenerateRingKey("test")
	if err != nil {
		t.Fatalf("GenerateRingKey: %v", err)
	}
	return k
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %s waiting for %s", timeout, what)
}

func healthOf(s *Server, id string) member.Health {
	h, ok := s.Members().HealthOf(id)
	if !ok {
		return member.Health(255)
	}
	return h
}

// startCluster starts a, b and c on hosts 10.0.0.1-3, seeded from a,
// and waits until each sees all three alive.
func startCluster(t *testing.T, f *transport.Fabric) (a, b, c *Server) {
	t.Helper()
	a = newTestServer(t, f, "a", "10.0.0.1", nil)
	seed := func(cfg *Config) { cfg.Seeds = []string{a.Self().SwimAddr()} }
	b = newTestServer(t, f, "b", "10.0.0.2", seed)
	c = newTestServer(t, f, "c", "10.0.0.3", seed)

	for _, s := range []*Server{a, b, c} {
		waitFor(t, 5*time.Second, s.Self().ID+" to see the full cluster", func() bool {
			return len(s.Members().Alive()) == 3
		})
	}
	return a, b, c
}

func TestClusterJoinsThroughSeed(t *testing.T) {
	f := transport.NewFabric()
	a, b, c := startCluster(t, f)

	// Every member's rumor reaches every store.
	for _, s := range []*Server{a, b, c} {
		waitFor(t, 5*time.Second, "member rumors", func() bool {
			return len(s.Rumors().ByKind(rumor.KindMember)) == 3
		})
	}
}

func TestIndirectAckPreventsSuspicion(t *testing.T) {
	f := transport.NewFabric()
	a, b, _ := startCluster(t, f)

	// a and b cannot talk directly; c relays.
	f.Block("10.0.0.1", "10.0.0.2")
	f.Block("10.0.0.2", "10.0.0.1")

	deadline := time.Now().Add(10 * a.Timing().ProtocolPeriod())
	for time.Now().Before(deadline) {
		if h := healthOf(a, "b"); h != member.Alive {
			t.Fatalf("a marked b %s despite relayed acks", h)
		}
		if h := healthOf(b, "a"); h != member.Alive {
			t.Fatalf("b marked a %s despite relayed acks", h)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUnresponsiveMemberIsSuspectedThenConfirmed(t *testing.T) {
	f := transport.NewFabric()
	a, _, _ := startCluster(t, f)

	f.Isolate("10.0.0.2")

	var seen []member.Health
	waitFor(t, 10*time.Second, "b to be confirmed", func() bool {
		h := healthOf(a, "b")
		if len(seen) == 0 || seen[len(seen)-1] != h {
			seen = append(seen, h)
		}
		return h == member.Confirmed
	})
	want := []member.Health{member.Alive, member.Suspect, member.Confirmed}
	if len(seen) != len(want) {
		t.Fatalf("health sequence %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("health sequence %v, want %v", seen, want)
		}
	}

	// Confirmed, non-persistent members are no longer probed.
	for _, m := range a.Members().ProbeCandidates("a") {
		if m.ID == "b" {
			t.Fatalf("confirmed member b still a probe candidate")
		}
	}
}

func TestDepartureBypassesSuspicion(t *testing.T) {
	f := transport.NewFabric()
	a, b, c := startCluster(t, f)

	if !a.Depart("b") {
		t.Fatalf("Depart should change state")
	}
	if h := healthOf(a, "b"); h != member.Departed {
		t.Fatalf("b should be departed on a immediately, got %s", h)
	}

	var seen []member.Health
	waitFor(t, 5*time.Second, "c to learn of the departure", func() bool {
		h := healthOf(c, "b")
		seen = append(seen, h)
		return h == member.Departed
	})
	for _, h := range seen {
		if h == member.Suspect || h == member.Confirmed {
			t.Fatalf("c saw b %s before departed", h)
		}
	}
	waitFor(t, 5*time.Second, "b to learn it was departed", b.Departed)

	// b keeps running but its Alive claims no longer count.
	time.Sleep(3 * a.Timing().ProtocolPeriod())
	if h := healthOf(a, "b"); h != member.Departed {
		t.Fatalf("departed member resurrected as %s", h)
	}
}

func TestSelfRefutationAdoptsHigherIncarnation(t *testing.T) {
	store := &MemoryIncarnationStore{}
	store.Save(4)
	f := transport.NewFabric()
	a := newTestServer(t, f, "a", "10.0.0.1", func(c *Config) { c.Incarnation = store })

	self := a.Self()
	n := self.Incarnation
	a.Members().Insert(self, member.Suspect)

	newer := self
	newer.Incarnation = n + 1
	if !a.Publish(rumor.NewMembership(newer, member.Alive)) {
		t.Fatalf("higher self incarnation should change state")
	}
	if got := a.Self().Incarnation; got != n+1 {
		t.Fatalf("self incarnation = %d, want %d", got, n+1)
	}
	if h := healthOf(a, "a"); h != member.Alive {
		t.Fatalf("self health = %s, want alive", h)
	}
	if stored, _ := store.Load(); stored != n+1 {
		t.Fatalf("stored incarnation = %d, want %d", stored, n+1)
	}
}

func TestSelfRefutesSuspicion(t *testing.T) {
	f := transport.NewFabric()
	a := newTestServer(t, f, "a", "10.0.0.1", nil)

	self := a.Self()
	n := self.Incarnation
	a.Publish(rumor.NewMembership(self, member.Suspect))

	if got := a.Self().Incarnation; got != n+1 {
		t.Fatalf("refutation should bump incarnation to %d, got %d", n+1, got)
	}
	r, ok := a.Rumors().Get(rumor.Key{Kind: rumor.KindMember, Key: rumor.MembershipKey, ID: "a"})
	if !ok {
		t.Fatalf("self rumor missing")
	}
	m := r.(*rumor.Membership)
	if m.Health != member.Alive || m.Member.Incarnation != n+1 {
		t.Fatalf("self rumor = %s@%d, want alive@%d", m.Health, m.Member.Incarnation, n+1)
	}

	// A stale suspicion is ignored.
	if a.Publish(rumor.NewMembership(self, member.Suspect)) {
		t.Fatalf("suspicion at an old incarnation should be ignored")
	}
}

func TestSuspicionIsRefutedAcrossCluster(t *testing.T) {
	f := transport.NewFabric()
	a, b, _ := startCluster(t, f)

	e, _ := a.Members().Get("b")
	n := e.Member.Incarnation
	a.Publish(rumor.NewMembership(e.Member, member.Suspect))
	if h := healthOf(a, "b"); h != member.Suspect {
		t.Fatalf("expected b suspect on a, got %s", h)
	}

	waitFor(t, 5*time.Second, "b to refute", func() bool {
		e, _ := a.Members().Get("b")
		return e.Health == member.Alive && e.Member.Incarnation > n
	})
	if got := b.Self().Incarnation; got <= n {
		t.Fatalf("b incarnation = %d, want > %d", got, n)
	}
}

func TestServiceRumorsSpread(t *testing.T) {
	f := transport.NewFabric()
	a, _, c := startCluster(t, f)

	a.Publish(&rumor.ServiceConfig{FromID: "a", ServiceGroup: "redis.default", Incarnation: 1, Config: []byte("port = 6379")})
	a.Publish(rumor.NewServiceFile("a", "redis.default", "redis.conf", 1, []byte("bind 0.0.0.0"), false))

	waitFor(t, 5*time.Second, "service rumors on c", func() bool {
		return len(c.Rumors().ByKey(rumor.KindServiceConfig, "redis.default")) == 1 &&
			len(c.Rumors().ByKey(rumor.KindServiceFile, "redis.default")) == 1
	})
}

func TestEncryptedRingRejectsStrangers(t *testing.T) {
	f := transport.NewFabric()
	key := mustRingKey(t)
	keyed := func(c *Config) { c.RingKey = key }

	a := newTestServer(t, f, "a", "10.0.0.1", keyed)
	seed := func(c *Config) {
		c.RingKey = key
		c.Seeds = []string{a.Self().SwimAddr()}
	}
	b := newTestServer(t, f, "b", "10.0.0.2", seed)
	stranger := newTestServer(t, f, "x", "10.0.0.9", func(c *Config) {
		c.Seeds = []string{a.Self().SwimAddr()}
	})

	waitFor(t, 5*time.Second, "keyed members to join", func() bool {
		return len(a.Members().Alive()) == 2 && len(b.Members().Alive()) == 2
	})
	time.Sleep(3 * a.Timing().ProtocolPeriod())
	if _, ok := a.Members().HealthOf("x"); ok {
		t.Fatalf("member without the ring key joined")
	}
	if len(stranger.Members().Alive()) != 1 {
		t.Fatalf("stranger should only know itself")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	f := transport.NewFabric()
	if _, err := New(Config{Network: f.Network("h")}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if _, err := New(Config{Self: testMember("a", "h")}); err == nil {
		t.Fatalf("expected error for missing network")
	}
	bad := fastTiming()
	bad.GossipFanout = 0
	if _, err := New(Config{Self: testMember("a", "h"), Network: f.Network("h"), Timing: bad}); err == nil {
		t.Fatalf("expected error for invalid timing")
	}
	s, err := New(Config{Self: testMember("a", "h"), Network: f.Network("h")})
	if err != nil {
		t.Fatalf("New with defaults: %v", err)
	}
	if s.Timing() != DefaultTiming() {
		t.Fatalf("zero timing should become defaults")
	}
}

func TestDepartedClaimAboutSelfFollowsIncarnation(t *testing.T) {
	store := &MemoryIncarnationStore{}
	store.Save(9)
	f := transport.NewFabric()
	a := newTestServer(t, f, "a", "10.0.0.1", func(c *Config) { c.Incarnation = store })

	// A departure left over from an earlier run is stale.
	stale := a.Self()
	stale.Incarnation = 1
	if a.Publish(rumor.NewMembership(stale, member.Departed)) {
		t.Fatalf("departed claim below our incarnation should be ignored")
	}
	if a.Departed() || healthOf(a, "a") != member.Alive || a.Self().Incarnation != 10 {
		t.Fatalf("stale claim changed self: departed=%v health=%s incarnation=%d",
			a.Departed(), healthOf(a, "a"), a.Self().Incarnation)
	}

	// At our incarnation it is refuted like any other suspicion.
	if !a.Publish(rumor.NewMembership(a.Self(), member.Departed)) {
		t.Fatalf("current departed claim should be refuted")
	}
	if a.Departed() || healthOf(a, "a") != member.Alive || a.Self().Incarnation != 11 {
		t.Fatalf("refutation failed: departed=%v health=%s incarnation=%d",
			a.Departed(), healthOf(a, "a"), a.Self().Incarnation)
	}

	// Only a Departure rumor departs us.
	if !a.Depart("a") || !a.Departed() {
		t.Fatalf("departure rumor about self should depart this member")
	}
}

func TestOperatorDepartureIsFinal(t *testing.T) {
	f := transport.NewFabric()
	a := newTestServer(t, f, "a", "10.0.0.1", nil)

	b := testMember("b", "10.0.0.2")
	b.Incarnation = 3
	b.Persistent = true
	a.Publish(rumor.NewMembership(b, member.Alive))
	if !a.Depart("b") {
		t.Fatalf("Depart should change state")
	}

	b.Incarnation = 4
	if a.Publish(rumor.NewMembership(b, member.Alive)) {
		t.Fatalf("higher incarnation re-admitted a departed member")
	}
	if h := healthOf(a, "b"); h != member.Departed {
		t.Fatalf("b = %s, want departed", h)
	}
	r, ok := a.Rumors().Get(rumor.Key{Kind: rumor.KindMember, Key: rumor.MembershipKey, ID: "b"})
	if !ok || r.(*rumor.Membership).Health != member.Departed {
		t.Fatalf("member rumor for b should stay departed, got %v", r)
	}
	for _, m := range a.probeCandidates() {
		if m.ID == "b" {
			t.Fatalf("departed persistent member is still probed")
		}
	}
}

func TestSetSeedsReplacesSeeds(t *testing.T) {
	f := transport.NewFabric()
	s, err := New(Config{Self: testMember("a", "h"), Network: f.Network("h"), Seeds: []string{"10.0.0.2:9638"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.AddSeeds("10.0.0.3:9638", "10.0.0.2:9638")
	if got := s.Seeds(); len(got) != 2 {
		t.Fatalf("Seeds = %v, want two", got)
	}

	s.SetSeeds("10.0.0.4:9638", "", "10.0.0.4:9638")
	if got := s.Seeds(); len(got) != 1 || got[0] != "10.0.0.4:9638" {
		t.Fatalf("Seeds = %v, want [10.0.0.4:9638]", got)
	}
}

func TestExpiryUsesProtocolTimeouts(t *testing.T) {
	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f := transport.NewFabric()
	a := newTestServer(t, f, "a", "10.0.0.1", func(c *Config) {
		c.Timing = DefaultTiming()
		c.Clock = fake
	})
	tm := a.Timing()
	// The expire ticker plus the probe and push loops' waits.
	fake.WaitForTimers(3)

	b := testMember("b", "10.0.0.2")
	b.Incarnation = 1
	a.Publish(rumor.NewMembership(b, member.Suspect))

	fake.Advance(tm.SuspicionTimeout())
	if h := healthOf(a, "b"); h != member.Suspect {
		t.Fatalf("b = %s at the suspicion timeout, want suspect", h)
	}
	fake.Advance(tm.expireInterval())
	waitFor(t, 5*time.Second, "b to be confirmed", func() bool {
		return healthOf(a, "b") == member.Confirmed
	})

	fake.Advance(tm.Departure)
	if h := healthOf(a, "b"); h != member.Confirmed {
		t.Fatalf("b = %s at the departure timeout, want confirmed", h)
	}
	fake.Advance(tm.expireInterval())
	waitFor(t, 5*time.Second, "b to be departed", func() bool {
		return healthOf(a, "b") == member.Departed
	})
}
