package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ryandielhenn/butterfly/pkg/gossip"
	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
	"github.com/ryandielhenn/butterfly/pkg/transport"
	"github.com/ryandielhenn/butterfly/pkg/wire"
)

func receive(t *testing.T, rx transport.GossipReceiver, key *wire.RingKey) rumor.Rumor {
	t.Helper()
	data, err := rx.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	msg, err := wire.NewCodec(key).DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Type != wire.TypeGossip || len(msg.Rumors) != 1 {
		t.Fatalf("expected one-rumor gossip batch, got %s with %d rumors", msg.Type, len(msg.Rumors))
	}
	r, err := msg.Rumors[0].Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return r
}

func TestClientSendsEachKind(t *testing.T) {
	key, err := wire.GenerateRingKey("test")
	if err != nil {
		t.Fatalf("GenerateRingKey: %v", err)
	}
	f := transport.NewFabric()
	rx, err := f.Network("10.0.0.1").ListenGossip("10.0.0.1:9639")
	if err != nil {
		t.Fatalf("ListenGossip: %v", err)
	}
	defer rx.Close()

	c := New("10.0.0.1:9639", key, f.Network("10.0.0.9").GossipSender())
	ctx := context.Background()

	if err := c.SendDeparture(ctx, "b"); err != nil {
		t.Fatalf("SendDeparture: %v", err)
	}
	if d, ok := receive(t, rx, key).(*rumor.Departure); !ok || d.MemberID != "b" {
		t.Fatalf("expected departure of b")
	}

	if err := c.SendServiceConfig(ctx, "redis.default", 3, []byte("port = 6380"), false); err != nil {
		t.Fatalf("SendServiceConfig: %v", err)
	}
	sc, ok := receive(t, rx, key).(*rumor.ServiceConfig)
	if !ok || sc.Incarnation != 3 || string(sc.Config) != "port = 6380" {
		t.Fatalf("unexpected service config %+v", sc)
	}

	if err := c.SendServiceFile(ctx, "redis.default", "redis.conf", 1, []byte("bind 0.0.0.0"), false); err != nil {
		t.Fatalf("SendServiceFile: %v", err)
	}
	sf, ok := receive(t, rx, key).(*rumor.ServiceFile)
	if !ok || sf.Filename != "redis.conf" || sf.Checksum != rumor.Checksum([]byte("bind 0.0.0.0")) {
		t.Fatalf("unexpected service file %+v", sf)
	}
}

func TestClientRejectsBadInput(t *testing.T) {
	f := transport.NewFabric()
	c := New("10.0.0.1:9639", nil, f.Network("h").GossipSender())
	ctx := context.Background()

	if err := c.SendServiceConfig(ctx, "redis", 1, nil, false); err == nil {
		t.Fatalf("expected error for malformed group")
	}
	if err := c.SendServiceFile(ctx, "redis.default", "", 1, nil, false); err == nil {
		t.Fatalf("expected error for empty filename")
	}
	if err := c.SendDeparture(ctx, "b"); !errors.Is(err, transport.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable with no listener, got %v", err)
	}
}

func TestClientDepartsMemberOfRunningRing(t *testing.T) {
	key, err := wire.GenerateRingKey("test")
	if err != nil {
		t.Fatalf("GenerateRingKey: %v", err)
	}
	tm := gossip.DefaultTiming()
	tm.Ping = 40 * time.Millisecond
	tm.PingReq = 80 * time.Millisecond
	tm.GossipPeriod = 30 * time.Millisecond

	f := transport.NewFabric()
	start := func(id, host string, seeds ...string) *gossip.Server {
		s, err := gossip.New(gossip.Config{
			Self:    member.Member{ID: id, Address: host, SwimPort: 9638, GossipPort: 9639},
			Timing:  tm,
			Network: f.Network(host),
			RingKey: key,
			Seeds:   seeds,
		})
		if err != nil {
			t.Fatalf("New(%s): %v", id, err)
		}
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
		t.Cleanup(s.Stop)
		return s
	}
	a := start("a", "10.0.0.1")
	start("b", "10.0.0.2", a.Self().SwimAddr())

	waitFor := func(what string, cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if cond() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %s", what)
	}
	waitFor("b to join", func() bool { return len(a.Members().Alive()) == 2 })

	c := New(a.Self().GossipAddr(), key, f.Network("10.0.0.9").GossipSender())
	if err := c.SendDeparture(context.Background(), "b"); err != nil {
		t.Fatalf("SendDeparture: %v", err)
	}
	waitFor("b to be departed on a", func() bool {
		h, _ := a.Members().HealthOf("b")
		return h == member.Departed
	})
}
