package gossip

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/internal/telemetry"
	"github.com/ryandielhenn/butterfly/pkg/member"
)

// probeLoop is the outbound half of SWIM. It walks a shuffled list of
// probe candidates, giving each one protocol period: a direct Ping,
// then PingReqs through other members, then suspicion.
func (s *Server) probeLoop(ctx context.Context) {
	var queue []member.Member
	for ctx.Err() == nil {
		start := s.clock.Now()

		if len(queue) == 0 {
			queue = s.probeCandidates()
			rand.Shuffle(len(queue), func(i, j int) { queue[i], queue[j] = queue[j], queue[i] })
		}
		if len(queue) == 0 {
			s.pingSeeds()
			s.sleepUntil(ctx, start.Add(s.timing.ProtocolPeriod()))
			continue
		}

		target := queue[0]
		queue = queue[1:]

		// The queue is a snapshot; skip members that stopped being
		// probe candidates since it was taken.
		e, ok := s.members.Get(target.ID)
		if !ok || !e.Probeable() || s.departedByOperator(target.ID) {
			continue
		}

		s.probe(ctx, e.Member)
		s.sleepUntil(ctx, start.Add(s.timing.ProtocolPeriod()))
	}
}

// probe runs one SWIM probe of target.
func (s *Server) probe(ctx context.Context, target member.Member) {
	ack := s.expectAck(target.ID)
	defer s.forgetAck(target.ID, ack)

	s.sendPing(target.SwimAddr(), target.ID, nil)
	if s.awaitAck(ctx, ack, s.timing.Ping) {
		telemetry.ProbeResults.WithLabelValues("ack").Inc()
		return
	}
	if ctx.Err() != nil {
		return
	}

	relays := s.pickRelays(target.ID, s.timing.PingReqTargets)
	s.log.Debug("ping timed out, asking relays",
		zap.String("member", target.ID), zap.Int("relays", len(relays)))
	for _, r := range relays {
		s.sendPingReq(r, target)
	}
	if s.awaitAck(ctx, ack, s.timing.PingReq) {
		telemetry.ProbeResults.WithLabelValues("indirect_ack").Inc()
		return
	}
	if ctx.Err() != nil {
		return
	}

	telemetry.ProbeResults.WithLabelValues("suspect").Inc()
	s.suspect(target.ID)
}

func (s *Server) awaitAck(ctx context.Context, ack <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-ack:
		return true
	case <-s.clock.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}

// pickRelays chooses up to n random probe candidates other than the
// target. Only Alive members are asked to relay.
func (s *Server) pickRelays(target string, n int) []member.Member {
	self := s.Self().ID
	var out []member.Member
	for _, m := range s.members.Alive() {
		if m.ID != target && m.ID != self {
			out = append(out, m)
		}
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// pingSeeds announces us to every seed. Their Acks introduce them as
// members.
func (s *Server) pingSeeds() {
	own := s.swim.LocalAddr()
	for _, addr := range s.Seeds() {
		if addr == own {
			continue
		}
		s.sendPing(addr, "", nil)
	}
}

func (s *Server) sleepUntil(ctx context.Context, deadline time.Time) {
	d := deadline.Sub(s.clock.Now())
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-s.clock.After(d):
	}
}
