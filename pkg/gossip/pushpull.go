package gossip

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/internal/telemetry"
	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
	"github.com/ryandielhenn/butterfly/pkg/transport"
	"github.com/ryandielhenn/butterfly/pkg/wire"
)

// pushLoop sends hot rumors to a random fan-out every GossipPeriod. A
// round that overruns the period delays the next one.
func (s *Server) pushLoop(ctx context.Context) {
	for ctx.Err() == nil {
		start := s.clock.Now()
		s.pushRound(ctx)
		elapsed := s.clock.Now().Sub(start)
		telemetry.GossipRoundDuration.Observe(elapsed.Seconds())
		s.sleepUntil(ctx, start.Add(s.timing.GossipPeriod))
	}
}

func (s *Server) pushRound(ctx context.Context) {
	targets := s.pushTargets()
	var wg sync.WaitGroup
	for _, m := range targets {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pushTo(ctx, m)
		}()
	}
	wg.Wait()
}

func (s *Server) pushTargets() []member.Member {
	candidates := s.probeCandidates()
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > s.timing.GossipFanout {
		candidates = candidates[:s.timing.GossipFanout]
	}
	return candidates
}

func (s *Server) pushTo(ctx context.Context, m member.Member) {
	rs := s.rumors.RumorsToSend(m.ID, s.timing.MaxGossipRumors)
	if len(rs) == 0 {
		return
	}
	recs, err := rumor.EncodeAll(rs)
	if err != nil {
		s.log.Warn("failed to encode rumors", zap.Error(err))
		return
	}
	data, err := s.codec.EncodeMessage(wire.NewGossip(s.Self(), recs))
	if err != nil {
		s.log.Warn("failed to encode gossip", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timing.GossipSendTimeout())
	defer cancel()
	if err := s.gossipTx.Send(ctx, m.GossipAddr(), data); err != nil {
		s.log.Debug("gossip push failed", zap.String("member", m.ID), zap.String("addr", m.GossipAddr()), zap.Error(err))
		return
	}
	s.log.Debug("pushed rumors", zap.String("member", m.ID), zap.Int("rumors", len(recs)))
}

// pullLoop merges every inbound gossip batch.
func (s *Server) pullLoop(ctx context.Context) {
	for ctx.Err() == nil {
		data, err := s.gossipRx.Receive()
		if errors.Is(err, transport.ErrClosed) {
			return
		}
		if err != nil {
			s.log.Warn("gossip receive failed", zap.Error(err))
			continue
		}

		msg, err := s.codec.DecodeMessage(data)
		if err != nil {
			s.dropMessage(err, "", data)
			continue
		}
		if msg.Type != wire.TypeGossip {
			telemetry.DroppedMessages.WithLabelValues("unexpected_type").Inc()
			continue
		}
		s.processRumors(msg.Rumors)
	}
}
