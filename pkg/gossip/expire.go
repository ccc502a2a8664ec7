package gossip

import (
	"context"

	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/internal/telemetry"
	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
)

// expireLoop promotes long-Suspect members to Confirmed and
// long-Confirmed members to Departed.
func (s *Server) expireLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.timing.expireInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expire()
		}
	}
}

func (s *Server) expire() {
	for _, m := range s.members.ExpireSuspects(s.timing.SuspicionTimeout()) {
		s.expired(m, member.Confirmed)
	}
	for _, m := range s.members.ExpireConfirmed(s.timing.Departure) {
		s.expired(m, member.Departed)
	}
	s.updateMemberGauge()
}

func (s *Server) expired(m member.Member, h member.Health) {
	telemetry.HealthTransitions.WithLabelValues(h.String()).Inc()
	r := rumor.NewMembership(m, h)
	if !s.rumors.Insert(r) {
		s.rumors.MarkHot(rumor.KeyOf(r))
	}
	s.log.Warn("member expired", zap.String("member", m.ID), zap.Stringer("health", h))
}
