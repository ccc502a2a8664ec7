package gossip

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/internal/telemetry"
	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
)

// ingest routes one rumor, local or remote, to the member list and the
// rumor store.
func (s *Server) ingest(r rumor.Rumor) bool {
	var changed bool
	switch v := r.(type) {
	case *rumor.Membership:
		changed = s.applyMember(v.Member, v.Health)
	case *rumor.Departure:
		changed = s.rumors.Insert(v)
		s.applyDeparture(v.MemberID)
	default:
		changed = s.rumors.Insert(r)
	}
	telemetry.RumorInserts.WithLabelValues(r.Kind().String(), strconv.FormatBool(changed)).Inc()
	return changed
}

// applyMember merges a claim about a member into the list and keeps
// the member's rumor in step so the change is gossiped.
func (s *Server) applyMember(m member.Member, h member.Health) bool {
	if m.ID == s.Self().ID {
		return s.applySelfClaim(m, h)
	}
	// An operator departure is final; no incarnation re-admits the id.
	if s.departedByOperator(m.ID) {
		return false
	}

	listChanged := s.members.Insert(m, h)
	r := rumor.NewMembership(m, h)
	storeChanged := s.rumors.Insert(r)
	if listChanged {
		if !storeChanged {
			s.rumors.MarkHot(rumor.KeyOf(r))
		}
		telemetry.HealthTransitions.WithLabelValues(h.String()).Inc()
		s.log.Debug("member updated",
			zap.String("member", m.ID),
			zap.String("addr", m.SwimAddr()),
			zap.Uint64("incarnation", m.Incarnation),
			zap.Stringer("health", h))
	}
	return listChanged || storeChanged
}

// applySelfClaim handles what others say about us. A higher Alive
// incarnation is adopted. Anything worse than Alive at our incarnation
// or above, Departed included, is refuted by advertising a higher
// incarnation. Claims below our incarnation are stale and ignored. Only
// a Departure rumor departs this member.
func (s *Server) applySelfClaim(m member.Member, h member.Health) bool {
	s.selfMu.Lock()
	self := s.self
	switch {
	case s.departed:
		s.selfMu.Unlock()
		return false
	case h == member.Alive && m.Incarnation > self.Incarnation:
		self.Incarnation = m.Incarnation
	case h != member.Alive && h.Valid() && m.Incarnation >= self.Incarnation:
		self.Incarnation = m.Incarnation + 1
		s.log.Info("refuting suspicion",
			zap.Stringer("health", h),
			zap.Uint64("claimed", m.Incarnation),
			zap.Uint64("incarnation", self.Incarnation))
	default:
		s.selfMu.Unlock()
		return false
	}
	s.self = self
	s.selfMu.Unlock()

	if err := s.cfg.Incarnation.Save(self.Incarnation); err != nil {
		s.log.Warn("failed to persist incarnation", zap.Uint64("incarnation", self.Incarnation), zap.Error(err))
	}
	s.members.Insert(self, member.Alive)
	r := rumor.NewMembership(self, member.Alive)
	if !s.rumors.Insert(r) {
		s.rumors.MarkHot(rumor.KeyOf(r))
	}
	return true
}

// applyDeparture short-circuits suspicion: the member is Departed now.
func (s *Server) applyDeparture(id string) {
	if id == s.Self().ID {
		s.selfMu.Lock()
		already := s.departed
		s.departed = true
		s.selfMu.Unlock()
		if !already {
			s.departSelf()
		}
		return
	}

	if !s.members.MarkDeparted(id) {
		return
	}
	telemetry.HealthTransitions.WithLabelValues(member.Departed.String()).Inc()
	if e, ok := s.members.Get(id); ok {
		r := rumor.NewMembership(e.Member, member.Departed)
		if !s.rumors.Insert(r) {
			s.rumors.MarkHot(rumor.KeyOf(r))
		}
	}
	s.log.Info("member departed", zap.String("member", id))
}

// departedByOperator reports whether a Departure rumor names id.
func (s *Server) departedByOperator(id string) bool {
	_, ok := s.rumors.Get(rumor.Key{Kind: rumor.KindDeparture, Key: rumor.DepartureKey, ID: id})
	return ok
}

// probeCandidates is the member list's probe set minus self and any
// member departed by an operator.
func (s *Server) probeCandidates() []member.Member {
	all := s.members.ProbeCandidates(s.Self().ID)
	out := all[:0]
	for _, m := range all {
		if !s.departedByOperator(m.ID) {
			out = append(out, m)
		}
	}
	return out
}

func (s *Server) departSelf() {
	self := s.Self()
	s.members.MarkDeparted(self.ID)
	s.rumors.Insert(rumor.NewMembership(self, member.Departed))
	s.log.Error("this member has been departed from the ring; it will not rejoin until its data is reset",
		zap.Uint64("incarnation", self.Incarnation))
}

// suspect marks a member that failed its probe.
func (s *Server) suspect(id string) {
	e, ok := s.members.Get(id)
	if !ok || e.Health != member.Alive {
		return
	}
	if s.applyMember(e.Member, member.Suspect) {
		s.log.Info("member suspected", zap.String("member", id), zap.Uint64("incarnation", e.Member.Incarnation))
	}
}

func (s *Server) updateMemberGauge() {
	counts := s.members.Counts()
	for _, h := range []member.Health{member.Alive, member.Suspect, member.Confirmed, member.Departed} {
		telemetry.Members.WithLabelValues(h.String()).Set(float64(counts[h]))
	}
}
