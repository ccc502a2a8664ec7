package gossip

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/internal/telemetry"
	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
	"github.com/ryandielhenn/butterfly/pkg/wire"
)

// piggyback returns the membership and departure rumors still hot for
// peer, up to MaxPiggyback. Passing "" sends nothing.
func (s *Server) piggyback(peer string) []rumor.Record {
	if peer == "" {
		return nil
	}
	rs := s.rumors.RumorsToSend(peer, s.timing.MaxPiggyback, rumor.KindMember, rumor.KindDeparture)
	recs, err := rumor.EncodeAll(rs)
	if err != nil {
		s.log.Warn("failed to encode piggyback rumors", zap.Error(err))
		return nil
	}
	return recs
}

func (s *Server) sendPing(to string, peer string, forwardTo *member.Member) {
	s.sendSwim(wire.NewPing(s.Self(), forwardTo, s.piggyback(peer)), to)
}

func (s *Server) sendAck(to string, peer string, forwardTo *member.Member) {
	s.sendSwim(wire.NewAck(s.Self(), forwardTo, s.piggyback(peer)), to)
}

func (s *Server) sendPingReq(relay member.Member, target member.Member) {
	s.sendSwim(wire.NewPingReq(s.Self(), target, s.piggyback(relay.ID)), relay.SwimAddr())
}

// sendSwim encodes and sends one SWIM datagram. Failures are logged and
// otherwise ignored: the probe cycle treats them as lost packets.
func (s *Server) sendSwim(msg *wire.Message, addr string) {
	data, err := s.codec.EncodeMessage(msg)
	if err != nil {
		s.log.Warn("failed to encode swim message", zap.Stringer("type", msg.Type), zap.Error(err))
		return
	}
	s.sendRaw(data, msg.Type, addr)
}

func (s *Server) sendRaw(data []byte, t wire.MessageType, addr string) {
	if err := s.swim.SendTo(data, addr); err != nil {
		s.log.Debug("swim send failed", zap.String("addr", addr), zap.Stringer("type", t), zap.Error(err))
		return
	}
	telemetry.SwimMessages.WithLabelValues("out", t.String()).Inc()
}
