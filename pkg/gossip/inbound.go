package gossip

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/internal/codec"
	"github.com/ryandielhenn/butterfly/internal/telemetry"
	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
	"github.com/ryandielhenn/butterfly/pkg/transport"
	"github.com/ryandielhenn/butterfly/pkg/wire"
)

// inboundLoop receives SWIM datagrams until the socket is closed.
func (s *Server) inboundLoop(ctx context.Context) {
	buf := make([]byte, transport.MaxDatagramSize)
	for ctx.Err() == nil {
		n, from, err := s.swim.ReceiveFrom(buf)
		switch {
		case errors.Is(err, transport.ErrTimeout):
			continue
		case errors.Is(err, transport.ErrClosed):
			return
		case err != nil:
			s.log.Warn("swim receive failed", zap.Error(err))
			continue
		}

		data := buf[:n]
		msg, err := s.codec.DecodeMessage(data)
		if err != nil {
			s.dropMessage(err, from, data)
			continue
		}
		telemetry.SwimMessages.WithLabelValues("in", msg.Type.String()).Inc()
		s.handleSwim(msg, from, data)
	}
}

func (s *Server) handleSwim(msg *wire.Message, from string, raw []byte) {
	if msg.Sender().ID == s.Self().ID {
		// Usually a seed list that includes ourselves.
		return
	}
	switch msg.Type {
	case wire.TypePing:
		s.handlePing(msg, from)
	case wire.TypeAck:
		s.handleAck(msg, raw)
	case wire.TypePingReq:
		s.handlePingReq(msg)
	default:
		telemetry.DroppedMessages.WithLabelValues("unexpected_type").Inc()
		s.log.Debug("unexpected message on swim socket", zap.Stringer("type", msg.Type), zap.String("addr", from))
	}
}

func (s *Server) handlePing(msg *wire.Message, from string) {
	p := msg.Ping
	s.applyMember(p.From, member.Alive)
	s.processRumors(msg.Rumors)
	s.sendAck(from, p.From.ID, p.ForwardTo)
}

func (s *Server) handleAck(msg *wire.Message, raw []byte) {
	a := msg.Ack
	if a.ForwardTo != nil && a.ForwardTo.ID != s.Self().ID {
		// We relayed a PingReq; hand the Ack to whoever asked.
		s.sendRaw(append([]byte(nil), raw...), wire.TypeAck, a.ForwardTo.SwimAddr())
		return
	}
	s.applyMember(a.From, member.Alive)
	s.processRumors(msg.Rumors)
	s.deliverAck(a.From.ID)
}

func (s *Server) handlePingReq(msg *wire.Message) {
	req := msg.PingReq
	s.applyMember(req.From, member.Alive)
	s.processRumors(msg.Rumors)
	if req.Target.ID == s.Self().ID {
		return
	}
	requester := req.From
	s.sendPing(req.Target.SwimAddr(), req.Target.ID, &requester)
}

// processRumors decodes and ingests each record. A bad record is
// dropped alone.
func (s *Server) processRumors(recs []rumor.Record) {
	for _, rec := range recs {
		r, err := rec.Decode()
		if err != nil {
			telemetry.DroppedMessages.WithLabelValues("bad_rumor").Inc()
			s.log.Debug("dropping rumor", zap.Stringer("kind", rec.Kind), zap.Error(err))
			continue
		}
		s.ingest(r)
	}
}

func (s *Server) dropMessage(err error, from string, data []byte) {
	reason := "decode"
	switch {
	case errors.Is(err, wire.ErrDecrypt), errors.Is(err, wire.ErrNoRingKey):
		reason = "decrypt"
	case errors.Is(err, wire.ErrProtocolMismatch):
		reason = "protocol_mismatch"
	}
	telemetry.DroppedMessages.WithLabelValues(reason).Inc()

	fields := []zap.Field{zap.String("addr", from), zap.String("reason", reason), zap.Error(err)}
	if reason == "decrypt" {
		s.log.Warn("dropping message that failed to decrypt; check the ring key on both members", fields...)
		return
	}
	if ce := s.log.Check(zap.DebugLevel, "dropping malformed message"); ce != nil {
		if diag, derr := codec.Diagnose(data); derr == nil {
			fields = append(fields, zap.String("cbor", diag))
		}
		ce.Write(fields...)
	}
}

// expectAck registers interest in an Ack from id.
func (s *Server) expectAck(id string) chan struct{} {
	ch := make(chan struct{}, 1)
	s.acksMu.Lock()
	s.acks[id] = ch
	s.acksMu.Unlock()
	return ch
}

func (s *Server) forgetAck(id string, ch chan struct{}) {
	s.acksMu.Lock()
	if s.acks[id] == ch {
		delete(s.acks, id)
	}
	s.acksMu.Unlock()
}

func (s *Server) deliverAck(id string) {
	s.acksMu.Lock()
	ch, ok := s.acks[id]
	s.acksMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
