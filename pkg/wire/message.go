package wire

import (
	"strconv"

	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
)

// MessageType tags which body a Message carries.
type MessageType uint8

const (
	TypePing MessageType = iota + 1
	TypeAck
	TypePingReq
	TypeGossip
)

func (t MessageType) String() string {
	switch t {
	case TypePing:
		return "ping"
	case TypeAck:
		return "ack"
	case TypePingReq:
		return "pingreq"
	case TypeGossip:
		return "gossip"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// Ping asks From's target to prove it is alive. ForwardTo is set when
// the sender is relaying a PingReq: the Ack goes back to the relay,
// which hands it to ForwardTo.
type Ping struct {
	From      member.Member  `cbor:"from"`
	ForwardTo *member.Member `cbor:"forward_to,omitempty"`
}

// Ack answers a Ping. ForwardTo is copied from the Ping.
type Ack struct {
	From      member.Member  `cbor:"from"`
	ForwardTo *member.Member `cbor:"forward_to,omitempty"`
}

// PingReq asks the receiver to ping Target on From's behalf.
type PingReq struct {
	From   member.Member `cbor:"from"`
	Target member.Member `cbor:"target"`
}

// Gossip is a push of accumulated rumors.
type Gossip struct {
	From member.Member `cbor:"from"`
}

// Message is everything that travels between members. Exactly one body
// matching Type is set. Rumors are piggybacked on SWIM messages and are
// the whole point of a Gossip message.
type Message struct {
	Type    MessageType    `cbor:"type"`
	Ping    *Ping          `cbor:"ping,omitempty"`
	Ack     *Ack           `cbor:"ack,omitempty"`
	PingReq *PingReq       `cbor:"pingreq,omitempty"`
	Gossip  *Gossip        `cbor:"gossip,omitempty"`
	Rumors  []rumor.Record `cbor:"rumors,omitempty"`
}

// NewPing builds a Ping message.
func NewPing(from member.Member, forwardTo *member.Member, rumors []rumor.Record) *Message {
	return &Message{Type: TypePing, Ping: &Ping{From: from, ForwardTo: forwardTo}, Rumors: rumors}
}

// NewAck builds an Ack message.
func NewAck(from member.Member, forwardTo *member.Member, rumors []rumor.Record) *Message {
	return &Message{Type: TypeAck, Ack: &Ack{From: from, ForwardTo: forwardTo}, Rumors: rumors}
}

// NewPingReq builds a PingReq message.
func NewPingReq(from, target member.Member, rumors []rumor.Record) *Message {
	return &Message{Type: TypePingReq, PingReq: &PingReq{From: from, Target: target}, Rumors: rumors}
}

// NewGossip builds a Gossip message.
func NewGossip(from member.Member, rumors []rumor.Record) *Message {
	return &Message{Type: TypeGossip, Gossip: &Gossip{From: from}, Rumors: rumors}
}

// Sender returns the member that authored m.
func (m *Message) Sender() member.Member {
	switch m.Type {
	case TypePing:
		return m.Ping.From
	case TypeAck:
		return m.Ack.From
	case TypePingReq:
		return m.PingReq.From
	case TypeGossip:
		return m.Gossip.From
	}
	return member.Member{}
}

func (m *Message) validate() error {
	var from *member.Member
	switch m.Type {
	case TypePing:
		if m.Ping == nil {
			return mismatch("ping")
		}
		from = &m.Ping.From
	case TypeAck:
		if m.Ack == nil {
			return mismatch("ack")
		}
		from = &m.Ack.From
	case TypePingReq:
		if m.PingReq == nil {
			return mismatch("pingreq")
		}
		if m.PingReq.Target.ID == "" {
			return mismatch("pingreq.target")
		}
		from = &m.PingReq.From
	case TypeGossip:
		if m.Gossip == nil {
			return mismatch("gossip")
		}
		from = &m.Gossip.From
	default:
		return mismatch("type")
	}
	if from.ID == "" {
		return mismatch(m.Type.String() + ".from")
	}
	return nil
}
