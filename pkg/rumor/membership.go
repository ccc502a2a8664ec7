package rumor

import "github.com/ryandielhenn/butterfly/pkg/member"

// MembershipKey is the constant key every member rumor lives under.
const MembershipKey = "member"

// Membership carries one member's identity and the health its author
// believes it has.
type Membership struct {
	Member member.Member `cbor:"member"`
	Health member.Health `cbor:"health"`
}

// NewMembership builds a member rumor.
func NewMembership(m member.Member, h member.Health) *Membership {
	return &Membership{Member: m, Health: h}
}

func (m *Membership) Kind() Kind  { return KindMember }
func (m *Membership) Key() string { return MembershipKey }
func (m *Membership) ID() string  { return m.Member.ID }

// Merge applies the member list rules; see member.ShouldReplace.
func (m *Membership) Merge(incoming Rumor) (Rumor, bool) {
	o, ok := incoming.(*Membership)
	if !ok || o.ID() != m.ID() {
		return m, false
	}
	if member.ShouldReplace(m.Member, m.Health, o.Member, o.Health) {
		return o, true
	}
	// Same claim, different details (e.g. address): settle on the
	// greater encoding so every node stores the same rumor.
	if o.Member.Incarnation == m.Member.Incarnation && o.Health == m.Health &&
		supersedes(m, o, m.Member.Incarnation, o.Member.Incarnation) {
		return o, true
	}
	return m, false
}

func (m *Membership) validate() error {
	if m.Member.ID == "" {
		return invalid(KindMember, "member id")
	}
	if !m.Health.Valid() {
		return invalid(KindMember, "valid health")
	}
	return nil
}
