package member

import (
	"fmt"
	"net"
	"strconv"
)

// Health is a member's liveness as seen by this node. The numeric order
// is the tie-break order at equal incarnation.
type Health uint8

const (
	Alive Health = iota
	Suspect
	Confirmed
	Departed
)

// Valid reports whether h is one of the four known states.
func (h Health) Valid() bool { return h <= Departed }

func (h Health) String() string {
	switch h {
	case Alive:
		return "alive"
	case Suspect:
		return "suspect"
	case Confirmed:
		return "confirmed"
	case Departed:
		return "departed"
	default:
		return "unknown(" + strconv.Itoa(int(h)) + ")"
	}
}

// MarshalText renders health by name in JSON views.
func (h Health) MarshalText() ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("invalid health %d", uint8(h))
	}
	return []byte(h.String()), nil
}

// UnmarshalText parses a health name.
func (h *Health) UnmarshalText(text []byte) error {
	parsed, err := ParseHealth(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHealth is the inverse of Health.String.
func ParseHealth(s string) (Health, error) {
	switch s {
	case "alive":
		return Alive, nil
	case "suspect":
		return Suspect, nil
	case "confirmed":
		return Confirmed, nil
	case "departed":
		return Departed, nil
	}
	return 0, fmt.Errorf("unknown health %q", s)
}

// Member is a node's identity plus the incarnation it last claimed.
// Incarnation is only ever incremented by the member itself.
type Member struct {
	ID          string `cbor:"id" json:"id"`
	Incarnation uint64 `cbor:"incarnation" json:"incarnation"`
	Address     string `cbor:"address" json:"address"`
	SwimPort    int    `cbor:"swim_port" json:"swim_port"`
	GossipPort  int    `cbor:"gossip_port" json:"gossip_port"`
	// Persistent members are probed whatever their health so that
	// partitions involving them can heal.
	Persistent bool `cbor:"persistent,omitempty" json:"persistent"`
}

// SwimAddr is the host:port the member receives SWIM datagrams on.
func (m Member) SwimAddr() string {
	return net.JoinHostPort(m.Address, strconv.Itoa(m.SwimPort))
}

// GossipAddr is the host:port the member accepts gossip batches on.
func (m Member) GossipAddr() string {
	return net.JoinHostPort(m.Address, strconv.Itoa(m.GossipPort))
}

func (m Member) String() string {
	return fmt.Sprintf("%s@%s#%d", m.ID, m.SwimAddr(), m.Incarnation)
}

// ShouldReplace reports whether an incoming (member, health) claim
// supersedes the current one for the same id:
//   - lower incarnation never wins
//   - higher incarnation always wins, whatever its health
//   - equal incarnation: the more authoritative health wins
//     (Departed > Confirmed > Suspect > Alive)
//
// Health values outside the known set never replace anything.
func ShouldReplace(current Member, currentHealth Health, incoming Member, incomingHealth Health) bool {
	if !incomingHealth.Valid() {
		return false
	}
	switch {
	case incoming.Incarnation > current.Incarnation:
		return true
	case incoming.Incarnation < current.Incarnation:
		return false
	default:
		return incomingHealth > currentHealth
	}
}
