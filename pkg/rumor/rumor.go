package rumor

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ryandielhenn/butterfly/internal/codec"
)

// Kind discriminates rumor variants on the wire and in the store.
type Kind uint8

const (
	KindMember Kind = iota + 1
	KindService
	KindServiceConfig
	KindServiceFile
	KindElection
	KindDeparture
	KindServiceHealth
)

// Kinds lists every known kind in wire order.
var Kinds = []Kind{
	KindMember, KindService, KindServiceConfig, KindServiceFile,
	KindElection, KindDeparture, KindServiceHealth,
}

func (k Kind) String() string {
	switch k {
	case KindMember:
		return "member"
	case KindService:
		return "service"
	case KindServiceConfig:
		return "service_config"
	case KindServiceFile:
		return "service_file"
	case KindElection:
		return "election"
	case KindDeparture:
		return "departure"
	case KindServiceHealth:
		return "service_health"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown rumor kind %q", s)
}

// Rumor is a mergeable fact spread by gossip.
//
// Merge is pure: it returns the state that results from merging
// incoming into the receiver and whether that state differs from the
// receiver. Merge only moves forward and is idempotent: merging the
// same or an older rumor returns (receiver, false).
type Rumor interface {
	Kind() Kind
	// Key groups rumors, e.g. a service group, or a constant for
	// singleton kinds.
	Key() string
	// ID identifies the entity within Key, e.g. a member id.
	ID() string
	Merge(incoming Rumor) (Rumor, bool)
}

// Key addresses one rumor in the store.
type Key struct {
	Kind Kind
	Key  string
	ID   string
}

// KeyOf returns the store address of r.
func KeyOf(r Rumor) Key {
	return Key{Kind: r.Kind(), Key: r.Key(), ID: r.ID()}
}

func (k Key) String() string {
	return k.Kind.String() + "/" + k.Key + "/" + k.ID
}

func (k Key) less(o Key) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	if k.Key != o.Key {
		return k.Key < o.Key
	}
	return k.ID < o.ID
}

var (
	// ErrUnknownKind is returned when a record carries a kind this
	// node does not understand.
	ErrUnknownKind = errors.New("unknown rumor kind")
	// ErrInvalid is returned when a decoded rumor is missing an
	// identifying field.
	ErrInvalid = errors.New("invalid rumor")
)

// Record is the wire form of a rumor: its kind tag plus its CBOR body.
type Record struct {
	Kind Kind             `cbor:"kind"`
	Body codec.RawMessage `cbor:"body"`
}

// Encode converts r to its wire record.
func Encode(r Rumor) (Record, error) {
	body, err := codec.Marshal(r)
	if err != nil {
		return Record{}, fmt.Errorf("encoding %s rumor: %w", r.Kind(), err)
	}
	return Record{Kind: r.Kind(), Body: body}, nil
}

// EncodeAll encodes rs in order.
func EncodeAll(rs []Rumor) ([]Record, error) {
	out := make([]Record, 0, len(rs))
	for _, r := range rs {
		rec, err := Encode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Decode turns a record back into its rumor variant and validates it.
func (rec Record) Decode() (Rumor, error) {
	var r interface {
		Rumor
		validate() error
	}
	switch rec.Kind {
	case KindMember:
		r = &Membership{}
	case KindService:
		r = &Service{}
	case KindServiceConfig:
		r = &ServiceConfig{}
	case KindServiceFile:
		r = &ServiceFile{}
	case KindElection:
		r = &Election{}
	case KindDeparture:
		r = &Departure{}
	case KindServiceHealth:
		r = &ServiceHealth{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, rec.Kind)
	}
	if err := codec.Unmarshal(rec.Body, r); err != nil {
		return nil, fmt.Errorf("decoding %s rumor: %w", rec.Kind, err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// supersedes decides incarnation-versioned merges. A higher incarnation
// wins; at equal incarnation the greater canonical encoding wins so
// that merge order never changes the outcome.
func supersedes(current, incoming Rumor, currentInc, incomingInc uint64) bool {
	switch {
	case incomingInc > currentInc:
		return true
	case incomingInc < currentInc:
		return false
	}
	a, errA := codec.Marshal(current)
	b, errB := codec.Marshal(incoming)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Compare(b, a) > 0
}

func invalid(kind Kind, field string) error {
	return fmt.Errorf("%w: %s rumor missing %s", ErrInvalid, kind, field)
}

// ValidServiceGroup reports whether s looks like "service.group".
func ValidServiceGroup(s string) bool {
	name, group, ok := strings.Cut(s, ".")
	return ok && name != "" && group != ""
}

func validateGroup(kind Kind, group string) error {
	if !ValidServiceGroup(group) {
		return fmt.Errorf("%w: %s rumor has malformed service group %q", ErrInvalid, kind, group)
	}
	return nil
}
