package rumor

import "strconv"

// HealthStatus is the result of a service's own health check.
type HealthStatus uint8

const (
	HealthUnknown HealthStatus = iota
	HealthOk
	HealthWarning
	HealthCritical
)

func (s HealthStatus) String() string {
	switch s {
	case HealthUnknown:
		return "unknown"
	case HealthOk:
		return "ok"
	case HealthWarning:
		return "warning"
	case HealthCritical:
		return "critical"
	default:
		return "health(" + strconv.Itoa(int(s)) + ")"
	}
}

// ServiceHealth reports the health check result of one member's
// instance of a service group.
type ServiceHealth struct {
	MemberID     string       `cbor:"member_id" json:"member_id"`
	ServiceGroup string       `cbor:"service_group" json:"service_group"`
	Incarnation  uint64       `cbor:"incarnation" json:"incarnation"`
	Status       HealthStatus `cbor:"status" json:"status"`
}

func (h *ServiceHealth) Kind() Kind  { return KindServiceHealth }
func (h *ServiceHealth) Key() string { return h.ServiceGroup }
func (h *ServiceHealth) ID() string  { return h.MemberID }

func (h *ServiceHealth) Merge(incoming Rumor) (Rumor, bool) {
	o, ok := incoming.(*ServiceHealth)
	if !ok || KeyOf(o) != KeyOf(h) {
		return h, false
	}
	if supersedes(h, o, h.Incarnation, o.Incarnation) {
		return o, true
	}
	return h, false
}

func (h *ServiceHealth) validate() error {
	if h.MemberID == "" {
		return invalid(KindServiceHealth, "member id")
	}
	if h.Status > HealthCritical {
		return invalid(KindServiceHealth, "valid status")
	}
	return validateGroup(KindServiceHealth, h.ServiceGroup)
}
