package rumor

// SysInfo is where a service instance can be reached.
type SysInfo struct {
	Hostname string `cbor:"hostname,omitempty" json:"hostname,omitempty"`
	IP       string `cbor:"ip,omitempty" json:"ip,omitempty"`
	Port     int    `cbor:"port,omitempty" json:"port,omitempty"`
}

// Service announces that a member runs an instance of a service group.
type Service struct {
	MemberID     string  `cbor:"member_id" json:"member_id"`
	ServiceGroup string  `cbor:"service_group" json:"service_group"`
	Incarnation  uint64  `cbor:"incarnation" json:"incarnation"`
	Package      string  `cbor:"package,omitempty" json:"package,omitempty"`
	Initialized  bool    `cbor:"initialized,omitempty" json:"initialized"`
	Config       []byte  `cbor:"config,omitempty" json:"config,omitempty"`
	SysInfo      SysInfo `cbor:"sys,omitempty" json:"sys"`
}

func (s *Service) Kind() Kind  { return KindService }
func (s *Service) Key() string { return s.ServiceGroup }
func (s *Service) ID() string  { return s.MemberID }

func (s *Service) Merge(incoming Rumor) (Rumor, bool) {
	o, ok := incoming.(*Service)
	if !ok || KeyOf(o) != KeyOf(s) {
		return s, false
	}
	if supersedes(s, o, s.Incarnation, o.Incarnation) {
		return o, true
	}
	return s, false
}

func (s *Service) validate() error {
	if s.MemberID == "" {
		return invalid(KindService, "member id")
	}
	return validateGroup(KindService, s.ServiceGroup)
}
