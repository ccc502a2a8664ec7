package rumor

// ServiceConfigID is the id of the single config rumor per service group.
const ServiceConfigID = "service_config"

// ServiceConfig is configuration applied to every member of a service
// group. Config may be encrypted for the group; the gossip layer does
// not look inside it.
type ServiceConfig struct {
	FromID       string `cbor:"from_id" json:"from_id"`
	ServiceGroup string `cbor:"service_group" json:"service_group"`
	Incarnation  uint64 `cbor:"incarnation" json:"incarnation"`
	Encrypted    bool   `cbor:"encrypted,omitempty" json:"encrypted"`
	Config       []byte `cbor:"config" json:"config"`
}

func (c *ServiceConfig) Kind() Kind  { return KindServiceConfig }
func (c *ServiceConfig) Key() string { return c.ServiceGroup }
func (c *ServiceConfig) ID() string  { return ServiceConfigID }

func (c *ServiceConfig) Merge(incoming Rumor) (Rumor, bool) {
	o, ok := incoming.(*ServiceConfig)
	if !ok || o.ServiceGroup != c.ServiceGroup {
		return c, false
	}
	if supersedes(c, o, c.Incarnation, o.Incarnation) {
		return o, true
	}
	return c, false
}

func (c *ServiceConfig) validate() error {
	return validateGroup(KindServiceConfig, c.ServiceGroup)
}
