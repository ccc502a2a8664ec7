package rumor

// DepartureKey is the constant key for departure rumors.
const DepartureKey = "departure"

// Departure says a member has left the cluster for good. It
// short-circuits suspicion: receivers mark the member Departed at once.
type Departure struct {
	MemberID string `cbor:"member_id" json:"member_id"`
}

func (d *Departure) Kind() Kind  { return KindDeparture }
func (d *Departure) Key() string { return DepartureKey }
func (d *Departure) ID() string  { return d.MemberID }

// Merge never changes an existing departure.
func (d *Departure) Merge(Rumor) (Rumor, bool) { return d, false }

func (d *Departure) validate() error {
	if d.MemberID == "" {
		return invalid(KindDeparture, "member id")
	}
	return nil
}
