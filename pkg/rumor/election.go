package rumor

import (
	"slices"
	"strconv"
)

// ElectionID is the id of the single election rumor per service group.
const ElectionID = "election"

// ElectionStatus orders election progress. Merges keep the maximum.
type ElectionStatus uint8

const (
	ElectionRunning ElectionStatus = iota
	ElectionNoQuorum
	ElectionFinished
)

func (s ElectionStatus) String() string {
	switch s {
	case ElectionRunning:
		return "running"
	case ElectionNoQuorum:
		return "no_quorum"
	case ElectionFinished:
		return "finished"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Election is the state of a leader election within a service group.
// The last rumor wins; there is no consensus guarantee.
//
// Within a term the candidate with the highest suitability wins, ties
// going to the greater member id. Votes accumulate as a set.
type Election struct {
	MemberID     string         `cbor:"member_id" json:"member_id"`
	ServiceGroup string         `cbor:"service_group" json:"service_group"`
	Term         uint64         `cbor:"term" json:"term"`
	Suitability  uint64         `cbor:"suitability" json:"suitability"`
	Status       ElectionStatus `cbor:"status" json:"status"`
	Votes        []string       `cbor:"votes,omitempty" json:"votes"`
}

// NewElection starts an election in which candidate votes for itself.
func NewElection(candidate, group string, term, suitability uint64) *Election {
	return &Election{
		MemberID:     candidate,
		ServiceGroup: group,
		Term:         term,
		Suitability:  suitability,
		Status:       ElectionRunning,
		Votes:        []string{candidate},
	}
}

func (e *Election) Kind() Kind  { return KindElection }
func (e *Election) Key() string { return e.ServiceGroup }
func (e *Election) ID() string  { return ElectionID }

func (e *Election) Merge(incoming Rumor) (Rumor, bool) {
	o, ok := incoming.(*Election)
	if !ok || o.ServiceGroup != e.ServiceGroup {
		return e, false
	}
	switch {
	case o.Term > e.Term:
		return o, true
	case o.Term < e.Term:
		return e, false
	}

	merged := &Election{
		MemberID:     e.MemberID,
		ServiceGroup: e.ServiceGroup,
		Term:         e.Term,
		Suitability:  e.Suitability,
		Status:       max(e.Status, o.Status),
		Votes:        unionSorted(e.Votes, o.Votes),
	}
	if o.Suitability > e.Suitability || (o.Suitability == e.Suitability && o.MemberID > e.MemberID) {
		merged.MemberID = o.MemberID
		merged.Suitability = o.Suitability
	}
	if merged.MemberID == e.MemberID && merged.Status == e.Status && slices.Equal(merged.Votes, e.Votes) {
		return e, false
	}
	return merged, true
}

// Vote returns a copy of the election with voter added.
func (e *Election) Vote(voter string) *Election {
	out := *e
	out.Votes = unionSorted(e.Votes, []string{voter})
	return &out
}

// HasQuorum reports whether more than half of population has voted.
func (e *Election) HasQuorum(population int) bool {
	return population > 0 && len(e.Votes) > population/2
}

// Finish returns a copy marked finished when quorum is reached, or
// marked no-quorum otherwise.
func (e *Election) Finish(population int) *Election {
	out := *e
	out.Votes = slices.Clone(e.Votes)
	if e.HasQuorum(population) {
		out.Status = ElectionFinished
	} else {
		out.Status = max(out.Status, ElectionNoQuorum)
	}
	return &out
}

func (e *Election) validate() error {
	if e.MemberID == "" {
		return invalid(KindElection, "member id")
	}
	if err := validateGroup(KindElection, e.ServiceGroup); err != nil {
		return err
	}
	e.Votes = unionSorted(e.Votes, nil)
	return nil
}

func unionSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}
