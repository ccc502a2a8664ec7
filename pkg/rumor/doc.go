// Package rumor defines the facts butterfly gossips and the store that
// tracks which of them each peer still needs to hear.
//
// Every variant implements Rumor. Merges are pure, monotonic and
// commutative, so rumors can arrive in any order, any number of times,
// from any peer:
//
//	store := rumor.NewStore(rumor.DefaultCoolDown)
//	store.Insert(&rumor.Departure{MemberID: "b"})      // true
//	store.Insert(&rumor.Departure{MemberID: "b"})      // false
//	batch := store.RumorsToSend("peer-c", 100)         // hot rumors for peer-c
//
// On the wire a rumor travels as a Record: its kind tag plus the CBOR
// encoding of the variant.
package rumor
