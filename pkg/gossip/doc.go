// Package gossip is the butterfly protocol engine. A Server runs five
// loops against shared state:
//
//   - inbound: answers Pings, relays PingReqs, collects Acks
//   - probe: SWIM failure detection, one member per protocol period
//   - expire: Suspect becomes Confirmed, Confirmed becomes Departed
//   - push: sends hot rumors to a random fan-out of members
//   - pull: merges rumor batches pushed by others
//
// Typical usage:
//
//	srv, err := gossip.New(gossip.Config{
//		Self:        member.Member{ID: id, Address: "10.0.0.5", SwimPort: 9638, GossipPort: 9638},
//		Network:     transport.NewUDPNetwork(log),
//		Incarnation: gossip.NewFileIncarnationStore(dataDir),
//		Seeds:       []string{"10.0.0.1:9638"},
//		Logger:      log,
//	})
//	if err != nil { ... }
//	if err := srv.Start(ctx); err != nil { ... }
//	defer srv.Stop()
//
// Tests run whole clusters on transport.Fabric instead of real sockets.
package gossip
