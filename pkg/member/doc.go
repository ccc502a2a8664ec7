// Package member holds the identity of a cluster member and the
// concurrent roster (List) of everything this node has heard about the
// others. Health moves only by incarnation comparison and by elapsed
// time; a lower incarnation can never overwrite a higher one.
//
// Typical usage:
//
//	list := member.NewList(clock.Real(), logger)
//	changed := list.Insert(m, member.Alive)
//	for _, m := range list.ProbeCandidates(self.ID) { ... }
package member
