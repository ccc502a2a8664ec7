package node

import (
	"net/http"

	"github.com/ryandielhenn/butterfly/internal/telemetry"
	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
)

// Source is the slice of a gossip server the HTTP surface reads from.
type Source interface {
	Self() member.Member
	Departed() bool
	Members() *member.List
	Rumors() *rumor.Store
	Depart(memberID string) bool
}

// Node serves a member's state over HTTP.
type Node struct {
	src Source
}

func NewNode(src Source) *Node {
	return &Node{src: src}
}

// Handler routes every endpoint, instrumented by operation.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", n.Healthz)
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/members", telemetry.Instrument("members", http.HandlerFunc(n.Members)))
	mux.Handle("/members/", telemetry.Instrument("depart", http.HandlerFunc(n.Depart)))
	mux.Handle("/rumors", telemetry.Instrument("rumors", http.HandlerFunc(n.Rumors)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}
