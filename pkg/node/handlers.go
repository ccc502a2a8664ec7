package node

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ryandielhenn/butterfly/internal/telemetry"
	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
)

// Healthz returns 200 while the member is in the ring and 503 once it
// has been departed.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	if n.src.Departed() {
		http.Error(w, "departed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the process id, this member, member counts by health and
// the rumor store size.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID      int            `json:"pid"`
		Now      time.Time      `json:"now"`
		Uptime   string         `json:"uptime"`
		Self     member.Member  `json:"self"`
		Departed bool           `json:"departed"`
		Members  map[string]int `json:"members"`
		Rumors   int            `json:"rumors"`
		Updates  uint64         `json:"updates"`
	}
	counts := make(map[string]int)
	for h, c := range n.src.Members().Counts() {
		counts[h.String()] = c
	}
	writeJSON(w, resp{
		PID:      os.Getpid(),
		Now:      time.Now(),
		Uptime:   telemetry.Uptime().Round(time.Second).String(),
		Self:     n.src.Self(),
		Departed: n.src.Departed(),
		Members:  counts,
		Rumors:   n.src.Rumors().Len(),
		Updates:  n.src.Rumors().UpdateCounter(),
	})
}

// Members lists every known member, optionally filtered by ?health=.
func (n *Node) Members(w http.ResponseWriter, req *http.Request) {
	entries := n.src.Members().Snapshot()
	if q := req.URL.Query().Get("health"); q != "" {
		h, err := member.ParseHealth(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kept := entries[:0]
		for _, e := range entries {
			if e.Health == h {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	writeJSON(w, entries)
}

// Depart handles POST /members/<id>/depart.
func (n *Node) Depart(w http.ResponseWriter, req *http.Request) {
	id, ok := strings.CutSuffix(req.URL.Path[len("/members/"):], "/depart")
	if !ok || id == "" || strings.Contains(id, "/") {
		http.NotFound(w, req)
		return
	}
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !n.src.Depart(id) {
		// Already departed.
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type rumorView struct {
	Kind  string      `json:"kind"`
	Key   string      `json:"key"`
	ID    string      `json:"id"`
	Rumor rumor.Rumor `json:"rumor"`
}

// Rumors lists stored rumors of ?kind= (default every kind), optionally
// narrowed to one ?key=.
func (n *Node) Rumors(w http.ResponseWriter, req *http.Request) {
	kinds := rumor.Kinds
	if q := req.URL.Query().Get("kind"); q != "" {
		k, err := rumor.ParseKind(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kinds = []rumor.Kind{k}
	}
	key := req.URL.Query().Get("key")

	out := []rumorView{}
	for _, k := range kinds {
		var rs []rumor.Rumor
		if key != "" {
			rs = n.src.Rumors().ByKey(k, key)
		} else {
			rs = n.src.Rumors().ByKind(k)
		}
		for _, r := range rs {
			out = append(out, rumorView{Kind: k.String(), Key: r.Key(), ID: r.ID(), Rumor: r})
		}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
