package node

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
)

type fakeSource struct {
	self     member.Member
	departed bool
	members  *member.List
	rumors   *rumor.Store
}

func newFakeSource() *fakeSource {
	self := member.Member{ID: "a", Incarnation: 1, Address: "10.0.0.1", SwimPort: 9638, GossipPort: 9638}
	src := &fakeSource{
		self:    self,
		members: member.NewList(nil, nil),
		rumors:  rumor.NewStore(rumor.DefaultCoolDown),
	}
	src.members.Insert(self, member.Alive)
	b := member.Member{ID: "b", Incarnation: 1, Address: "10.0.0.2", SwimPort: 9638, GossipPort: 9638}
	src.members.Insert(b, member.Suspect)
	src.rumors.Insert(rumor.NewMembership(self, member.Alive))
	src.rumors.Insert(&rumor.ServiceConfig{FromID: "a", ServiceGroup: "redis.default", Incarnation: 1, Config: []byte("x")})
	return src
}

func (f *fakeSource) Self() member.Member   { return f.self }
func (f *fakeSource) Departed() bool        { return f.departed }
func (f *fakeSource) Members() *member.List { return f.members }
func (f *fakeSource) Rumors() *rumor.Store  { return f.rumors }
func (f *fakeSource) Depart(id string) bool { return f.members.MarkDeparted(id) }

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	src := newFakeSource()
	h := NewNode(src).Handler()
	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	src.departed = true
	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("departed healthz = %d, want 503", rec.Code)
	}
}

func TestInfo(t *testing.T) {
	h := NewNode(newFakeSource()).Handler()
	rec := do(t, h, http.MethodGet, "/info")
	if rec.Code != http.StatusOK {
		t.Fatalf("info = %d", rec.Code)
	}
	var got struct {
		Self    member.Member  `json:"self"`
		Members map[string]int `json:"members"`
		Rumors  int            `json:"rumors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Self.ID != "a" || got.Members["alive"] != 1 || got.Members["suspect"] != 1 || got.Rumors != 2 {
		t.Fatalf("unexpected info %+v", got)
	}
}

func TestMembers(t *testing.T) {
	h := NewNode(newFakeSource()).Handler()

	var all []member.Entry
	rec := do(t, h, http.MethodGet, "/members")
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil || len(all) != 2 {
		t.Fatalf("members = %s, %v", rec.Body.String(), err)
	}

	var suspect []member.Entry
	rec = do(t, h, http.MethodGet, "/members?health=suspect")
	if err := json.Unmarshal(rec.Body.Bytes(), &suspect); err != nil || len(suspect) != 1 || suspect[0].Member.ID != "b" {
		t.Fatalf("suspect members = %s, %v", rec.Body.String(), err)
	}

	if rec := do(t, h, http.MethodGet, "/members?health=sleepy"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad health filter = %d, want 400", rec.Code)
	}
}

func TestDepart(t *testing.T) {
	src := newFakeSource()
	h := NewNode(src).Handler()

	if rec := do(t, h, http.MethodGet, "/members/b/depart"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET depart = %d, want 405", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/members/b/depart"); rec.Code != http.StatusAccepted {
		t.Fatalf("depart = %d, want 202", rec.Code)
	}
	if hl, _ := src.members.HealthOf("b"); hl != member.Departed {
		t.Fatalf("b = %s, want departed", hl)
	}
	if rec := do(t, h, http.MethodPost, "/members/b/depart"); rec.Code != http.StatusOK {
		t.Fatalf("repeat depart = %d, want 200", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/members/b"); rec.Code != http.StatusNotFound {
		t.Fatalf("bad path = %d, want 404", rec.Code)
	}
}

func TestRumors(t *testing.T) {
	h := NewNode(newFakeSource()).Handler()

	var views []struct {
		Kind string `json:"kind"`
		Key  string `json:"key"`
		ID   string `json:"id"`
	}
	rec := do(t, h, http.MethodGet, "/rumors")
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil || len(views) != 2 {
		t.Fatalf("rumors = %s, %v", rec.Body.String(), err)
	}

	rec = do(t, h, http.MethodGet, "/rumors?kind=service_config&key=redis.default")
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil || len(views) != 1 || views[0].ID != rumor.ServiceConfigID {
		t.Fatalf("service config rumors = %s, %v", rec.Body.String(), err)
	}

	if rec := do(t, h, http.MethodGet, "/rumors?kind=gossip"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind = %d, want 400", rec.Code)
	}
}

func TestNormalizeHostPort(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1":      "10.0.0.1:9638",
		"10.0.0.1:7000": "10.0.0.1:7000",
		"http://seed":   "seed:9638",
		"udp://seed:1":  "seed:1",
		"fe80::1":       "[fe80::1]:9638",
	}
	for in, want := range cases {
		if got := NormalizeHostPort(in, "9638"); got != want {
			t.Fatalf("NormalizeHostPort(%q) = %q, want %q", in, got, want)
		}
	}
}
