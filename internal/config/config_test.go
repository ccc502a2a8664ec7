package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ryandielhenn/butterfly/pkg/gossip"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "butterfly.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvMemberID, "")
	t.Setenv(EnvAddress, "")
	t.Setenv(EnvSeeds, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Member.ID) != 32 || strings.Contains(cfg.Member.ID, "-") {
		t.Fatalf("generated id %q should be 32 hex characters", cfg.Member.ID)
	}
	if cfg.Timing() != gossip.DefaultTiming() {
		t.Fatalf("empty timing should equal the protocol defaults")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
member:
  id: alpha
  address: 10.0.0.1
  swim_port: 7000
  gossip_port: 7001
  persistent: true
seeds: ["10.0.0.2:7000"]
data_dir: /tmp/alpha
timing:
  ping: 500ms
  suspicion_periods: 5
  gossip_fanout: 2
etcd:
  endpoints: ["http://etcd:2379"]
log:
  level: debug
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	self := cfg.Self()
	if self.ID != "alpha" || self.SwimAddr() != "10.0.0.1:7000" || self.GossipAddr() != "10.0.0.1:7001" || !self.Persistent {
		t.Fatalf("unexpected self %+v", self)
	}
	tm := cfg.Timing()
	if tm.Ping != 500*time.Millisecond || tm.SuspicionPeriods != 5 || tm.GossipFanout != 2 {
		t.Fatalf("timing overrides not applied: %+v", tm)
	}
	if tm.PingReq != gossip.DefaultTiming().PingReq {
		t.Fatalf("unset timing should keep its default")
	}
	// Unset sections keep their defaults.
	if cfg.Etcd.Prefix != "/butterfly/members" || cfg.Etcd.TTL != 10*time.Second {
		t.Fatalf("etcd defaults lost: %+v", cfg.Etcd)
	}
	if cfg.Log.Level != "debug" || cfg.Listen.HTTP != ":9631" {
		t.Fatalf("unexpected log/listen %+v %+v", cfg.Log, cfg.Listen)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "member:\n  id: alpha\n")
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvMemberID, "beta")
	t.Setenv(EnvAddress, "10.1.1.1")
	t.Setenv(EnvSeeds, "10.1.1.2:9638, ,10.1.1.3:9638")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Member.ID != "beta" || cfg.Member.Address != "10.1.1.1" {
		t.Fatalf("env overrides not applied: %+v", cfg.Member)
	}
	if len(cfg.Seeds) != 2 || cfg.Seeds[1] != "10.1.1.3:9638" {
		t.Fatalf("seeds = %v", cfg.Seeds)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no address":        func(c *Config) { c.Member.Address = "" },
		"bad swim port":     func(c *Config) { c.Member.SwimPort = 0 },
		"bad gossip port":   func(c *Config) { c.Member.GossipPort = 70000 },
		"no data dir":       func(c *Config) { c.DataDir = "" },
		"seed without port": func(c *Config) { c.Seeds = []string{"10.0.0.1"} },
		"short etcd ttl": func(c *Config) {
			c.Etcd.Endpoints = []string{"http://etcd:2379"}
			c.Etcd.TTL = time.Millisecond
		},
		"negative ping": func(c *Config) { c.Protocol.Ping = -time.Second },
	}
	for name, mutate := range cases {
		cfg := Default()
		cfg.Member.ID = "a"
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := LoadFile(writeConfig(t, "member: [")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(writeConfig(t, "timing:\n  gossip_fanout: -1\n")); err == nil {
		t.Fatalf("expected validation error from Load")
	}
}
