// Package config loads the configuration of a butterfly member.
//
// Configuration comes from one YAML file named by the --config flag or
// the BUTTERFLY_CONFIG environment variable. Without a file the defaults
// apply. A handful of identity settings can then be overridden from the
// environment so that containers can share one file:
//
//	BUTTERFLY_MEMBER_ID  member.id
//	BUTTERFLY_ADDRESS    member.address
//	BUTTERFLY_SEEDS      seeds (comma separated)
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ryandielhenn/butterfly/pkg/gossip"
	"github.com/ryandielhenn/butterfly/pkg/member"
)

const (
	EnvConfig   = "BUTTERFLY_CONFIG"
	EnvMemberID = "BUTTERFLY_MEMBER_ID"
	EnvAddress  = "BUTTERFLY_ADDRESS"
	EnvSeeds    = "BUTTERFLY_SEEDS"
)

// Config is the full configuration of one member process.
type Config struct {
	Member MemberConfig `yaml:"member"`
	Listen ListenConfig `yaml:"listen"`

	// DataDir holds the persisted incarnation.
	DataDir string `yaml:"data_dir"`
	// RingKeyFile is the path of the ring key. Empty runs unencrypted.
	RingKeyFile string `yaml:"ring_key_file"`
	// Seeds are SWIM addresses of members to join through.
	Seeds []string `yaml:"seeds"`

	// Protocol tunes the gossip timing.
	Protocol TimingConfig `yaml:"timing"`
	Etcd     EtcdConfig   `yaml:"etcd"`
	Log      LogConfig    `yaml:"log"`
}

// MemberConfig is the identity this member advertises.
type MemberConfig struct {
	// ID is generated when empty.
	ID         string `yaml:"id"`
	Address    string `yaml:"address"`
	SwimPort   int    `yaml:"swim_port"`
	GossipPort int    `yaml:"gossip_port"`
	Persistent bool   `yaml:"persistent"`
}

// ListenConfig holds bind addresses. Empty SWIM and gossip addresses
// bind the advertised ones.
type ListenConfig struct {
	Swim   string `yaml:"swim"`
	Gossip string `yaml:"gossip"`
	HTTP   string `yaml:"http"`
}

// TimingConfig mirrors gossip.Timing. Zero fields keep the protocol
// defaults.
type TimingConfig struct {
	Ping             time.Duration `yaml:"ping"`
	PingReq          time.Duration `yaml:"ping_req"`
	SuspicionPeriods int           `yaml:"suspicion_periods"`
	Suspicion        time.Duration `yaml:"suspicion"`
	Departure        time.Duration `yaml:"departure"`
	ExpireInterval   time.Duration `yaml:"expire_interval"`
	GossipPeriod     time.Duration `yaml:"gossip_period"`
	GossipFanout     int           `yaml:"gossip_fanout"`
	PingReqTargets   int           `yaml:"ping_req_targets"`
	RumorCoolDown    int           `yaml:"rumor_cool_down"`
	MaxPiggyback     int           `yaml:"max_piggyback"`
	MaxGossipRumors  int           `yaml:"max_gossip_rumors"`
}

// EtcdConfig enables seed discovery through etcd when Endpoints is set.
type EtcdConfig struct {
	Endpoints []string      `yaml:"endpoints"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Member: MemberConfig{
			Address:    "127.0.0.1",
			SwimPort:   9638,
			GossipPort: 9638,
		},
		Listen: ListenConfig{
			HTTP: ":9631",
		},
		DataDir: "/var/lib/butterfly",
		Etcd: EtcdConfig{
			Prefix: "/butterfly/members",
			TTL:    10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the file at path, or the file named by BUTTERFLY_CONFIG
// when path is empty, applies environment overrides, fills in a member
// id and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	if cfg.Member.ID == "" {
		cfg.Member.ID = NewMemberID()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads one YAML file over the defaults. Environment variables
// are not consulted.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvMemberID); v != "" {
		c.Member.ID = v
	}
	if v := os.Getenv(EnvAddress); v != "" {
		c.Member.Address = v
	}
	if v := os.Getenv(EnvSeeds); v != "" {
		c.Seeds = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Seeds = append(c.Seeds, s)
			}
		}
	}
}

// NewMemberID returns a fresh random member id: a UUID without dashes.
func NewMemberID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Member.ID == "" {
		errs = append(errs, errors.New("member.id is required"))
	}
	if c.Member.Address == "" {
		errs = append(errs, errors.New("member.address is required"))
	}
	if !validPort(c.Member.SwimPort) {
		errs = append(errs, fmt.Errorf("member.swim_port out of range: %d", c.Member.SwimPort))
	}
	if !validPort(c.Member.GossipPort) {
		errs = append(errs, fmt.Errorf("member.gossip_port out of range: %d", c.Member.GossipPort))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	for _, s := range c.Seeds {
		if _, _, err := net.SplitHostPort(s); err != nil {
			errs = append(errs, fmt.Errorf("invalid seed %q: %w", s, err))
		}
	}
	if len(c.Etcd.Endpoints) > 0 {
		if c.Etcd.Prefix == "" {
			errs = append(errs, errors.New("etcd.prefix is required with etcd.endpoints"))
		}
		if c.Etcd.TTL < time.Second {
			errs = append(errs, fmt.Errorf("etcd.ttl must be at least 1s, got %s", c.Etcd.TTL))
		}
	}
	if err := c.Timing().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("timing: %w", err))
	}

	return errors.Join(errs...)
}

func validPort(p int) bool { return p > 0 && p < 65536 }

// Self is the member this configuration advertises, before the
// incarnation is restored.
func (c *Config) Self() member.Member {
	return member.Member{
		ID:         c.Member.ID,
		Address:    c.Member.Address,
		SwimPort:   c.Member.SwimPort,
		GossipPort: c.Member.GossipPort,
		Persistent: c.Member.Persistent,
	}
}

// Timing overlays the configured timing on the protocol defaults.
func (c *Config) Timing() gossip.Timing {
	t := gossip.DefaultTiming()
	ct := c.Protocol
	setDuration(&t.Ping, ct.Ping)
	setDuration(&t.PingReq, ct.PingReq)
	setDuration(&t.Suspicion, ct.Suspicion)
	setDuration(&t.Departure, ct.Departure)
	setDuration(&t.ExpireInterval, ct.ExpireInterval)
	setDuration(&t.GossipPeriod, ct.GossipPeriod)
	setInt(&t.SuspicionPeriods, ct.SuspicionPeriods)
	setInt(&t.GossipFanout, ct.GossipFanout)
	setInt(&t.PingReqTargets, ct.PingReqTargets)
	setInt(&t.RumorCoolDown, ct.RumorCoolDown)
	setInt(&t.MaxPiggyback, ct.MaxPiggyback)
	setInt(&t.MaxGossipRumors, ct.MaxGossipRumors)
	return t
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
