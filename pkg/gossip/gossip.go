package gossip

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/internal/clock"
	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
	"github.com/ryandielhenn/butterfly/pkg/transport"
	"github.com/ryandielhenn/butterfly/pkg/wire"
)

// Config wires a Server to its identity and collaborators.
type Config struct {
	// Self is this member. Its incarnation is replaced at Start by the
	// stored incarnation plus one.
	Self member.Member
	// SwimListen and GossipListen are the bind addresses. Empty means
	// Self.SwimAddr() and Self.GossipAddr().
	SwimListen   string
	GossipListen string

	Timing  Timing
	Network transport.Network
	// RingKey seals every message when set.
	RingKey     *wire.RingKey
	Incarnation IncarnationStore
	// Seeds are SWIM addresses pinged while no other member is known.
	Seeds []string

	Logger *zap.Logger
	Clock  clock.Clock
}

// Server runs the SWIM failure detector and rumor gossip for one member.
type Server struct {
	cfg     Config
	timing  Timing
	log     *zap.Logger
	clock   clock.Clock
	codec   *wire.Codec
	members *member.List
	rumors  *rumor.Store

	swim     transport.SwimSocket
	gossipRx transport.GossipReceiver
	gossipTx transport.GossipSender

	selfMu   sync.RWMutex
	self     member.Member
	departed bool

	acksMu sync.Mutex
	acks   map[string]chan struct{}

	seedsMu sync.Mutex
	seeds   []string

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates cfg and builds a server. Nothing is bound until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Self.ID == "" {
		return nil, errors.New("gossip: self member id is required")
	}
	if cfg.Network == nil {
		return nil, errors.New("gossip: network is required")
	}
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	if err := cfg.Timing.Validate(); err != nil {
		return nil, fmt.Errorf("gossip: invalid timing: %w", err)
	}
	if cfg.Incarnation == nil {
		cfg.Incarnation = &MemoryIncarnationStore{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SwimListen == "" {
		cfg.SwimListen = cfg.Self.SwimAddr()
	}
	if cfg.GossipListen == "" {
		cfg.GossipListen = cfg.Self.GossipAddr()
	}

	log := cfg.Logger.Named("gossip").With(zap.String("self", cfg.Self.ID))
	s := &Server{
		cfg:     cfg,
		timing:  cfg.Timing,
		log:     log,
		clock:   cfg.Clock,
		codec:   wire.NewCodec(cfg.RingKey),
		members: member.NewList(cfg.Clock, cfg.Logger),
		rumors:  rumor.NewStore(cfg.Timing.RumorCoolDown),
		self:    cfg.Self,
		acks:    make(map[string]chan struct{}),
	}
	s.AddSeeds(cfg.Seeds...)
	return s, nil
}

// Start restores the incarnation, binds both sockets and launches the
// protocol loops. A bind failure is returned and nothing is left
// running.
func (s *Server) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.started {
		return errors.New("gossip: server already started")
	}

	stored, err := s.cfg.Incarnation.Load()
	if err != nil {
		return fmt.Errorf("gossip: loading incarnation: %w", err)
	}
	inc := stored + 1
	if err := s.cfg.Incarnation.Save(inc); err != nil {
		return fmt.Errorf("gossip: saving incarnation: %w", err)
	}

	swim, err := s.cfg.Network.ListenSwim(s.cfg.SwimListen, s.timing.SwimReadTimeout())
	if err != nil {
		return fmt.Errorf("gossip: %w", err)
	}
	rx, err := s.cfg.Network.ListenGossip(s.cfg.GossipListen)
	if err != nil {
		swim.Close()
		return fmt.Errorf("gossip: %w", err)
	}
	s.swim = swim
	s.gossipRx = rx
	s.gossipTx = s.cfg.Network.GossipSender()

	s.selfMu.Lock()
	s.self.Incarnation = inc
	self := s.self
	s.selfMu.Unlock()
	s.members.Insert(self, member.Alive)
	s.rumors.Insert(rumor.NewMembership(self, member.Alive))

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	s.log.Info("gossip server started",
		zap.String("swim", swim.LocalAddr()),
		zap.String("gossip", rx.Addr()),
		zap.Uint64("incarnation", inc),
		zap.Bool("encrypted", s.codec.Encrypted()))

	loops := []func(context.Context){s.inboundLoop, s.probeLoop, s.expireLoop, s.pushLoop, s.pullLoop}
	for _, loop := range loops {
		loop := loop
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			loop(ctx)
		}()
	}
	return nil
}

// Stop halts every loop, closes the sockets and waits for the loops to
// exit. It is safe to call more than once.
func (s *Server) Stop() {
	s.lifeMu.Lock()
	if !s.started || s.stopped {
		s.lifeMu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	s.swim.Close()
	s.gossipRx.Close()
	s.lifeMu.Unlock()

	s.wg.Wait()
	s.log.Info("gossip server stopped")
}

// Self returns this member as currently advertised.
func (s *Server) Self() member.Member {
	s.selfMu.RLock()
	defer s.selfMu.RUnlock()
	return s.self
}

// Departed reports whether this member has been departed by an operator.
func (s *Server) Departed() bool {
	s.selfMu.RLock()
	defer s.selfMu.RUnlock()
	return s.departed
}

// Members is the live member list. Callers outside the engine should
// only read from it.
func (s *Server) Members() *member.List { return s.members }

// Rumors is the live rumor store. Callers outside the engine should
// only read from it; use Publish to author rumors.
func (s *Server) Rumors() *rumor.Store { return s.rumors }

// Timing returns the server's protocol timing.
func (s *Server) Timing() Timing { return s.timing }

// Publish merges a locally authored rumor and returns whether it changed
// anything. Changed rumors are gossiped to every peer.
func (s *Server) Publish(r rumor.Rumor) bool {
	return s.ingest(r)
}

// Depart permanently removes memberID from the cluster: it goes straight
// to Departed here and everywhere the rumor reaches.
func (s *Server) Depart(memberID string) bool {
	return s.ingest(&rumor.Departure{MemberID: memberID})
}

// AddSeeds adds SWIM addresses to ping while no other member is known.
func (s *Server) AddSeeds(addrs ...string) {
	s.seedsMu.Lock()
	defer s.seedsMu.Unlock()
	s.addSeedsLocked(addrs)
}

// SetSeeds replaces every seed address with addrs.
func (s *Server) SetSeeds(addrs ...string) {
	s.seedsMu.Lock()
	defer s.seedsMu.Unlock()
	s.seeds = nil
	s.addSeedsLocked(addrs)
}

func (s *Server) addSeedsLocked(addrs []string) {
	for _, a := range addrs {
		if a == "" || slices.Contains(s.seeds, a) {
			continue
		}
		s.seeds = append(s.seeds, a)
	}
}

// Seeds returns the configured seed addresses.
func (s *Server) Seeds() []string {
	s.seedsMu.Lock()
	defer s.seedsMu.Unlock()
	return slices.Clone(s.seeds)
}
