package gossip

import (
	"errors"
	"fmt"
	"time"
)

// Timing holds every protocol period, timeout and fan-out knob.
type Timing struct {
	// Ping is how long a direct probe waits for an Ack.
	Ping time.Duration
	// PingReq is how long to wait for a relayed Ack after asking
	// other members to probe on our behalf.
	PingReq time.Duration
	// SuspicionPeriods is how many protocol periods a member stays
	// Suspect before it is Confirmed.
	SuspicionPeriods int
	// Suspicion overrides SuspicionPeriods when positive.
	Suspicion time.Duration
	// Departure is how long a member stays Confirmed before it is
	// Departed and no longer probed.
	Departure time.Duration
	// ExpireInterval is how often the expirer scans. Zero means Ping.
	ExpireInterval time.Duration

	GossipPeriod    time.Duration
	GossipFanout    int
	PingReqTargets  int
	RumorCoolDown   int
	MaxPiggyback    int
	MaxGossipRumors int
}

// DefaultTiming returns the production defaults.
func DefaultTiming() Timing {
	return Timing{
		Ping:             1000 * time.Millisecond,
		PingReq:          2100 * time.Millisecond,
		SuspicionPeriods: 3,
		Departure:        72 * time.Hour,
		GossipPeriod:     1000 * time.Millisecond,
		GossipFanout:     5,
		PingReqTargets:   3,
		RumorCoolDown:    2,
		MaxPiggyback:     5,
		MaxGossipRumors:  100,
	}
}

// ProtocolPeriod is the time one probe occupies: Ping plus PingReq.
func (t Timing) ProtocolPeriod() time.Duration { return t.Ping + t.PingReq }

// SuspicionTimeout is how long a member may stay Suspect.
func (t Timing) SuspicionTimeout() time.Duration {
	if t.Suspicion > 0 {
		return t.Suspicion
	}
	return t.ProtocolPeriod() * time.Duration(t.SuspicionPeriods)
}

// SwimReadTimeout bounds each blocking SWIM receive so the inbound loop
// notices shutdown promptly.
func (t Timing) SwimReadTimeout() time.Duration {
	return max(t.Ping/4, 10*time.Millisecond)
}

// GossipSendTimeout bounds a single push to one peer.
func (t Timing) GossipSendTimeout() time.Duration { return t.GossipPeriod }

func (t Timing) expireInterval() time.Duration {
	if t.ExpireInterval > 0 {
		return t.ExpireInterval
	}
	return t.Ping
}

// Validate rejects non-positive settings.
func (t Timing) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	count := func(name string, n int) {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}

	positive("ping", t.Ping)
	positive("pingreq", t.PingReq)
	positive("departure", t.Departure)
	positive("gossip period", t.GossipPeriod)
	if t.Suspicion < 0 {
		errs = append(errs, fmt.Errorf("suspicion must not be negative, got %s", t.Suspicion))
	}
	if t.Suspicion == 0 {
		count("suspicion periods", t.SuspicionPeriods)
	}
	if t.ExpireInterval < 0 {
		errs = append(errs, fmt.Errorf("expire interval must not be negative, got %s", t.ExpireInterval))
	}
	count("gossip fanout", t.GossipFanout)
	count("pingreq targets", t.PingReqTargets)
	count("rumor cool-down", t.RumorCoolDown)
	count("max piggyback", t.MaxPiggyback)
	count("max gossip rumors", t.MaxGossipRumors)

	return errors.Join(errs...)
}
