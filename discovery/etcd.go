// Package discovery registers members in etcd and finds seeds there.
//
// Each live member keeps a JSON record under <prefix>/<id>, attached to
// a lease that expires when the member stops refreshing it.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/pkg/member"
)

// Seed is the registry record of one member.
type Seed struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	SwimPort   int    `json:"swim_port"`
	GossipPort int    `json:"gossip_port"`
}

// SwimAddr is where the seed receives SWIM pings.
func (s Seed) SwimAddr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.SwimPort))
}

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// SeedKey is the registry key for member id under prefix.
func SeedKey(prefix, id string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + id
}

// RegisterMember writes m's record under a lease of ttl and keeps the
// lease alive until ctx is done. Revoke the returned lease to
// deregister at once.
func RegisterMember(ctx context.Context, cli *clientv3.Client, prefix string, m member.Member, ttl time.Duration) (clientv3.LeaseID, error) {
	value, err := json.Marshal(Seed{ID: m.ID, Address: m.Address, SwimPort: m.SwimPort, GossipPort: m.GossipPort})
	if err != nil {
		return 0, err
	}
	lease, err := cli.Grant(ctx, int64(max(ttl/time.Second, 1)))
	if err != nil {
		return 0, fmt.Errorf("granting lease: %w", err)
	}
	if _, err := cli.Put(ctx, SeedKey(prefix, m.ID), string(value), clientv3.WithLease(lease.ID)); err != nil {
		return 0, fmt.Errorf("registering %s: %w", m.ID, err)
	}

	keepAlive, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return 0, fmt.Errorf("keeping lease alive: %w", err)
	}
	go func() {
		for range keepAlive {
		}
	}()
	return lease.ID, nil
}

// ListSeeds returns every registered member under prefix.
func ListSeeds(ctx context.Context, cli *clientv3.Client, prefix string) ([]Seed, error) {
	seeds, _, err := listSeeds(ctx, cli, prefix)
	return seeds, err
}

func listSeeds(ctx context.Context, cli *clientv3.Client, prefix string) ([]Seed, int64, error) {
	resp, err := cli.Get(ctx, SeedKey(prefix, ""), clientv3.WithPrefix())
	if err != nil {
		return nil, 0, fmt.Errorf("listing seeds: %w", err)
	}
	seeds := make([]Seed, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		s, err := decodeSeed(prefix, kv)
		if err != nil {
			continue
		}
		seeds = append(seeds, s)
	}
	return seeds, resp.Header.Revision, nil
}

// WatchSeeds calls fn with the full registry under prefix, first with
// the current contents and then after every change, until ctx is done.
func WatchSeeds(ctx context.Context, cli *clientv3.Client, prefix string, log *zap.Logger, fn func(map[string]Seed)) error {
	if log == nil {
		log = zap.NewNop()
	}
	initial, rev, err := listSeeds(ctx, cli, prefix)
	if err != nil {
		return err
	}
	seeds := make(map[string]Seed, len(initial))
	for _, s := range initial {
		seeds[s.ID] = s
	}
	fn(clone(seeds))

	wch := cli.Watch(ctx, SeedKey(prefix, ""), clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	go func() {
		for resp := range wch {
			if err := resp.Err(); err != nil {
				log.Warn("seed watch failed", zap.Error(err))
				continue
			}
			changed := false
			for _, ev := range resp.Events {
				if err := applyEvent(seeds, prefix, ev.Type, ev.Kv); err != nil {
					log.Debug("ignoring seed record", zap.ByteString("key", ev.Kv.Key), zap.Error(err))
					continue
				}
				changed = true
			}
			if changed {
				fn(clone(seeds))
			}
		}
	}()
	return nil
}

func applyEvent(seeds map[string]Seed, prefix string, typ mvccpb.Event_EventType, kv *mvccpb.KeyValue) error {
	switch typ {
	case mvccpb.PUT:
		s, err := decodeSeed(prefix, kv)
		if err != nil {
			return err
		}
		seeds[s.ID] = s
	case mvccpb.DELETE:
		id := strings.TrimPrefix(string(kv.Key), SeedKey(prefix, ""))
		delete(seeds, id)
	}
	return nil
}

func decodeSeed(prefix string, kv *mvccpb.KeyValue) (Seed, error) {
	id := strings.TrimPrefix(string(kv.Key), SeedKey(prefix, ""))
	var s Seed
	if err := json.Unmarshal(kv.Value, &s); err != nil {
		return Seed{}, fmt.Errorf("seed %s: %w", id, err)
	}
	if s.ID != id {
		return Seed{}, fmt.Errorf("seed %s: record names %q", id, s.ID)
	}
	if s.Address == "" || s.SwimPort <= 0 {
		return Seed{}, fmt.Errorf("seed %s: missing address", id)
	}
	return s, nil
}

func clone(seeds map[string]Seed) map[string]Seed {
	out := make(map[string]Seed, len(seeds))
	for k, v := range seeds {
		out[k] = v
	}
	return out
}
