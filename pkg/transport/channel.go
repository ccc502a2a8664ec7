package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Fabric is an in-memory network shared by every ChannelNetwork built
// from it. Traffic can be dropped between hosts to simulate partitions
// and lost packets.
type Fabric struct {
	mu       sync.RWMutex
	swim     map[string]*chanSocket
	gossip   map[string]*chanReceiver
	blocked  map[[2]string]bool
	isolated map[string]bool
}

// NewFabric returns an empty fabric.
func NewFabric() *Fabric {
	return &Fabric{
		swim:     make(map[string]*chanSocket),
		gossip:   make(map[string]*chanReceiver),
		blocked:  make(map[[2]string]bool),
		isolated: make(map[string]bool),
	}
}

// Network returns a Network whose sockets belong to host.
func (f *Fabric) Network(host string) *ChannelNetwork {
	return &ChannelNetwork{fabric: f, host: host}
}

// Block drops all traffic from one host to another. Hosts are the
// host part of addresses.
func (f *Fabric) Block(fromHost, toHost string) {
	f.mu.Lock()
	f.blocked[[2]string{fromHost, toHost}] = true
	f.mu.Unlock()
}

// Unblock undoes Block.
func (f *Fabric) Unblock(fromHost, toHost string) {
	f.mu.Lock()
	delete(f.blocked, [2]string{fromHost, toHost})
	f.mu.Unlock()
}

// Isolate drops all traffic to and from host.
func (f *Fabric) Isolate(host string) {
	f.mu.Lock()
	f.isolated[host] = true
	f.mu.Unlock()
}

// Heal removes every block and isolation.
func (f *Fabric) Heal() {
	f.mu.Lock()
	clear(f.blocked)
	clear(f.isolated)
	f.mu.Unlock()
}

func (f *Fabric) dropped(fromHost, toHost string) bool {
	return f.isolated[fromHost] || f.isolated[toHost] || f.blocked[[2]string{fromHost, toHost}]
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ChannelNetwork is one host's view of a Fabric.
type ChannelNetwork struct {
	fabric *Fabric
	host   string
}

func (n *ChannelNetwork) ListenSwim(addr string, readTimeout time.Duration) (SwimSocket, error) {
	f := n.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.swim[addr]; taken {
		return nil, fmt.Errorf("binding swim socket %s: address in use", addr)
	}
	s := &chanSocket{
		fabric:      f,
		addr:        addr,
		readTimeout: readTimeout,
		inbox:       make(chan datagram, 256),
		done:        make(chan struct{}),
	}
	f.swim[addr] = s
	return s, nil
}

func (n *ChannelNetwork) ListenGossip(addr string) (GossipReceiver, error) {
	f := n.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.gossip[addr]; taken {
		return nil, fmt.Errorf("binding gossip listener %s: address in use", addr)
	}
	r := &chanReceiver{
		fabric: f,
		addr:   addr,
		inbox:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	f.gossip[addr] = r
	return r, nil
}

func (n *ChannelNetwork) GossipSender() GossipSender {
	return &chanSender{fabric: n.fabric, host: n.host}
}

type datagram struct {
	payload []byte
	from    string
}

type chanSocket struct {
	fabric      *Fabric
	addr        string
	readTimeout time.Duration
	inbox       chan datagram
	done        chan struct{}
	once        sync.Once
}

func (s *chanSocket) SendTo(payload []byte, addr string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if len(payload) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	f := s.fabric
	f.mu.RLock()
	dst, ok := f.swim[addr]
	drop := f.dropped(hostOf(s.addr), hostOf(addr))
	f.mu.RUnlock()
	if !ok || drop {
		// Datagrams to nowhere vanish, as with UDP.
		return nil
	}

	d := datagram{payload: append([]byte(nil), payload...), from: s.addr}
	select {
	case dst.inbox <- d:
	case <-dst.done:
	default:
	}
	return nil
}

func (s *chanSocket) ReceiveFrom(buf []byte) (int, string, error) {
	var timeout <-chan time.Time
	if s.readTimeout > 0 {
		t := time.NewTimer(s.readTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case d := <-s.inbox:
		return copy(buf, d.payload), d.from, nil
	case <-s.done:
		return 0, "", ErrClosed
	case <-timeout:
		return 0, "", ErrTimeout
	}
}

func (s *chanSocket) LocalAddr() string { return s.addr }

func (s *chanSocket) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.fabric.mu.Lock()
		if s.fabric.swim[s.addr] == s {
			delete(s.fabric.swim, s.addr)
		}
		s.fabric.mu.Unlock()
	})
	return nil
}

type chanReceiver struct {
	fabric *Fabric
	addr   string
	inbox  chan []byte
	done   chan struct{}
	once   sync.Once
}

func (r *chanReceiver) Receive() ([]byte, error) {
	select {
	case b := <-r.inbox:
		return b, nil
	case <-r.done:
		return nil, ErrClosed
	}
}

func (r *chanReceiver) Addr() string { return r.addr }

func (r *chanReceiver) Close() error {
	r.once.Do(func() {
		close(r.done)
		r.fabric.mu.Lock()
		if r.fabric.gossip[r.addr] == r {
			delete(r.fabric.gossip, r.addr)
		}
		r.fabric.mu.Unlock()
	})
	return nil
}

type chanSender struct {
	fabric *Fabric
	host   string
}

func (s *chanSender) Send(ctx context.Context, addr string, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	f := s.fabric
	f.mu.RLock()
	dst, ok := f.gossip[addr]
	drop := f.dropped(s.host, hostOf(addr))
	f.mu.RUnlock()
	if !ok || drop {
		return fmt.Errorf("%w: %s", ErrUnreachable, addr)
	}

	select {
	case dst.inbox <- append([]byte(nil), payload...):
		return nil
	case <-dst.done:
		return fmt.Errorf("%w: %s", ErrUnreachable, addr)
	case <-ctx.Done():
		return ctx.Err()
	}
}
