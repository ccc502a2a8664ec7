// Package transport moves opaque byte payloads between members. SWIM
// traffic is datagram shaped (UDP); gossip batches are reliable frames
// (TCP). The gossip engine only sees the interfaces here, so tests can
// run whole clusters over the in-memory Fabric.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by SwimSocket.ReceiveFrom when its read
	// timeout passes with nothing received.
	ErrTimeout = errors.New("transport: receive timeout")
	// ErrClosed is returned by any operation on a closed socket.
	ErrClosed = errors.New("transport: closed")
	// ErrUnreachable is returned when a gossip peer cannot be reached.
	ErrUnreachable = errors.New("transport: peer unreachable")
	// ErrTooLarge is returned for payloads over the transport's limit.
	ErrTooLarge = errors.New("transport: payload too large")
)

const (
	// MaxDatagramSize is the largest SWIM payload.
	MaxDatagramSize = 64 << 10
	// MaxFrameSize is the largest gossip frame.
	MaxFrameSize = 16 << 20
)

// SwimSocket sends and receives SWIM datagrams.
type SwimSocket interface {
	SendTo(payload []byte, addr string) error
	// ReceiveFrom reads one datagram into buf and returns its length and
	// source address. It returns ErrTimeout when the read timeout passes
	// and ErrClosed after Close.
	ReceiveFrom(buf []byte) (int, string, error)
	LocalAddr() string
	Close() error
}

// GossipReceiver yields inbound gossip frames.
type GossipReceiver interface {
	// Receive blocks until a frame arrives or the receiver is closed.
	Receive() ([]byte, error)
	Addr() string
	Close() error
}

// GossipSender delivers one gossip frame to a peer.
type GossipSender interface {
	Send(ctx context.Context, addr string, payload []byte) error
}

// Network creates the sockets a member needs.
type Network interface {
	ListenSwim(addr string, readTimeout time.Duration) (SwimSocket, error)
	ListenGossip(addr string) (GossipReceiver, error)
	GossipSender() GossipSender
}
