// Package client injects single rumors into a running member's gossip
// endpoint. Operational tooling uses it to depart members and to push
// service configuration and files.
package client

import (
	"context"
	"fmt"

	"github.com/ryandielhenn/butterfly/pkg/member"
	"github.com/ryandielhenn/butterfly/pkg/rumor"
	"github.com/ryandielhenn/butterfly/pkg/transport"
	"github.com/ryandielhenn/butterfly/pkg/wire"
)

// ClientID is the sender id stamped on pushed batches.
const ClientID = "butterfly-client"

// Client talks to one member's gossip address.
type Client struct {
	addr   string
	codec  *wire.Codec
	sender transport.GossipSender
}

// New returns a client for the gossip endpoint at addr. ringKey must
// match the ring's key, or be nil for an unencrypted ring.
func New(addr string, ringKey *wire.RingKey, sender transport.GossipSender) *Client {
	return &Client{addr: addr, codec: wire.NewCodec(ringKey), sender: sender}
}

// Send pushes r as a one-rumor gossip batch.
func (c *Client) Send(ctx context.Context, r rumor.Rumor) error {
	rec, err := rumor.Encode(r)
	if err != nil {
		return err
	}
	data, err := c.codec.EncodeMessage(wire.NewGossip(member.Member{ID: ClientID}, []rumor.Record{rec}))
	if err != nil {
		return fmt.Errorf("encoding %s rumor: %w", r.Kind(), err)
	}
	if err := c.sender.Send(ctx, c.addr, data); err != nil {
		return fmt.Errorf("sending %s rumor to %s: %w", r.Kind(), c.addr, err)
	}
	return nil
}

// SendDeparture departs memberID from the ring.
func (c *Client) SendDeparture(ctx context.Context, memberID string) error {
	return c.Send(ctx, &rumor.Departure{MemberID: memberID})
}

// SendServiceConfig pushes configuration for a service group.
func (c *Client) SendServiceConfig(ctx context.Context, group string, incarnation uint64, config []byte, encrypted bool) error {
	if !rumor.ValidServiceGroup(group) {
		return fmt.Errorf("invalid service group %q", group)
	}
	return c.Send(ctx, &rumor.ServiceConfig{
		FromID:       ClientID,
		ServiceGroup: group,
		Incarnation:  incarnation,
		Encrypted:    encrypted,
		Config:       config,
	})
}

// SendServiceFile pushes a named file to every member of a service group.
func (c *Client) SendServiceFile(ctx context.Context, group, filename string, incarnation uint64, body []byte, encrypted bool) error {
	if !rumor.ValidServiceGroup(group) {
		return fmt.Errorf("invalid service group %q", group)
	}
	if filename == "" {
		return fmt.Errorf("service file needs a filename")
	}
	return c.Send(ctx, rumor.NewServiceFile(ClientID, group, filename, incarnation, body, encrypted))
}
