// Command push injects one rumor into a running ring through a member's
// gossip endpoint.
//
//	push --addr 10.0.0.1 --kind departure --member 3f2a...
//	push --addr 10.0.0.1 --kind config --group redis.default --incarnation 2 --file redis.toml
//	push --addr 10.0.0.1 --kind file --group redis.default --incarnation 1 --file redis.conf
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/pkg/client"
	"github.com/ryandielhenn/butterfly/pkg/node"
	"github.com/ryandielhenn/butterfly/pkg/transport"
	"github.com/ryandielhenn/butterfly/pkg/wire"
)

const defaultGossipPort = "9638"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr        string
		ringKeyPath string
		kind        string
		memberID    string
		group       string
		incarnation uint64
		file        string
		encrypted   bool
		timeout     time.Duration
	)

	flagSet := pflag.NewFlagSet("butterfly-push", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", "127.0.0.1", "gossip address of any ring member")
	flagSet.StringVar(&ringKeyPath, "ring-key", "", "path to the ring key (omit for an unencrypted ring)")
	flagSet.StringVar(&kind, "kind", "", "rumor to send: departure, config or file")
	flagSet.StringVar(&memberID, "member", "", "member id to depart")
	flagSet.StringVar(&group, "group", "", "service group, <service>.<group>")
	flagSet.Uint64Var(&incarnation, "incarnation", 0, "config or file incarnation; must exceed the current one")
	flagSet.StringVar(&file, "file", "", "config or file body to send")
	flagSet.BoolVar(&encrypted, "encrypted", false, "mark the payload as encrypted for the service")
	flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "send timeout")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var ringKey *wire.RingKey
	if ringKeyPath != "" {
		var err error
		if ringKey, err = wire.LoadRingKey(ringKeyPath); err != nil {
			return err
		}
	}

	target := node.NormalizeHostPort(addr, defaultGossipPort)
	c := client.New(target, ringKey, transport.NewUDPNetwork(zap.NewNop()).GossipSender())
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch kind {
	case "departure":
		if memberID == "" {
			return errors.New("--member is required for a departure")
		}
		if err := c.SendDeparture(ctx, memberID); err != nil {
			return err
		}
	case "config", "file":
		if group == "" || file == "" {
			return fmt.Errorf("--group and --file are required for %s", kind)
		}
		body, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if kind == "config" {
			err = c.SendServiceConfig(ctx, group, incarnation, body, encrypted)
		} else {
			err = c.SendServiceFile(ctx, group, filepath.Base(file), incarnation, body, encrypted)
		}
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown --kind %q: want departure, config or file", kind)
	}

	fmt.Printf("sent %s to %s\n", kind, target)
	return nil
}
