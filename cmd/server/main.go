// Command server runs one butterfly member: the SWIM failure detector,
// rumor gossip, optional etcd seed discovery and the HTTP status API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/butterfly/discovery"
	"github.com/ryandielhenn/butterfly/internal/config"
	"github.com/ryandielhenn/butterfly/internal/logging"
	"github.com/ryandielhenn/butterfly/internal/telemetry"
	"github.com/ryandielhenn/butterfly/pkg/gossip"
	"github.com/ryandielhenn/butterfly/pkg/node"
	"github.com/ryandielhenn/butterfly/pkg/transport"
	"github.com/ryandielhenn/butterfly/pkg/wire"
)

// Set with -ldflags at build time.
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet("butterfly-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config (default: $"+config.EnvConfig+")")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("butterfly %s (%s)\n", version, gitSHA)
		return nil
	}

	// 1. Load config and build the logger
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer log.Sync()
	telemetry.SetBuildInfo(version, gitSHA)

	var ringKey *wire.RingKey
	if cfg.RingKeyFile != "" {
		if ringKey, err = wire.LoadRingKey(cfg.RingKeyFile); err != nil {
			return err
		}
		log.Info("ring key loaded",
			zap.String("key", ringKey.NameWithRevision()),
			zap.String("fingerprint", ringKey.Fingerprint()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Start the gossip server
	srv, err := gossip.New(gossip.Config{
		Self:         cfg.Self(),
		SwimListen:   cfg.Listen.Swim,
		GossipListen: cfg.Listen.Gossip,
		Timing:       cfg.Timing(),
		Network:      transport.NewUDPNetwork(log),
		RingKey:      ringKey,
		Incarnation:  gossip.NewFileIncarnationStore(cfg.DataDir),
		Seeds:        cfg.Seeds,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Stop()

	// 3. Register with etcd and watch for seeds
	if len(cfg.Etcd.Endpoints) > 0 {
		cli, err := discovery.NewClient(cfg.Etcd.Endpoints)
		if err != nil {
			return fmt.Errorf("etcd client: %w", err)
		}
		defer cli.Close()

		lease, err := discovery.RegisterMember(ctx, cli, cfg.Etcd.Prefix, srv.Self(), cfg.Etcd.TTL)
		if err != nil {
			return err
		}
		defer revoke(cli, lease, log)

		self := srv.Self().ID
		err = discovery.WatchSeeds(ctx, cli, cfg.Etcd.Prefix, log, func(seeds map[string]discovery.Seed) {
			addrs := slices.Clone(cfg.Seeds)
			for id, s := range seeds {
				if id == self {
					continue
				}
				addrs = append(addrs, s.SwimAddr())
			}
			srv.SetSeeds(addrs...)
			log.Debug("seeds updated", zap.Int("registered", len(seeds)))
		})
		if err != nil {
			return err
		}
	}

	// 4. Serve the HTTP API
	httpSrv := &http.Server{
		Addr:              cfg.Listen.HTTP,
		Handler:           node.NewNode(srv).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		log.Info("http api listening", zap.String("addr", cfg.Listen.HTTP))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-httpErr:
		return fmt.Errorf("http api: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func revoke(cli *clientv3.Client, lease clientv3.LeaseID, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Revoke(ctx, lease); err != nil {
		log.Warn("revoking etcd lease", zap.Error(err))
	}
}
