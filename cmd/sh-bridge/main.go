package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/openims/shbridge/pkg/ari"
	"github.com/openims/shbridge/pkg/bridge"
	"github.com/openims/shbridge/pkg/config"
	"github.com/openims/shbridge/pkg/diameter"
	"github.com/openims/shbridge/pkg/esl"
	"github.com/openims/shbridge/pkg/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	watchdogInterval, _ := cfg.WatchdogInterval()
	requestTimeout, _ := cfg.RequestTimeout()
	session := diameter.New(diameter.Settings{
		OriginHost:       cfg.Diameter.OriginHost,
		OriginRealm:      cfg.Diameter.OriginRealm,
		DestinationHost:  cfg.Diameter.DestinationHost,
		DestinationRealm: cfg.Diameter.DestinationRealm,
		PeerAddr:         net.JoinHostPort(cfg.Diameter.PeerHost, strconv.Itoa(cfg.Diameter.PeerPort)),
		NetworkType:      cfg.Diameter.NetworkType,
		ProductName:      cfg.Diameter.ProductName,
		WatchdogInterval: watchdogInterval,
		RequestTimeout:   requestTimeout,
	}, logger)

	// A peer we cannot reach at startup is fatal; there is no automatic
	// redial once running either.
	if err := session.Dial(); err != nil {
		log.Fatalf("diameter connect failed: %v", err)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var events <-chan bridge.CallEvent
	var calls bridge.CallController
	switch cfg.Mode {
	case "ari":
		client, err := ari.Dial(ari.Config{
			Host:     cfg.ARI.Host,
			Port:     cfg.ARI.Port,
			Username: cfg.ARI.Username,
			Password: cfg.ARI.Password,
			App:      cfg.ARI.App,
		}, logger)
		if err != nil {
			log.Fatalf("ari connect failed: %v", err)
		}
		defer client.Close()
		events = client.Events()
		calls = client
	default:
		client, err := esl.Dial(esl.Config{
			Host:     cfg.ESL.Host,
			Port:     cfg.ESL.Port,
			Password: cfg.ESL.Password,
		}, logger)
		if err != nil {
			log.Fatalf("freeswitch connect failed: %v", err)
		}
		defer client.Close()
		events = client.Events()
		calls = client
	}

	dispatcher := bridge.New(session, calls, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(ctx, events)
	})
	g.Go(func() error {
		return session.RunWatchdog(ctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return monitoring.Serve(ctx, cfg.MetricsAddr)
		})
	}

	logger.Info("sh bridge running", slog.String("mode", cfg.Mode))
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("bridge stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("sh bridge shut down")
}
