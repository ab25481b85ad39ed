// Command simulate runs the sync engine against an in-process analysis
// service, including one stalled heartbeat, and prints the final view.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http/httptest"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/TeneoProtocolAI/walletscan/internal/adapters/auth"
	"github.com/TeneoProtocolAI/walletscan/internal/adapters/push"
	"github.com/TeneoProtocolAI/walletscan/internal/adapters/remote"
	"github.com/TeneoProtocolAI/walletscan/internal/adapters/simbackend"
	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
	"github.com/TeneoProtocolAI/walletscan/internal/core/service"
	"github.com/TeneoProtocolAI/walletscan/internal/logging"
	"github.com/TeneoProtocolAI/walletscan/internal/metrics"
)

func main() {
	_ = godotenv.Load()

	wallet := flag.String("wallet", "0x742d35Cc6634C0532925a3b844Bc9e7595f2b21D", "wallet to analyse")
	tokens := flag.Int("tokens", 12, "tokens in the synthetic history")
	trades := flag.Int("trades", 5, "trades per token")
	step := flag.Duration("step", 50*time.Millisecond, "simulated processing step")
	stall := flag.Bool("stall", true, "stall the heartbeat halfway through")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log, err := logging.New(logging.Config{Level: *level, Environment: "development"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	opts := simbackend.Options{
		Tokens:         *tokens,
		TradesPerToken: *trades,
		StepInterval:   *step,
		StepSize:       3,
		AuthSecret:     []byte("walletscan-simulate"),
		NotifyInterval: *step,
		Logger:         log.Named("backend"),
	}
	if *stall {
		opts.StallAt = *tokens * *trades / 2
	}
	srv := httptest.NewServer(logging.RequestLogger(log.Named("http"), simbackend.New(opts)))
	defer srv.Close()

	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalw("Failed to generate session key", "error", err)
	}
	session, err := auth.NewSession(hex.EncodeToString(crypto.FromECDSA(key)), srv.URL)
	if err != nil {
		log.Fatalw("Failed to create session", "error", err)
	}

	m := metrics.New(prometheus.NewRegistry())
	client := remote.NewClient(srv.URL,
		remote.WithTokenSource(session),
		remote.WithMetrics(m),
		remote.WithLogger(log.Named("remote")),
	)
	svc := service.NewSyncService(client, client, service.Options{
		PollInterval: 4 * *step,
		PageSize:     5,
		Policy:       service.HeartbeatPolicy{Threshold: 20 * *step},
		Logger:       log.Named("sync"),
		Metrics:      m,
	})
	listener := push.NewListener("ws"+strings.TrimPrefix(srv.URL, "http"),
		push.WithTokenSource(session),
		push.WithLogger(log.Named("push")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(svc.Run(gctx)) })
	if err := svc.Track(*wallet); err != nil {
		log.Fatalw("Failed to track wallet", "error", err)
	}
	tracked := svc.View().Key

	g.Go(func() error {
		return ignoreCanceled(listener.Run(gctx, tracked, func(domain.PushNotice) { svc.Refresh() }))
	})
	g.Go(func() error {
		for ev := range svc.Events() {
			log.Infow("Lifecycle event",
				"type", ev.Type,
				"status", ev.Status,
				"processed", ev.Progress.Processed,
				"total", ev.Progress.Total)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(*step)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			vm := svc.View()
			if !vm.Status.IsTerminal() || vm.Loading {
				continue
			}
			if vm.HasMore {
				svc.LoadNextPage()
				continue
			}
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		log.Errorw("Simulation failed", "error", err)
	}

	out, _ := json.MarshalIndent(svc.View(), "", "  ")
	fmt.Println(string(out))
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
