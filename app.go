package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/TeneoProtocolAI/walletscan/internal/adapters/auth"
	"github.com/TeneoProtocolAI/walletscan/internal/adapters/push"
	"github.com/TeneoProtocolAI/walletscan/internal/adapters/remote"
	"github.com/TeneoProtocolAI/walletscan/internal/adapters/store"
	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
	"github.com/TeneoProtocolAI/walletscan/internal/core/service"
	"github.com/TeneoProtocolAI/walletscan/internal/logging"
	"github.com/TeneoProtocolAI/walletscan/internal/metrics"
	"github.com/TeneoProtocolAI/walletscan/pkg/wallet"
)

const (
	settleInterval  = 200 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// tokenSource prefers the challenge flow over a static API token. Nil means
// requests go out unauthenticated.
func (a *app) tokenSource() (tokenSource, error) {
	switch {
	case a.cfg.API.PrivateKey != "":
		session, err := auth.NewSession(a.cfg.API.PrivateKey, a.cfg.API.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create auth session: %w", err)
		}
		a.log.Debugw("Authenticating with wallet signature", "address", session.Address())
		return session, nil
	case a.cfg.API.Token != "":
		return auth.StaticToken(a.cfg.API.Token), nil
	default:
		return nil, nil
	}
}

// openStore picks Redis when enabled and reachable, then the local state
// file, then nothing.
func (a *app) openStore(ctx context.Context) (domain.SnapshotStore, func()) {
	if a.cfg.Redis.Enabled {
		rs, err := store.NewRedisStore(ctx, &store.RedisConfig{
			Address:   a.cfg.Redis.Address,
			Username:  a.cfg.Redis.Username,
			Password:  a.cfg.Redis.Password,
			DB:        a.cfg.Redis.DB,
			KeyPrefix: a.cfg.Redis.KeyPrefix,
			UseTLS:    a.cfg.Redis.UseTLS,
			TTL:       a.cfg.Redis.TTL,
		})
		if err == nil {
			return rs, func() { rs.Close() }
		}
		a.log.Warnw("Redis unavailable, falling back to local state file", "error", err)
	}

	if a.cfg.State.File == "" || a.cfg.State.File == "off" {
		return store.NoOpStore{}, func() {}
	}
	fs := store.NewFileStore(a.cfg.State.File)
	if n, err := fs.Prune(a.cfg.State.MaxAge); err != nil {
		a.log.Warnw("Failed to prune state file", "path", fs.FilePath(), "error", err)
	} else if n > 0 {
		a.log.Debugw("Pruned old checkpoints", "path", fs.FilePath(), "deleted", n)
	}
	return fs, func() {}
}

func (a *app) resume(ctx context.Context, opts trackOptions) error {
	st, closeStore := a.openStore(ctx)
	key, err := st.LastKey(ctx)
	closeStore()
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("no wallet has been tracked yet")
	}
	return a.track(ctx, key, opts)
}

func (a *app) last(ctx context.Context, key string) error {
	st, closeStore := a.openStore(ctx)
	defer closeStore()

	if key == "" {
		last, err := st.LastKey(ctx)
		if err != nil {
			return err
		}
		if last == "" {
			return fmt.Errorf("no wallet has been tracked yet")
		}
		key = last
	} else {
		norm, err := wallet.Normalize(key)
		if err != nil {
			return fmt.Errorf("invalid wallet %q: %w", key, err)
		}
		key = norm
	}

	view, err := st.Load(ctx, key)
	if err != nil {
		return err
	}
	if view == nil {
		return fmt.Errorf("no stored view for %s", key)
	}
	return writeJSON(a.stdout, view)
}

func (a *app) track(ctx context.Context, key string, opts trackOptions) error {
	tokens, err := a.tokenSource()
	if err != nil {
		return err
	}
	st, closeStore := a.openStore(ctx)
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clientOpts := []remote.Option{
		remote.WithMetrics(m),
		remote.WithLogger(a.log.Named("remote")),
		remote.WithHTTPClient(&http.Client{Timeout: a.cfg.Sync.RequestTimeout}),
	}
	if tokens != nil {
		clientOpts = append(clientOpts, remote.WithTokenSource(tokens))
	}
	client := remote.NewClient(a.cfg.API.URL, clientOpts...)

	svc := service.NewSyncService(client, client, service.Options{
		PollInterval:   a.cfg.Sync.PollInterval,
		RequestTimeout: a.cfg.Sync.RequestTimeout,
		PageSize:       a.cfg.Sync.PageSize,
		Policy:         service.HeartbeatPolicy{Threshold: a.cfg.Sync.HeartbeatThreshold},
		Logger:         a.log.Named("sync"),
		Metrics:        m,
		Store:          st,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(svc.Run(gctx)) })
	if err := svc.Track(key); err != nil {
		cancel()
		g.Wait()
		return err
	}
	key = svc.View().Key

	if a.cfg.API.PushURL != "" {
		pushOpts := []push.Option{push.WithLogger(a.log.Named("push"))}
		if tokens != nil {
			pushOpts = append(pushOpts, push.WithTokenSource(tokens))
		}
		listener := push.NewListener(a.cfg.API.PushURL, pushOpts...)
		g.Go(func() error {
			return ignoreCanceled(listener.Run(gctx, key, func(n domain.PushNotice) {
				if err := svc.Refresh(); err != nil && !errors.Is(err, domain.ErrNotTracking) && !errors.Is(err, service.ErrStopped) {
					a.log.Debugw("Push refresh failed", "error", err)
				}
			}))
		})
	}

	if addr := a.cfg.App.MetricsAddr; addr != "" {
		srv := newMetricsServer(addr, reg, a)
		g.Go(func() error {
			a.log.Infow("Metrics server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		a.printEvents(svc.Events())
		return nil
	})

	g.Go(func() error {
		if opts.follow {
			<-gctx.Done()
			return nil
		}
		err := waitSettled(gctx, svc, opts.all)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to load results: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	vm := svc.View()
	if err := writeJSON(a.stdout, vm); err != nil {
		return err
	}

	switch {
	case runErr != nil:
		return runErr
	case vm.Status == domain.StatusFailed:
		return fmt.Errorf("analysis failed: %s", vm.Error)
	case !svc.Tracking() && !vm.Status.IsTerminal() && vm.Error != "":
		return fmt.Errorf("analysis rejected: %s", vm.Error)
	}
	return nil
}

// waitSettled returns once the job is terminal and no page is in flight, or
// tracking stopped. With all set it keeps requesting pages until every
// result is loaded, and gives up when the service refuses a page.
func waitSettled(ctx context.Context, svc *service.SyncService, all bool) error {
	ticker := time.NewTicker(settleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if !svc.Tracking() {
			return nil
		}
		vm := svc.View()
		if !vm.Status.IsTerminal() || vm.Loading {
			continue
		}
		if all && vm.HasMore {
			if err := svc.LoadNextPage(); err != nil {
				if ctx.Err() != nil || errors.Is(err, domain.ErrNotTracking) {
					return nil
				}
				return err
			}
			continue
		}
		return nil
	}
}

func (a *app) printEvents(events <-chan domain.LifecycleEvent) {
	for ev := range events {
		line := fmt.Sprintf("%s  %-10s %s  %d/%d",
			ev.At.Local().Format(time.TimeOnly), ev.Type, ev.Key, ev.Progress.Processed, ev.Progress.Total)
		if ev.Err != "" {
			line += "  " + ev.Err
		}
		fmt.Fprintln(a.stderr, line)
	}
}

func newMetricsServer(addr string, reg *prometheus.Registry, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           logging.RequestLogger(a.log.Named("http"), mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
