package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/planboard/backend/internal/auth"
	"github.com/planboard/backend/internal/change"
	"github.com/planboard/backend/internal/config"
	"github.com/planboard/backend/internal/feeds"
	"github.com/planboard/backend/internal/live"
	"github.com/planboard/backend/internal/metrics"
	"github.com/planboard/backend/internal/mock"
	"github.com/planboard/backend/internal/store"
	"github.com/planboard/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Seed demo projects and mutate them continuously")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	issueFor := flag.String("issue-token", "", "Print a token for this subject and exit")
	issueProjects := flag.String("token-projects", auth.AllProjects, "Comma-separated projects the issued token may read")
	issueTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of the issued token")
	// glog writes to files by default; the server logs to stderr unless told otherwise.
	if f := flag.Lookup("logtostderr"); f != nil {
		_ = f.Value.Set("true")
	}
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		glog.Exitf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
		if err := cfg.Validate(); err != nil {
			glog.Exitf("Invalid config: %v", err)
		}
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if *issueFor != "" {
		token, err := verifier.Issue(*issueFor, splitList(*issueProjects), *issueTTL, time.Now())
		if err != nil {
			glog.Exitf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, verifier, *mockMode); err != nil {
		glog.Errorf("Server error: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(cfg *config.Config, verifier *auth.Verifier, mockMode bool) error {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	coll := metrics.NewCollector()
	bus := change.NewBus(change.WithPanicHandler(coll.ListenerPanicked))
	coll.TrackListeners(bus)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		coll,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub, err := live.NewHub(bus, live.HubConfig{
		HeartbeatInterval: cfg.Live.HeartbeatInterval,
		MaxSessionTTL:     cfg.Live.MaxSessionTTL,
		MaxSessions:       cfg.Server.MaxConnections,
		Observer:          coll,
	}, feeds.All(st)...)
	if err != nil {
		return err
	}
	if !verifier.Enabled() {
		glog.Warning("auth.jwt_secret is empty: live feeds and the API are open to anyone")
	}

	server := ws.NewServer(cfg, st, bus, hub, verifier)
	server.SetMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mockMode {
		glog.Info("Starting in mock mode")
		gen := mock.NewGenerator(st, bus, mock.Config{
			Interval: cfg.Mock.Interval,
			Projects: cfg.Mock.Projects,
		})
		if err := gen.Start(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		return ws.ListenAndServe(ctx, addr, server.Handler())
	})
	g.Go(func() error {
		<-ctx.Done()
		glog.Info("Shutting down...")
		hub.Shutdown()
		return nil
	})
	return g.Wait()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
