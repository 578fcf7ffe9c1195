package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strct-org/adblock-tunnel/internal/agent"
	"github.com/strct-org/adblock-tunnel/internal/api"
	"github.com/strct-org/adblock-tunnel/internal/blocklist"
	"github.com/strct-org/adblock-tunnel/internal/config"
	"github.com/strct-org/adblock-tunnel/internal/features/adblocker"
	"github.com/strct-org/adblock-tunnel/internal/features/monitor"
	"github.com/strct-org/adblock-tunnel/internal/logger"
	"github.com/strct-org/adblock-tunnel/internal/metrics"
	"github.com/strct-org/adblock-tunnel/internal/stats"
)

func main() {
	devMode := flag.Bool("dev", false, "Run in development mode (host commands are logged, not executed)")
	flag.Parse()

	cfg, err := config.Load(*devMode)
	if err != nil {
		slog.Error("main: invalid configuration", "err", err)
		os.Exit(1)
	}
	logger.Init(cfg.IsDev, cfg.LogLevel)

	classifier, err := blocklist.NewClassifier(blocklist.NewStore(cfg.Blocklist), cfg.VerdictCacheSize)
	if err != nil {
		slog.Error("main: verdict cache", "err", err)
		os.Exit(1)
	}
	defer classifier.Close()
	slog.Info("main: blocklist loaded", "patterns", classifier.Store().Len())

	counter := &stats.Counter{}
	collector := metrics.NewCollector(counter)
	mon := monitor.New(cfg.MonitorInterval, cfg.Tunnel.DNSServer)
	for _, r := range []interface {
		Register(prometheus.Registerer) error
	}{collector, mon} {
		if err := r.Register(prometheus.DefaultRegisterer); err != nil {
			slog.Error("main: metrics registration", "err", err)
			os.Exit(1)
		}
	}

	ctrl := adblocker.NewFromConfig(cfg, classifier, counter, collector)
	mon.Paused = func() bool { return ctrl.Status().Running }

	mux := http.NewServeMux()
	ctrl.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/health", agent.HealthHandler(func() bool { return ctrl.Status().Running }))

	a := agent.New(
		api.New(api.Config{Port: cfg.APIPort, IsDev: cfg.IsDev}, mux),
		agent.ServiceFunc(ctrl.Run),
		mon,
		&agent.ProfilerService{Port: cfg.PprofPort},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	slog.Info("main: shutdown complete", "blocked", counter.Get())
}
