// ? lifecycle orchestration only
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	_ "net/http/pprof"

	"github.com/strct-org/adblock-tunnel/internal/errs"
	"github.com/strct-org/adblock-tunnel/internal/httputil"
)

const opProfiler errs.Op = "agent.ProfilerService.Start"

// Service is anything the agent runs for the lifetime of the process.
// Start blocks until ctx is cancelled or the service fails.
type Service interface {
	Start(ctx context.Context) error
}

// ServiceFunc adapts a plain function to Service.
type ServiceFunc func(ctx context.Context) error

func (f ServiceFunc) Start(ctx context.Context) error { return f(ctx) }

type Agent struct {
	services []Service
}

func New(services ...Service) *Agent {
	return &Agent{services: services}
}

// Start runs every service concurrently and returns once ctx is cancelled
// and all of them have returned.
func (a *Agent) Start(ctx context.Context) {
	slog.Info("agent: starting services", "count", len(a.services))

	var wg sync.WaitGroup
	for _, svc := range a.services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Start(ctx); err != nil {
				slog.Error("agent: service failed", "service", fmt.Sprintf("%T", svc), "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("agent: shutdown signal received, waiting for services")
	wg.Wait()
}

// ProfilerService exposes net/http/pprof on loopback. Port 0 disables it.
type ProfilerService struct {
	Port int
}

func (p *ProfilerService) Start(ctx context.Context) error {
	if p.Port <= 0 {
		return nil
	}
	addr := fmt.Sprintf("127.0.0.1:%d", p.Port)
	srv := &http.Server{Addr: addr, Handler: http.DefaultServeMux}
	slog.Info("agent: pprof listening (SSH tunnel required)", "addr", addr)
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return errs.E(opProfiler, errs.KindNetwork, err)
	}
	return nil
}

// HealthHandler reports liveness plus whether the tunnel is currently up.
func HealthHandler(tunnelRunning func() bool) http.HandlerFunc {
	type response struct {
		Status        string `json:"status"`
		TunnelRunning bool   `json:"tunnel_running"`
		Timestamp     string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, response{
			Status:        "ok",
			TunnelRunning: tunnelRunning(),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		})
	}
}
