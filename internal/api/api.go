package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/strct-org/adblock-tunnel/internal/errs"
)

const (
	opStart         errs.Op = "api.Server.Start"
	shutdownTimeout         = 5 * time.Second
)

// Config holds the server configuration.
type Config struct {
	Port  int
	IsDev bool
}

// Server is a runnable HTTP server.
// It accepts a pre-built mux so route registration stays in main.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New returns a Server ready to Start.
func New(cfg Config, mux *http.ServeMux) *Server {
	return &Server{cfg: cfg, mux: mux}
}

// Handler returns the mux wrapped in the server middleware.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// Start implements agent.Service.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr())
	if err != nil {
		return errs.E(opStart, errs.KindNetwork, err, fmt.Sprintf("listen on %s", s.addr()))
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("api: shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	slog.Info("api: listening", "addr", ln.Addr().String(), "dev", s.cfg.IsDev)
	if err := srv.Serve(ln); err != http.ErrServerClosed {
		return errs.E(opStart, errs.KindNetwork, err, "server failed")
	}
	return nil
}

// addr binds loopback only. The control surface can start and stop host
// networking and is not meant to be reachable from the LAN.
func (s *Server) addr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme != "http" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
