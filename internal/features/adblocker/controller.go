// Package adblocker owns the tunnel session lifecycle: it acquires the TUN
// device from the platform, runs the pump over it, and tears everything
// down again. It also serves the start/stop/status control surface.
package adblocker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strct-org/adblock-tunnel/internal/blocklist"
	"github.com/strct-org/adblock-tunnel/internal/config"
	"github.com/strct-org/adblock-tunnel/internal/errs"
	"github.com/strct-org/adblock-tunnel/internal/metrics"
	"github.com/strct-org/adblock-tunnel/internal/platform/tunnel"
	"github.com/strct-org/adblock-tunnel/internal/pump"
	"github.com/strct-org/adblock-tunnel/internal/stats"
)

const (
	opStart errs.Op = "adblocker.Start"
	opStop  errs.Op = "adblocker.Stop"

	// defaultStopTimeout bounds how long Stop waits for the pump goroutine
	// after the device has been closed.
	defaultStopTimeout = 5 * time.Second
)

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// platform is the host capability the controller depends on.
// Satisfied by *tunnel.Service in production.
type platform interface {
	AcquireTunnel(cfg config.TunnelConfig) (tunnel.Handle, error)
	ReleaseTunnel(h tunnel.Handle) error
	Notify(running bool, blocked uint64)
}

// Config holds what a session needs beyond its collaborators.
type Config struct {
	Tunnel    config.TunnelConfig
	Backoff   time.Duration
	AutoStart bool
	// StopTimeout defaults to 5s. A pump still alive after it keeps the
	// controller in StateStopping until the pump returns.
	StopTimeout time.Duration
}

// Status is a point-in-time snapshot for pollers.
type Status struct {
	State         State  `json:"state"`
	Running       bool   `json:"running"`
	BlockedCount  uint64 `json:"blocked_count"`
	SessionID     string `json:"session_id,omitempty"`
	BlocklistSize int    `json:"blocklist_size"`
}

type session struct {
	id        string
	handle    tunnel.Handle
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// closeHandle closes the device at most once per session.
func (s *session) closeHandle() {
	s.closeOnce.Do(func() {
		if err := s.handle.Close(); err != nil {
			slog.Warn("adblocker: closing tunnel device failed", "session", s.id, "err", err)
		}
	})
}

// Controller is the single owner of the tunnel state and device handle.
type Controller struct {
	cfg        Config
	platform   platform
	classifier *blocklist.Classifier
	counter    *stats.Counter
	metrics    *metrics.Collector

	mu      sync.Mutex
	state   State
	session *session
}

// New is the base constructor. m may be nil.
func New(cfg Config, p platform, classifier *blocklist.Classifier, counter *stats.Counter, m *metrics.Collector) *Controller {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Controller{
		cfg:        cfg,
		platform:   p,
		classifier: classifier,
		counter:    counter,
		metrics:    m,
		state:      StateStopped,
	}
}

// NewFromConfig wires the controller to the real TUN platform.
func NewFromConfig(cfg *config.Config, classifier *blocklist.Classifier, counter *stats.Counter, m *metrics.Collector) *Controller {
	return New(
		Config{
			Tunnel:    cfg.Tunnel,
			Backoff:   cfg.RetryBackoff,
			AutoStart: cfg.AutoStart,
		},
		tunnel.NewFromConfig(cfg),
		classifier,
		counter,
		m,
	)
}

// Start acquires the tunnel device and launches the pump. It is a no-op
// while already running.
func (c *Controller) Start() error {
	c.mu.Lock()
	switch c.state {
	case StateRunning:
		c.mu.Unlock()
		slog.Debug("adblocker: already running, ignoring start")
		return nil
	case StateStarting, StateStopping:
		st := c.state
		c.mu.Unlock()
		return errs.E(opStart, errs.KindConflict, fmt.Errorf("tunnel is %s", st))
	}
	c.state = StateStarting
	c.mu.Unlock()

	slog.Info("adblocker: starting tunnel", "dev", c.cfg.Tunnel.Name)
	h, err := c.platform.AcquireTunnel(c.cfg.Tunnel)
	if err == nil && h == nil {
		err = fmt.Errorf("%w: platform returned no handle", tunnel.ErrEstablish)
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
		slog.Error("adblocker: tunnel start failed", "err", err)
		return startError(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:     uuid.NewString(),
		handle: h,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	opts := []pump.Option{
		pump.WithBackoff(c.cfg.Backoff),
		pump.WithLogger(slog.With("session", sess.id)),
	}
	if c.metrics != nil {
		opts = append(opts, pump.WithObserver(c.metrics))
	}
	p := pump.New(h, c.classifier, c.counter, opts...)

	c.mu.Lock()
	c.session = sess
	c.state = StateRunning
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SessionStarted()
	}
	c.platform.Notify(true, c.counter.Get())
	slog.Info("adblocker: tunnel running", "session", sess.id, "dev", h.Name())

	go c.run(ctx, sess, p)
	return nil
}

// run drives the pump for one session. If the pump ends on its own (end
// of stream) the session is torn down here; otherwise Stop owns teardown.
func (c *Controller) run(ctx context.Context, sess *session, p *pump.Pump) {
	err := p.Run(ctx)
	close(sess.done)

	switch {
	case err == nil:
	case errors.Is(err, pump.ErrStreamClosed):
		slog.Info("adblocker: tunnel stream ended", "session", sess.id)
	default:
		slog.Error("adblocker: pump failed", "session", sess.id, "err", err)
	}

	c.mu.Lock()
	if c.session != sess || c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	c.mu.Unlock()

	if err := c.teardown(sess); err != nil {
		slog.Warn("adblocker: teardown after pump exit", "session", sess.id, "err", err)
	}
}

// Stop cancels the pump, closes the device and releases the platform
// resources. It is a no-op unless running.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	sess := c.session
	c.state = StateStopping
	c.mu.Unlock()

	slog.Info("adblocker: stopping tunnel", "session", sess.id)
	sess.cancel()
	sess.closeHandle()

	select {
	case <-sess.done:
	case <-time.After(c.cfg.StopTimeout):
		slog.Error("adblocker: pump did not exit after close", "session", sess.id, "waited", c.cfg.StopTimeout)
	}

	if err := c.teardown(sess); err != nil {
		return errs.E(opStop, errs.KindSystem, err, "tunnel release failed")
	}
	return nil
}

// teardown is shared by Stop and the end-of-stream path. The state must
// already be StateStopping. It ends in StateStopped once the pump goroutine
// has returned, so a new session never overlaps the old pump.
func (c *Controller) teardown(sess *session) error {
	sess.cancel()
	sess.closeHandle()
	err := c.platform.ReleaseTunnel(sess.handle)

	select {
	case <-sess.done:
		c.finish(sess)
	default:
		slog.Warn("adblocker: pump still running, holding state at stopping", "session", sess.id)
		go func() {
			<-sess.done
			c.finish(sess)
		}()
	}
	return err
}

func (c *Controller) finish(sess *session) {
	c.mu.Lock()
	c.state = StateStopped
	c.session = nil
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SessionStopped()
	}
	c.platform.Notify(false, c.counter.Get())
	slog.Info("adblocker: tunnel stopped", "session", sess.id, "blocked", c.counter.Get())
}

// Status returns a snapshot. Safe to call from any goroutine.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		State:   c.state,
		Running: c.state == StateRunning,
	}
	if c.session != nil {
		st.SessionID = c.session.id
	}
	c.mu.Unlock()

	st.BlockedCount = c.counter.Get()
	st.BlocklistSize = c.classifier.Store().Len()
	return st
}

// Run implements agent.Service: optional autostart, then Stop on shutdown.
func (c *Controller) Run(ctx context.Context) error {
	if c.cfg.AutoStart {
		if err := c.Start(); err != nil {
			slog.Error("adblocker: autostart failed", "err", err)
		}
	}
	<-ctx.Done()
	slog.Info("adblocker: shutdown signal received")
	return c.Stop()
}

func startError(err error) error {
	switch {
	case errors.Is(err, tunnel.ErrPermissionDenied):
		return errs.E(opStart, errs.KindPermission, err, "tunnel permission denied")
	case errors.Is(err, tunnel.ErrUnsupported):
		return errs.E(opStart, errs.KindSystem, err, "tunnel devices are not supported on this platform")
	default:
		return errs.E(opStart, errs.KindNetwork, err, "could not establish tunnel device")
	}
}
