// Package monitor periodically pings the tunnel's upstream resolver so an
// unreachable DNS server shows up in the logs and metrics instead of as
// silently failing lookups.
package monitor

import (
	"context"
	"log/slog"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	pingCount   = 3
	pingTimeout = 2 * time.Second
	highLatency = 100 * time.Millisecond
)

// Result is the outcome of one probe round.
type Result struct {
	Target     string        `json:"target"`
	AvgRtt     time.Duration `json:"avg_rtt"`
	PacketLoss float64       `json:"packet_loss"`
	IsDown     bool          `json:"is_down"`
}

// Pinger runs one probe round against target.
type Pinger func(ctx context.Context, target string) (Result, error)

type NetworkMonitor struct {
	Interval time.Duration
	Target   string
	// Paused, when set and true, skips the probe for that tick. While the
	// tunnel is up the echo to Target is routed into the tunnel and looped
	// back, so it would read as an outage.
	Paused func() bool

	ping    Pinger
	rtt     prometheus.Gauge
	reachUp prometheus.Gauge
}

// New creates a monitor for target using ICMP echo.
func New(interval time.Duration, target string) *NetworkMonitor {
	return NewWithPinger(interval, target, icmpPing)
}

func NewWithPinger(interval time.Duration, target string, p Pinger) *NetworkMonitor {
	return &NetworkMonitor{
		Interval: interval,
		Target:   target,
		ping:     p,
		rtt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adblock_upstream_rtt_seconds",
			Help: "Average round trip time to the upstream DNS server in the last probe.",
		}),
		reachUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adblock_upstream_up",
			Help: "1 if the upstream DNS server answered the last probe.",
		}),
	}
}

// Register adds the monitor gauges to reg.
func (m *NetworkMonitor) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.rtt, m.reachUp} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Start implements agent.Service. It probes once per Interval until ctx
// is cancelled. A zero Interval disables the monitor.
func (m *NetworkMonitor) Start(ctx context.Context) error {
	if m.Interval <= 0 {
		slog.Info("monitor: disabled")
		return nil
	}
	slog.Info("monitor: starting upstream health monitor", "target", m.Target, "interval", m.Interval)

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.Paused != nil && m.Paused() {
				slog.Debug("monitor: probe skipped while paused", "target", m.Target)
				continue
			}
			m.Check(ctx)
		}
	}
}

// Check runs one probe round and records the result.
func (m *NetworkMonitor) Check(ctx context.Context) (Result, error) {
	res, err := m.ping(ctx, m.Target)
	if err != nil {
		slog.Warn("monitor: ping failed", "target", m.Target, "err", err)
		m.reachUp.Set(0)
		return res, err
	}

	m.rtt.Set(res.AvgRtt.Seconds())
	switch {
	case res.IsDown:
		m.reachUp.Set(0)
		slog.Error("monitor: upstream DNS unreachable", "target", m.Target, "loss", res.PacketLoss)
	case res.AvgRtt > highLatency:
		m.reachUp.Set(1)
		slog.Warn("monitor: high latency", "target", m.Target, "rtt", res.AvgRtt)
	default:
		m.reachUp.Set(1)
		slog.Debug("monitor: health ok", "target", m.Target, "rtt", res.AvgRtt, "loss", res.PacketLoss)
	}
	return res, nil
}

func icmpPing(ctx context.Context, target string) (Result, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return Result{}, err
	}

	pinger.SetPrivileged(true)
	pinger.Count = pingCount
	pinger.Timeout = pingTimeout

	if err := pinger.RunWithContext(ctx); err != nil {
		return Result{}, err
	}

	st := pinger.Statistics()
	return Result{
		Target:     target,
		AvgRtt:     st.AvgRtt,
		PacketLoss: st.PacketLoss,
		IsDown:     st.PacketLoss >= 100,
	}, nil
}
