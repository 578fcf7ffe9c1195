// Package metrics exposes tunnel and pump counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/strct-org/adblock-tunnel/internal/stats"
)

// Collector holds the adblock metrics. It implements pump.Observer.
type Collector struct {
	blocked  prometheus.CounterFunc
	packets  *prometheus.CounterVec
	bytesOut prometheus.Counter
	ioErrors *prometheus.CounterVec
	running  prometheus.Gauge
	sessions prometheus.Counter
}

// NewCollector builds the metrics. adblock_blocked_total reads counter
// directly so it can never drift from the status endpoint.
func NewCollector(counter *stats.Counter) *Collector {
	return &Collector{
		blocked: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "adblock_blocked_total",
				Help: "DNS query packets dropped because the domain matched the blocklist",
			},
			func() float64 { return float64(counter.Get()) },
		),
		packets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adblock_packets_total",
				Help: "Packets read from the tunnel, by verdict",
			},
			[]string{"verdict"},
		),
		bytesOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "adblock_forwarded_bytes_total",
				Help: "Bytes written back to the tunnel",
			},
		),
		ioErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adblock_io_errors_total",
				Help: "Transient tunnel I/O errors, by operation",
			},
			[]string{"op"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "adblock_tunnel_running",
				Help: "1 while a tunnel session is running",
			},
		),
		sessions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "adblock_sessions_total",
				Help: "Tunnel sessions started",
			},
		),
	}
}

// Register adds every metric to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, m := range []prometheus.Collector{c.blocked, c.packets, c.bytesOut, c.ioErrors, c.running, c.sessions} {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) PacketBlocked(string) {
	c.packets.WithLabelValues("blocked").Inc()
}

func (c *Collector) PacketForwarded(n int) {
	c.packets.WithLabelValues("forwarded").Inc()
	c.bytesOut.Add(float64(n))
}

func (c *Collector) ReadFailed(error)  { c.ioErrors.WithLabelValues("read").Inc() }
func (c *Collector) WriteFailed(error) { c.ioErrors.WithLabelValues("write").Inc() }

// SessionStarted and SessionStopped track the running gauge.
func (c *Collector) SessionStarted() {
	c.sessions.Inc()
	c.running.Set(1)
}

func (c *Collector) SessionStopped() { c.running.Set(0) }
