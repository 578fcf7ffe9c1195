package monitor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strct-org/adblock-tunnel/internal/features/monitor"
)

func TestCheck_RecordsResult(t *testing.T) {
	tests := []struct {
		name   string
		res    monitor.Result
		err    error
		wantUp float64
	}{
		{"healthy", monitor.Result{AvgRtt: 20 * time.Millisecond}, nil, 1},
		{"slow", monitor.Result{AvgRtt: 300 * time.Millisecond}, nil, 1},
		{"down", monitor.Result{PacketLoss: 100, IsDown: true}, nil, 0},
		{"error", monitor.Result{}, errors.New("socket: operation not permitted"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := monitor.NewWithPinger(time.Second, "8.8.8.8", func(ctx context.Context, target string) (monitor.Result, error) {
				assert.Equal(t, "8.8.8.8", target)
				return tt.res, tt.err
			})
			reg := prometheus.NewPedanticRegistry()
			require.NoError(t, m.Register(reg))

			_, err := m.Check(context.Background())
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}

			families, err := reg.Gather()
			require.NoError(t, err)
			for _, f := range families {
				if f.GetName() == "adblock_upstream_up" {
					assert.Equal(t, tt.wantUp, f.GetMetric()[0].GetGauge().GetValue())
				}
			}
		})
	}
}

func TestStart_ProbesUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	m := monitor.NewWithPinger(5*time.Millisecond, "1.1.1.1", func(ctx context.Context, target string) (monitor.Result, error) {
		calls.Add(1)
		return monitor.Result{AvgRtt: time.Millisecond}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestStart_SkipsProbeWhilePaused(t *testing.T) {
	var calls atomic.Int32
	var paused atomic.Bool
	paused.Store(true)
	m := monitor.NewWithPinger(5*time.Millisecond, "8.8.8.8", func(ctx context.Context, target string) (monitor.Result, error) {
		calls.Add(1)
		return monitor.Result{AvgRtt: time.Millisecond}, nil
	})
	m.Paused = paused.Load

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load(), "no probe may run while paused")

	paused.Store(false)
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestStart_ZeroIntervalDisables(t *testing.T) {
	m := monitor.NewWithPinger(0, "1.1.1.1", func(ctx context.Context, target string) (monitor.Result, error) {
		t.Fatal("pinger must not run")
		return monitor.Result{}, nil
	})
	require.NoError(t, m.Start(context.Background()))
}

func TestRegister_Twice(t *testing.T) {
	m := monitor.New(time.Second, "8.8.8.8")
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))

	n, err := testutil.GatherAndCount(reg, "adblock_upstream_rtt_seconds", "adblock_upstream_up")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
