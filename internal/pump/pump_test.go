package pump_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strct-org/adblock-tunnel/internal/blocklist"
	"github.com/strct-org/adblock-tunnel/internal/platform/tunnel/tunneltest"
	"github.com/strct-org/adblock-tunnel/internal/pump"
	"github.com/strct-org/adblock-tunnel/internal/stats"
)

func query(t *testing.T, name string) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	b, err := m.Pack()
	require.NoError(t, err)
	return b
}

type classifierFunc func(string) bool

func (f classifierFunc) IsAd(d string) bool { return f(d) }

func defaultClassifier() pump.Classifier {
	store := blocklist.NewStore(blocklist.DefaultPatterns)
	return classifierFunc(func(d string) bool { return blocklist.IsAd(d, store) })
}

type recorder struct {
	mu         sync.Mutex
	blocked    []string
	forwarded  int
	readFails  int
	writeFails int
}

func (r *recorder) PacketBlocked(d string) {
	r.mu.Lock()
	r.blocked = append(r.blocked, d)
	r.mu.Unlock()
}
func (r *recorder) PacketForwarded(int) { r.mu.Lock(); r.forwarded++; r.mu.Unlock() }
func (r *recorder) ReadFailed(error)    { r.mu.Lock(); r.readFails++; r.mu.Unlock() }
func (r *recorder) WriteFailed(error)   { r.mu.Lock(); r.writeFails++; r.mu.Unlock() }

func (r *recorder) reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readFails
}

func runAsync(ctx context.Context, p *pump.Pump) <-chan error {
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not exit in time")
		return nil
	}
}

func TestRun_DropsAdsForwardsEverythingElse(t *testing.T) {
	dev := tunneltest.NewDevice("tun-test")
	var counter stats.Counter
	rec := &recorder{}
	p := pump.New(dev, defaultClassifier(), &counter, pump.WithObserver(rec))

	ad := query(t, "www.google-analytics.com")
	allowed := query(t, "example.com")
	notDNS := []byte{0x45, 0x00, 0x00, 0x54, 0xde, 0xad, 0x40, 0x00, 0x40, 0x01, 0x00, 0x00, 0x0a}

	dev.Inject(ad)
	dev.Inject(allowed)
	dev.Inject(notDNS)
	dev.Inject(ad)
	dev.EndOfStream()

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, pump.ErrStreamClosed)

	assert.Equal(t, uint64(2), counter.Get())
	assert.Equal(t, [][]byte{allowed, notDNS}, dev.Written())
	assert.Equal(t, []string{"www.google-analytics.com", "www.google-analytics.com"}, rec.blocked)
	assert.Equal(t, 2, rec.forwarded)
	assert.Equal(t, 0, dev.CloseCount(), "pump must not close the device it does not own")
}

func TestRun_ForwardedPacketsLeaveCounterUntouched(t *testing.T) {
	dev := tunneltest.NewDevice("tun-test")
	var counter stats.Counter
	p := pump.New(dev, defaultClassifier(), &counter)

	for i := 0; i < 5; i++ {
		dev.Inject(query(t, "golang.org"))
	}
	dev.EndOfStream()

	require.ErrorIs(t, p.Run(context.Background()), pump.ErrStreamClosed)
	assert.Zero(t, counter.Get())
	assert.Len(t, dev.Written(), 5)
}

func TestRun_CancelUnblocksPendingRead(t *testing.T) {
	dev := tunneltest.NewDevice("tun-test")
	var counter stats.Counter
	p := pump.New(dev, defaultClassifier(), &counter)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, p)

	require.Eventually(t, dev.Reading, time.Second, time.Millisecond)
	cancel()
	dev.Close()

	assert.NoError(t, wait(t, done))
}

func TestRun_TransientReadErrorIsRetried(t *testing.T) {
	dev := tunneltest.NewDevice("tun-test")
	var counter stats.Counter
	rec := &recorder{}
	p := pump.New(dev, defaultClassifier(), &counter,
		pump.WithObserver(rec),
		pump.WithBackoff(time.Millisecond),
	)

	pkt := query(t, "example.com")
	dev.InjectReadError(tunneltest.ErrTransient)
	dev.Inject(pkt)
	dev.EndOfStream()

	assert.ErrorIs(t, p.Run(context.Background()), pump.ErrStreamClosed)
	assert.Equal(t, 1, rec.readFails)
	assert.Equal(t, [][]byte{pkt}, dev.Written())
}

func TestRun_TransientWriteErrorDropsThatPacketOnly(t *testing.T) {
	dev := tunneltest.NewDevice("tun-test")
	var counter stats.Counter
	rec := &recorder{}
	p := pump.New(dev, defaultClassifier(), &counter,
		pump.WithObserver(rec),
		pump.WithBackoff(time.Millisecond),
	)

	first := query(t, "example.com")
	second := query(t, "example.org")
	dev.FailNextWrite(tunneltest.ErrTransient)
	dev.Inject(first)
	dev.Inject(second)
	dev.EndOfStream()

	assert.ErrorIs(t, p.Run(context.Background()), pump.ErrStreamClosed)
	assert.Equal(t, 1, rec.writeFails)
	assert.Equal(t, [][]byte{second}, dev.Written())
	assert.Zero(t, counter.Get())
}

func TestRun_CancelDuringBackoff(t *testing.T) {
	dev := tunneltest.NewDevice("tun-test")
	var counter stats.Counter
	rec := &recorder{}
	p := pump.New(dev, defaultClassifier(), &counter,
		pump.WithObserver(rec),
		pump.WithBackoff(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	dev.InjectReadError(tunneltest.ErrTransient)
	done := runAsync(ctx, p)

	require.Eventually(t, func() bool { return rec.reads() == 1 }, time.Second, time.Millisecond)
	cancel()

	assert.NoError(t, wait(t, done))
}

type zeroReader struct{}

func (zeroReader) Read([]byte) (int, error)    { return 0, nil }
func (zeroReader) Write(p []byte) (int, error) { return len(p), nil }

func TestRun_ZeroLengthReadEndsStream(t *testing.T) {
	var counter stats.Counter
	p := pump.New(zeroReader{}, defaultClassifier(), &counter)

	assert.ErrorIs(t, p.Run(context.Background()), pump.ErrStreamClosed)
}

func TestRun_AlreadyCancelledContextReturnsImmediately(t *testing.T) {
	dev := tunneltest.NewDevice("tun-test")
	var counter stats.Counter
	p := pump.New(dev, defaultClassifier(), &counter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev.Inject(query(t, "example.com"))

	assert.NoError(t, p.Run(ctx))
	assert.Empty(t, dev.Written())
	assert.Equal(t, 1, dev.Pending())
}
