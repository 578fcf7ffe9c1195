// Package pump runs the read → classify → forward/drop loop over a tunnel device.
package pump

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/strct-org/adblock-tunnel/internal/dnsquery"
	"github.com/strct-org/adblock-tunnel/internal/stats"
)

const (
	// BufferSize is the read buffer capacity. Packets never exceed the MTU,
	// the extra room matches what the tunnel fd may hand back.
	BufferSize = 32767

	DefaultBackoff = 100 * time.Millisecond
)

// ErrStreamClosed is returned by Run when the device reports end of stream.
var ErrStreamClosed = errors.New("pump: tunnel stream closed")

// Device is the subset of the tunnel handle the pump needs.
// The pump never closes it; the lifecycle owner does.
type Device interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Classifier judges a queried domain.
type Classifier interface {
	IsAd(domain string) bool
}

// Observer receives per-packet events. Implementations must not block.
type Observer interface {
	PacketBlocked(domain string)
	PacketForwarded(n int)
	ReadFailed(err error)
	WriteFailed(err error)
}

type nopObserver struct{}

func (nopObserver) PacketBlocked(string) {}
func (nopObserver) PacketForwarded(int)  {}
func (nopObserver) ReadFailed(error)     {}
func (nopObserver) WriteFailed(error)    {}

// Pump moves packets for one tunnel session.
type Pump struct {
	dev        Device
	classifier Classifier
	counter    *stats.Counter
	observer   Observer
	backoff    time.Duration
	log        *slog.Logger
}

type Option func(*Pump)

// WithBackoff sets the fixed delay after a transient I/O error.
func WithBackoff(d time.Duration) Option {
	return func(p *Pump) {
		if d > 0 {
			p.backoff = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Pump) {
		if o != nil {
			p.observer = o
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pump) {
		if l != nil {
			p.log = l
		}
	}
}

func New(dev Device, classifier Classifier, counter *stats.Counter, opts ...Option) *Pump {
	p := &Pump{
		dev:        dev,
		classifier: classifier,
		counter:    counter,
		observer:   nopObserver{},
		backoff:    DefaultBackoff,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes packets until ctx is cancelled (returns nil) or the device
// reports end of stream (returns ErrStreamClosed). Transient read and write
// errors are logged and retried after a fixed backoff.
func (p *Pump) Run(ctx context.Context) error {
	buf := make([]byte, BufferSize)
	p.log.Info("pump: started")
	defer p.log.Info("pump: stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := p.dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isEndOfStream(err) {
				p.log.Info("pump: end of tunnel stream", "err", err)
				return ErrStreamClosed
			}
			p.observer.ReadFailed(err)
			p.log.Warn("pump: read failed, retrying", "err", err, "delay", p.backoff)
			if !p.sleep(ctx) {
				return nil
			}
			continue
		}
		if n <= 0 {
			p.log.Info("pump: end of tunnel stream")
			return ErrStreamClosed
		}

		if err := p.handle(buf[:n]); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.observer.WriteFailed(err)
			p.log.Warn("pump: write failed, retrying", "err", err, "delay", p.backoff)
			if !p.sleep(ctx) {
				return nil
			}
		}
	}
}

// handle drops pkt if it is a query for an ad domain, otherwise writes it
// back to the device unchanged.
func (p *Pump) handle(pkt []byte) error {
	if domain, ok := dnsquery.Extract(pkt); ok {
		if p.classifier.IsAd(domain) {
			p.counter.Increment()
			p.observer.PacketBlocked(domain)
			p.log.Debug("pump: blocked query", "domain", domain, "total", p.counter.Get())
			return nil
		}
		p.log.Debug("pump: allowed query", "domain", domain)
	}

	if _, err := p.dev.Write(pkt); err != nil {
		return err
	}
	p.observer.PacketForwarded(len(pkt))
	return nil
}

// sleep waits out the backoff. It reports false if ctx ended first.
func (p *Pump) sleep(ctx context.Context) bool {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
