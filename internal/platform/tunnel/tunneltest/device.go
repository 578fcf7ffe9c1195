// Package tunneltest provides an in-memory tunnel device for tests.
//
// Read blocks until a packet, an injected error, end of stream, or Close.
// Close unblocks a pending Read with os.ErrClosed, the same way closing a
// non-blocking TUN fd does.
package tunneltest

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

type item struct {
	pkt []byte
	err error
	eof bool
}

// Device is a fake tunnel handle. It satisfies tunnel.Handle.
type Device struct {
	name   string
	in     chan item
	closed chan struct{}
	once   sync.Once

	closeCount atomic.Int32
	reading    atomic.Int32

	mu          sync.Mutex
	written     [][]byte
	writeErrors []error
}

func NewDevice(name string) *Device {
	return &Device{
		name:   name,
		in:     make(chan item, 256),
		closed: make(chan struct{}),
	}
}

// Inject queues a packet to be returned by a later Read.
func (d *Device) Inject(pkt []byte) {
	d.in <- item{pkt: append([]byte(nil), pkt...)}
}

// InjectReadError makes the next Read fail with err.
func (d *Device) InjectReadError(err error) {
	d.in <- item{err: err}
}

// EndOfStream makes the next Read report io.EOF.
func (d *Device) EndOfStream() {
	d.in <- item{eof: true}
}

// FailNextWrite makes the next Write fail with err. Calls queue up.
func (d *Device) FailNextWrite(err error) {
	d.mu.Lock()
	d.writeErrors = append(d.writeErrors, err)
	d.mu.Unlock()
}

func (d *Device) Read(p []byte) (int, error) {
	d.reading.Add(1)
	defer d.reading.Add(-1)

	select {
	case <-d.closed:
		return 0, os.ErrClosed
	default:
	}

	select {
	case it := <-d.in:
		switch {
		case it.err != nil:
			return 0, it.err
		case it.eof:
			return 0, io.EOF
		}
		return copy(p, it.pkt), nil
	case <-d.closed:
		return 0, os.ErrClosed
	}
}

func (d *Device) Write(p []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, os.ErrClosed
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.writeErrors) > 0 {
		err := d.writeErrors[0]
		d.writeErrors = d.writeErrors[1:]
		return 0, err
	}
	d.written = append(d.written, append([]byte(nil), p...))
	return len(p), nil
}

// Close counts every call but only the first one closes the device.
func (d *Device) Close() error {
	d.closeCount.Add(1)
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *Device) Name() string { return d.name }

// Written returns copies of every packet written so far, in order.
func (d *Device) Written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.written))
	copy(out, d.written)
	return out
}

func (d *Device) CloseCount() int { return int(d.closeCount.Load()) }

// Reading reports whether a Read call is currently blocked.
func (d *Device) Reading() bool { return d.reading.Load() > 0 }

// Pending reports how many queued items have not been read yet.
func (d *Device) Pending() int { return len(d.in) }

// ErrTransient is a convenience error for injected I/O failures.
var ErrTransient = errors.New("tunneltest: transient i/o error")
