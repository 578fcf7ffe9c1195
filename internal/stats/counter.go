// Package stats holds the blocked-packet counter read by the status surface.
package stats

import "sync/atomic"

// Counter is a monotonically increasing count of blocked packets.
// It is safe for concurrent use. The zero value is ready to use.
type Counter struct {
	n atomic.Uint64
}

func (c *Counter) Increment() { c.n.Add(1) }

func (c *Counter) Get() uint64 { return c.n.Load() }
