package stats

import (
	"sync"
	"testing"
)

func TestCounter_ConcurrentIncrements(t *testing.T) {
	var c Counter
	const workers, perWorker = 8, 1000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.Increment()
				_ = c.Get()
			}
		}()
	}
	wg.Wait()

	if got := c.Get(); got != workers*perWorker {
		t.Errorf("Get() = %d, want %d", got, workers*perWorker)
	}
}

func TestCounter_ZeroValue(t *testing.T) {
	var c Counter
	if c.Get() != 0 {
		t.Errorf("zero Counter should read 0, got %d", c.Get())
	}
}
