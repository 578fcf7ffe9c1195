package executil

import (
	"log/slog"
	"strings"
)

// DevRunner stubs the commands that would rewrite the host's own network
// configuration. Stubbed commands are logged at DEBUG and succeed; anything
// else runs for real. Selected by tunnel.NewFromConfig when cfg.IsDev.
type DevRunner struct{ real Runner }

func NewDevRunner() Runner { return &DevRunner{real: Real{}} }

var stubbed = map[string]bool{
	"ip":         true,
	"resolvectl": true,
}

func (d *DevRunner) Run(name string, args ...string) error {
	if stubbed[name] {
		slog.Debug("dev: stubbed (no-op)", "cmd", name, "args", strings.Join(args, " "))
		return nil
	}
	return d.real.Run(name, args...)
}
