//go:build !linux

package tunnel

import "github.com/strct-org/adblock-tunnel/internal/config"

func openDevice(config.TunnelConfig) (Handle, error) {
	return nil, ErrUnsupported
}
