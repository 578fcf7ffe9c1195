//go:build linux

package tunnel

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/songgao/water"

	"github.com/strct-org/adblock-tunnel/internal/config"
)

// openDevice creates the TUN interface. water opens /dev/net/tun in
// non-blocking mode, so Close unblocks a Read in progress.
func openDevice(cfg config.TunnelConfig) (Handle, error) {
	ifce, err := water.New(water.Config{
		DeviceType: water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: cfg.Name,
		},
	})
	if err != nil {
		if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) || errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrEstablish, err)
	}
	return ifce, nil
}
