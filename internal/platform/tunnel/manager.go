// Package tunnel acquires and releases the TUN device the pump runs over.
//
// The device itself is opened with songgao/water; address, MTU, routes and
// the resolver are configured by shelling out to iproute2 and resolvectl
// through an injected runner so tests never touch the host network.
package tunnel

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"

	"github.com/strct-org/adblock-tunnel/internal/config"
	"github.com/strct-org/adblock-tunnel/internal/platform/executil"
)

var (
	// ErrPermissionDenied means the host refused to create the device.
	ErrPermissionDenied = errors.New("tunnel: permission denied")
	// ErrEstablish means the device could not be brought into a usable state.
	ErrEstablish = errors.New("tunnel: could not establish device")
	// ErrUnsupported is returned on platforms without a TUN implementation.
	ErrUnsupported = errors.New("tunnel: not supported on this platform")
)

// Handle is an established tunnel device.
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Name() string
}

// processRunner is the subset of executil.Runner that tunnel needs.
type processRunner interface {
	Run(name string, args ...string) error
}

// Opener creates the raw device. The production opener is openDevice.
type Opener func(cfg config.TunnelConfig) (Handle, error)

// Service implements the platform side of a tunnel session.
type Service struct {
	runner processRunner
	open   Opener
}

// New is the base constructor. Use NewFromConfig in application code.
func New(runner processRunner, open Opener) *Service {
	return &Service{runner: runner, open: open}
}

// NewFromConfig picks the dev runner (stubs iproute2) in dev mode and the
// real one otherwise.
func NewFromConfig(cfg *config.Config) *Service {
	var runner processRunner = executil.Real{}
	if cfg.IsDev {
		runner = executil.NewDevRunner()
	}
	return New(runner, openDevice)
}

// AcquireTunnel opens and configures a TUN device. On any configuration
// failure the device is closed again before returning.
func (s *Service) AcquireTunnel(cfg config.TunnelConfig) (Handle, error) {
	h, err := s.open(cfg)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: opener returned no device", ErrEstablish)
	}

	if err := s.configure(h.Name(), cfg); err != nil {
		if cerr := h.Close(); cerr != nil {
			slog.Warn("tunnel: close after failed configure", "dev", h.Name(), "err", cerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrEstablish, err)
	}

	slog.Info("tunnel: device established",
		"dev", h.Name(),
		"address", fmt.Sprintf("%s/%d", cfg.Address, cfg.PrefixLen),
		"dns", cfg.DNSServer,
		"route", cfg.Route,
		"mtu", cfg.MTU,
	)
	return h, nil
}

func (s *Service) configure(dev string, cfg config.TunnelConfig) error {
	addr := fmt.Sprintf("%s/%d", cfg.Address, cfg.PrefixLen)
	if err := s.runner.Run("ip", "addr", "add", addr, "dev", dev); err != nil {
		return fmt.Errorf("assign address %s: %w", addr, err)
	}
	if err := s.runner.Run("ip", "link", "set", "dev", dev, "mtu", strconv.Itoa(cfg.MTU), "up"); err != nil {
		return fmt.Errorf("bring up %s: %w", dev, err)
	}

	routes, err := routesFor(cfg)
	if err != nil {
		return err
	}
	for _, r := range routes {
		args := []string{"route", "add", r.String(), "dev", dev}
		if r.Addr().Is6() {
			args = append([]string{"-6"}, args...)
		}
		if err := s.runner.Run("ip", args...); err != nil {
			return fmt.Errorf("add route %s: %w", r, err)
		}
	}

	// Non-fatal: hosts without systemd-resolved keep their own resolver.
	if cfg.DNSServer != "" {
		if err := s.runner.Run("resolvectl", "dns", dev, cfg.DNSServer); err != nil {
			slog.Warn("tunnel: could not set tunnel resolver", "dev", dev, "dns", cfg.DNSServer, "err", err)
		}
	}
	return nil
}

// routesFor expands the configured route into the prefixes to install.
// A default route is installed as two /1 halves so it takes precedence over
// the host default without replacing it.
func routesFor(cfg config.TunnelConfig) ([]netip.Prefix, error) {
	var out []netip.Prefix
	if cfg.IPv4 && cfg.Route != "" {
		p, err := netip.ParsePrefix(cfg.Route)
		if err != nil {
			return nil, fmt.Errorf("parse route %q: %w", cfg.Route, err)
		}
		out = append(out, splitDefault(p)...)
	}
	if cfg.IPv6 {
		out = append(out, splitDefault(netip.MustParsePrefix("::/0"))...)
	}
	return out, nil
}

func splitDefault(p netip.Prefix) []netip.Prefix {
	if p.Bits() != 0 {
		return []netip.Prefix{p.Masked()}
	}
	if p.Addr().Is4() {
		return []netip.Prefix{
			netip.MustParsePrefix("0.0.0.0/1"),
			netip.MustParsePrefix("128.0.0.0/1"),
		}
	}
	return []netip.Prefix{
		netip.MustParsePrefix("::/1"),
		netip.MustParsePrefix("8000::/1"),
	}
}

// ReleaseTunnel undoes host-side configuration for a closed handle.
// The kernel drops the interface and its routes when the fd closes; this
// only cleans up what outlives it.
func (s *Service) ReleaseTunnel(h Handle) error {
	if h == nil {
		return nil
	}
	dev := h.Name()
	if err := s.runner.Run("resolvectl", "revert", dev); err != nil {
		slog.Debug("tunnel: resolver revert failed", "dev", dev, "err", err)
	}
	slog.Info("tunnel: device released", "dev", dev)
	return nil
}

// Notify publishes the session status. It is advisory only.
func (s *Service) Notify(running bool, blocked uint64) {
	slog.Info("tunnel: status", "running", running, "blocked", blocked)
}
