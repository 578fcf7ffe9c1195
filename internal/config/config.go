// ? config loading: env first, then the optional YAML file
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"

	"github.com/strct-org/adblock-tunnel/internal/blocklist"
)

const (
	DefaultConfigFile = "configs/adblock.yaml"
	DefaultMTU        = 1500
)

// TunnelConfig describes the device requested from the platform.
type TunnelConfig struct {
	Name      string `yaml:"name"`
	Address   string `yaml:"address"`
	PrefixLen int    `yaml:"prefix_len"`
	DNSServer string `yaml:"dns_server"`
	Route     string `yaml:"route"`
	MTU       int    `yaml:"mtu"`
	IPv4      bool   `yaml:"ipv4"`
	IPv6      bool   `yaml:"ipv6"`
}

// DefaultTunnel returns the fixed session parameters: 10.0.0.2/32, DNS
// 8.8.8.8, default route, MTU 1500, both address families.
func DefaultTunnel() TunnelConfig {
	return TunnelConfig{
		Name:      "adblock0",
		Address:   "10.0.0.2",
		PrefixLen: 32,
		DNSServer: "8.8.8.8",
		Route:     "0.0.0.0/0",
		MTU:       DefaultMTU,
		IPv4:      true,
		IPv6:      true,
	}
}

type Config struct {
	ConfigFile       string
	LogLevel         string
	APIPort          int
	PprofPort        int
	VerdictCacheSize int64
	RetryBackoff     time.Duration
	MonitorInterval  time.Duration
	AutoStart        bool
	IsDev            bool
	Tunnel           TunnelConfig
	Blocklist        []string
}

// fileConfig is the on-disk shape. Zero values leave env/defaults in place.
type fileConfig struct {
	Tunnel    *fileTunnel `yaml:"tunnel"`
	Blocklist []string    `yaml:"blocklist"`
}

// fileTunnel mirrors TunnelConfig. The family flags are pointers so an
// explicit false can be told apart from an omitted key.
type fileTunnel struct {
	Name      string `yaml:"name"`
	Address   string `yaml:"address"`
	PrefixLen int    `yaml:"prefix_len"`
	DNSServer string `yaml:"dns_server"`
	Route     string `yaml:"route"`
	MTU       int    `yaml:"mtu"`
	IPv4      *bool  `yaml:"ipv4"`
	IPv6      *bool  `yaml:"ipv6"`
}

// Load reads environment variables and the YAML file named by CONFIG_FILE.
// devMode is passed in from main so that flag parsing stays in main.
func Load(devMode bool) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config: no .env file found, relying on system env vars")
	}

	cfg := &Config{
		IsDev:            devMode,
		ConfigFile:       getEnv("CONFIG_FILE", DefaultConfigFile),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		APIPort:          getEnvAsInt("API_PORT", 8080),
		PprofPort:        getEnvAsInt("PPROF_PORT", 6060),
		VerdictCacheSize: int64(getEnvAsInt("VERDICT_CACHE_SIZE", 10_000)),
		RetryBackoff:     getEnvAsDuration("RETRY_BACKOFF", 100*time.Millisecond),
		MonitorInterval:  getEnvAsDuration("MONITOR_INTERVAL", 30*time.Second),
		AutoStart:        getEnvAsBool("AUTO_START", true),
		Tunnel:           DefaultTunnel(),
	}
	cfg.Tunnel.Name = getEnv("TUN_NAME", cfg.Tunnel.Name)

	if err := cfg.loadFile(cfg.ConfigFile); err != nil {
		return nil, err
	}
	if len(cfg.Blocklist) == 0 {
		cfg.Blocklist = append([]string(nil), blocklist.DefaultPatterns...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	warnOddPatterns(cfg.Blocklist)
	return cfg, nil
}

// loadFile merges the YAML file at path into c. A missing file is not an error.
func (c *Config) loadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("config: no config file, using defaults", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if fc.Tunnel != nil {
		c.Tunnel = mergeTunnel(c.Tunnel, *fc.Tunnel)
	}
	if len(fc.Blocklist) > 0 {
		c.Blocklist = fc.Blocklist
	}
	slog.Info("config: loaded file", "path", path, "patterns", len(fc.Blocklist))
	return nil
}

// mergeTunnel overlays the fields the file sets onto base: non-zero values,
// and family flags whenever the key is present.
func mergeTunnel(base TunnelConfig, over fileTunnel) TunnelConfig {
	if over.Name != "" {
		base.Name = over.Name
	}
	if over.Address != "" {
		base.Address = over.Address
	}
	if over.PrefixLen != 0 {
		base.PrefixLen = over.PrefixLen
	}
	if over.DNSServer != "" {
		base.DNSServer = over.DNSServer
	}
	if over.Route != "" {
		base.Route = over.Route
	}
	if over.MTU != 0 {
		base.MTU = over.MTU
	}
	if over.IPv4 != nil {
		base.IPv4 = *over.IPv4
	}
	if over.IPv6 != nil {
		base.IPv6 = *over.IPv6
	}
	return base
}

// Validate checks the values the tunnel and API cannot run without.
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("config: invalid api port: %d", c.APIPort)
	}
	if c.PprofPort < 0 || c.PprofPort > 65535 {
		return fmt.Errorf("config: invalid pprof port: %d", c.PprofPort)
	}
	t := c.Tunnel
	if t.Name == "" {
		return fmt.Errorf("config: tunnel name must be set")
	}
	addr, err := netip.ParseAddr(t.Address)
	if err != nil {
		return fmt.Errorf("config: invalid tunnel address %q: %w", t.Address, err)
	}
	if t.PrefixLen < 0 || t.PrefixLen > addr.BitLen() {
		return fmt.Errorf("config: invalid prefix length %d for %s", t.PrefixLen, t.Address)
	}
	if t.DNSServer != "" {
		if _, err := netip.ParseAddr(t.DNSServer); err != nil {
			return fmt.Errorf("config: invalid dns server %q: %w", t.DNSServer, err)
		}
	}
	if t.Route != "" {
		if _, err := netip.ParsePrefix(t.Route); err != nil {
			return fmt.Errorf("config: invalid route %q: %w", t.Route, err)
		}
	}
	if t.MTU < 576 || t.MTU > 65535 {
		return fmt.Errorf("config: invalid mtu: %d", t.MTU)
	}
	if !t.IPv4 && !t.IPv6 {
		return fmt.Errorf("config: at least one address family must be enabled")
	}
	return nil
}

// warnOddPatterns logs patterns that are not valid DNS names. They are kept,
// since a fragment like "adserv" is still a usable substring.
func warnOddPatterns(patterns []string) {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := dns.IsDomainName(p); !ok {
			slog.Warn("config: blocklist pattern is not a valid domain name", "pattern", p)
		}
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("config: invalid integer env var, using default",
			"key", key,
			"value", raw,
			"default", fallback,
		)
		return fallback
	}
	return v
}

func getEnvAsBool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("config: invalid boolean env var, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		slog.Warn("config: invalid duration env var, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}
