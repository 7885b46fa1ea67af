// Package config loads the joiner daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meshcop-protocol/joiner-go/pkg/joiner"
	"github.com/meshcop-protocol/joiner-go/pkg/meshcop"
)

// Config is the joiner daemon configuration.
type Config struct {
	// PSKd is the pre-shared joining credential.
	PSKd string `yaml:"pskd"`

	// ProvisioningURL is the optional vendor provisioning URL carried in
	// the finalize request.
	ProvisioningURL string `yaml:"provisioning_url,omitempty"`

	// PanID restricts discovery to one PAN. The 0xffff default scans all.
	PanID uint16 `yaml:"pan_id"`

	// RotationDelay is the wait between a successful entrust and the
	// hardware identity rotation.
	RotationDelay time.Duration `yaml:"rotation_delay"`

	// DiscoveryWindow bounds one discovery scan.
	DiscoveryWindow time.Duration `yaml:"discovery_window"`

	// Interface restricts discovery to one network interface. Empty
	// means all interfaces.
	Interface string `yaml:"interface,omitempty"`

	// ListenAddr is the UDP address the plain messaging endpoint binds,
	// where the entrust push arrives.
	ListenAddr string `yaml:"listen_addr"`

	// LogFile receives the CBOR event stream. Empty disables it.
	LogFile string `yaml:"log_file,omitempty"`
}

// Default returns the configuration the daemon starts from before the
// file is applied.
func Default() Config {
	return Config{
		PanID:           joiner.PanIDBroadcast,
		RotationDelay:   joiner.DefaultRotationDelay,
		DiscoveryWindow: 5 * time.Second,
		ListenAddr:      ":0",
	}
}

// Parse parses a configuration from YAML bytes on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration against the protocol bounds.
func (c *Config) Validate() error {
	if err := meshcop.ValidatePSKd(c.PSKd); err != nil {
		return err
	}
	if err := meshcop.ValidateProvisioningURL(c.ProvisioningURL); err != nil {
		return err
	}
	if c.RotationDelay < 0 {
		return fmt.Errorf("rotation_delay must not be negative")
	}
	if c.DiscoveryWindow <= 0 {
		return fmt.Errorf("discovery_window must be positive")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	return nil
}
