// Package config provides JSON configuration loading and saving for micap.
//
// The configuration file lives at `$MICAP_CONFIG_DIR/config.json`, or the
// platform config directory joined with "micap" when the env var is unset.
// It is pretty-printed UTF-8 JSON matching the GlobalConfig schema:
//
//	{
//	  "trackers": {"aa:bb:cc:dd:ee:ff/0": {"name": "chest", "location": "chest"}},
//	  "vmc": {"enabled": true, "send_port": 39539, "receive_port": 39540},
//	  "vrchat": {"enabled": false, "send_port": 9000, "bones_to_send": ["hip"]},
//	  "skeleton": {"offsets": {...}, "user_height": 1.7},
//	  "interface": {}
//	}
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.VMC.SendPort = 40000
//	err = config.Save(cfg)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Calbabreaker/micap/pkg/registry"
	"github.com/Calbabreaker/micap/pkg/skeleton"
)

// TrackerConfig is a user's persisted choice for one tracker id.
type TrackerConfig struct {
	// Name is an optional display name (default: "").
	Name string `json:"name,omitempty"`
	// Location is an optional bone assignment (default: unassigned).
	Location registry.BoneLocation `json:"location,omitempty"`
}

// VMCConfig holds VMC OSC publisher settings.
type VMCConfig struct {
	// Enabled enables VMC output (default: true).
	Enabled bool `json:"enabled"`
	// SendPort is the destination UDP port (default: 39539).
	SendPort int `json:"send_port"`
	// ReceivePort is reserved for VMC's own calibration handshake (default: 39540).
	ReceivePort int `json:"receive_port"`
}

// VRChatConfig holds VRChat OSC tracker publisher settings.
type VRChatConfig struct {
	// Enabled enables VRChat output (default: false).
	Enabled bool `json:"enabled"`
	// SendPort is the destination UDP port (default: 9000).
	SendPort int `json:"send_port"`
	// BonesToSend is the ordered list of bone locations published as
	// numbered VRChat trackers (default: empty).
	BonesToSend []registry.BoneLocation `json:"bones_to_send"`
}

// InterfaceConfig holds UI-facing preferences with no effect on the pipeline
// itself; the GUI shell this ships alongside owns its meaning.
type InterfaceConfig struct {
	Theme string `json:"theme,omitempty"`
}

// GlobalConfig is the complete persisted and wire-exchanged configuration
// schema (§3 Glossary: "Global config").
type GlobalConfig struct {
	Trackers map[string]TrackerConfig `json:"trackers"`
	VMC      VMCConfig                `json:"vmc"`
	VRChat   VRChatConfig             `json:"vrchat"`
	Skeleton skeleton.Config          `json:"skeleton"`
	Interface InterfaceConfig         `json:"interface"`
}

// Default returns the default configuration.
func Default() *GlobalConfig {
	return &GlobalConfig{
		Trackers: make(map[string]TrackerConfig),
		VMC: VMCConfig{
			Enabled:     true,
			SendPort:    39539,
			ReceivePort: 39540,
		},
		VRChat: VRChatConfig{
			Enabled:     false,
			SendPort:    9000,
			BonesToSend: nil,
		},
		Skeleton: skeleton.DefaultConfig(),
	}
}

// Validate checks the configuration for invalid values.
func (c *GlobalConfig) Validate() error {
	if c.VMC.SendPort <= 0 || c.VMC.SendPort > 65535 {
		return fmt.Errorf("vmc send port must be between 1 and 65535, got %d", c.VMC.SendPort)
	}
	if c.VRChat.SendPort <= 0 || c.VRChat.SendPort > 65535 {
		return fmt.Errorf("vrchat send port must be between 1 and 65535, got %d", c.VRChat.SendPort)
	}
	if c.Skeleton.UserHeight <= 0 {
		return fmt.Errorf("skeleton user_height must be positive, got %f", c.Skeleton.UserHeight)
	}
	return nil
}

// Dir resolves the configuration directory: MICAP_CONFIG_DIR if set,
// otherwise the platform config dir joined with "micap".
func Dir() (string, error) {
	if dir := os.Getenv("MICAP_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving platform config dir: %w", err)
	}
	return filepath.Join(base, "micap"), nil
}

func filePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads and parses the config file. If it does not exist, it returns
// the default configuration without error (it is created on first Save).
func Load() (*GlobalConfig, error) {
	path, err := filePath()
	if err != nil {
		return nil, err
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Save pretty-prints cfg to the config file, creating the directory on first
// use. Per §4.F this is only called after an applied config change, never
// every tick.
func Save(cfg *GlobalConfig) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// PrintLoopRateTicks parses PRINT_LOOP_RATE: a positive tick-count interval
// at which the main loop logs its rolling average tick duration, or 0 when
// unset/invalid/non-positive (the feature is disabled).
func PrintLoopRateTicks() int {
	raw := os.Getenv("PRINT_LOOP_RATE")
	if raw == "" {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
		return 0
	}
	return n
}
