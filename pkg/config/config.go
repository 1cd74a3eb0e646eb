// Copyright 2025 Certen Protocol
//
// Connector Configuration Loader
//
// Loads a chain connector's configuration from a YAML file, with
// environment variable substitution, per SPEC_FULL.md §6. Grounded on
// the teacher's pkg/config/anchor_config.go: YAML unmarshaling via
// gopkg.in/yaml.v3, a ${VAR_NAME} / ${VAR_NAME:-default} substitution
// pass before parsing, a custom Duration type, and an applyDefaults/
// Validate pair run after load.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for one chain connector instance.
type Config struct {
	Environment string `yaml:"environment"`

	Chain      ChainSettings      `yaml:"chain"`
	Relayer    RelayerSettings    `yaml:"relayer"`
	Store      StoreSettings      `yaml:"store"`
	CCU        CCUSettings        `yaml:"ccu"`
	Monitoring MonitoringSettings `yaml:"monitoring"`
}

// ChainSettings identifies the sending/receiving chain pair this
// connector bridges (spec §2, §6).
type ChainSettings struct {
	SendingChainID   uint32 `yaml:"sending_chain_id"`
	ReceivingChainID uint32 `yaml:"receiving_chain_id"`
	OwnChainID       uint32 `yaml:"own_chain_id"`
	SendingRPCURL    string `yaml:"sending_rpc_url"`
	ReceivingRPCURL  string `yaml:"receiving_rpc_url"`
}

// RelayerSettings locates and unlocks the relayer's signing key
// (spec §6, pkg/keymaterial).
type RelayerSettings struct {
	KeyPath       string `yaml:"key_path"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

// StoreSettings configures the typed KV store's backing path.
type StoreSettings struct {
	Path string `yaml:"path"`
}

// CCUSettings tunes the orchestrator's submission cadence (spec §4.6,
// §6: ccuFrequency, maxCCUSize, saveCCM).
type CCUSettings struct {
	Frequency          uint32   `yaml:"frequency"`
	MaxSize            int      `yaml:"max_size"`
	Fee                uint64   `yaml:"fee"`
	SaveCCM            bool     `yaml:"save_ccm"`
	ForwardBouncedCCMs bool     `yaml:"forward_bounced_ccms"`
	SubmitTimeout      Duration `yaml:"submit_timeout"`
}

// MonitoringSettings contains the ambient logging/metrics stack.
type MonitoringSettings struct {
	Metrics MetricsSettings `yaml:"metrics"`
	Logging LoggingSettings `yaml:"logging"`
}

// MetricsSettings configures the Prometheus exposition endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingSettings holds a logging level and format. The connector's
// loggers are standard library log.Loggers and do not read them.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration for YAML unmarshaling. Carried over
// near-verbatim from the teacher's AnchorConfig: this is generic YAML
// plumbing with no domain-specific behavior to adapt.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}. Same
// pattern and substitution pass as the teacher's AnchorConfig loader;
// carried over unchanged rather than rewritten, since the substitution
// rule itself (not just its shape) is identical.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads and parses a connector configuration file, substituting
// ${VAR} references from the environment before unmarshaling.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CCU.Frequency == 0 {
		c.CCU.Frequency = 10
	}
	if c.CCU.MaxSize == 0 {
		c.CCU.MaxSize = 1 << 17 // 128 KiB, per spec §6's default maxCCUSize
	}
	if c.CCU.SubmitTimeout == 0 {
		c.CCU.SubmitTimeout = Duration(30 * time.Second)
	}
	if c.Monitoring.Metrics.Port == 0 {
		c.Monitoring.Metrics.Port = 9090
	}
	if c.Monitoring.Metrics.Path == "" {
		c.Monitoring.Metrics.Path = "/metrics"
	}
	if c.Monitoring.Logging.Level == "" {
		c.Monitoring.Logging.Level = "info"
	}
	if c.Monitoring.Logging.Format == "" {
		c.Monitoring.Logging.Format = "json"
	}
}

// Validate reports every missing required field at once.
func (c *Config) Validate() error {
	var missing []string
	if c.Chain.SendingChainID == 0 {
		missing = append(missing, "chain.sending_chain_id")
	}
	if c.Chain.ReceivingChainID == 0 {
		missing = append(missing, "chain.receiving_chain_id")
	}
	if c.Chain.SendingRPCURL == "" {
		missing = append(missing, "chain.sending_rpc_url")
	}
	if c.Chain.ReceivingRPCURL == "" {
		missing = append(missing, "chain.receiving_rpc_url")
	}
	if c.Relayer.KeyPath == "" {
		missing = append(missing, "relayer.key_path")
	}
	if c.Store.Path == "" {
		missing = append(missing, "store.path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %v", missing)
	}
	return nil
}
