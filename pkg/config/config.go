// Package config loads the validator node's configuration: a YAML file
// (§A.3) read with gopkg.in/yaml.v3, overlaid with an optional .env file
// via github.com/joho/godotenv and then individual environment variables,
// the same load order cmd/synnergy/main.go used to follow (.env before flag
// parsing) before that command was retired.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"validator-node/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Default tuning values, §A.3 / §6.2.
const (
	DefaultListenPort      = 21841
	DefaultTickDurationMS  = 4000
	DefaultQueueDepth      = 1024
	DefaultResponseDepth   = 1024
	DefaultMaxConcurrency  = 8
	DefaultStatusAddr      = ":8090"
	DefaultMetricsAddr     = ":9090"
	DefaultPendingCapacity = 1 << 16
)

// NodeConfig is the validator node's full runtime configuration (§A.3).
type NodeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	ListenPort int    `yaml:"listen_port"`

	PeerSeeds    []string `yaml:"peer_seeds"`
	DiscoveryTag string   `yaml:"discovery_tag"`

	// OperatorPublicKey authorises TypeSpecialCommand frames (§4.H); hex
	// encoded, 32 bytes.
	OperatorPublicKey string `yaml:"operator_public_key"`

	DataDir string `yaml:"data_dir"`

	// InitialCommitteeFile names a text file with one hex-encoded 32-byte
	// public key per line: the arbitrator (first line) followed by the 676
	// computors, in index order (§4.J genesis committee).
	InitialCommitteeFile string `yaml:"initial_committee_file"`

	// PrivateKeyHex is this computor's own signing key, hex encoded. A node
	// started without one can still validate and relay gossip but never
	// casts its own vote.
	PrivateKeyHex string `yaml:"private_key_hex"`

	// ComputorIndex is this node's index into the committee (§3.1), used to
	// cast its own tick votes under the right slot.
	ComputorIndex uint16 `yaml:"computor_index"`

	// TickDurationMS overrides TargetTickDurationMS for test harnesses
	// that need a faster or slower cadence than the live network's 4s.
	TickDurationMS int `yaml:"tick_duration_ms"`

	QueueDepth     int   `yaml:"queue_depth"`
	ResponseDepth  int   `yaml:"response_depth"`
	MaxConcurrency int64 `yaml:"max_concurrency"`

	StatusAddr  string `yaml:"status_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	SnapshotIntervalTicks uint32 `yaml:"snapshot_interval_ticks"`
}

// applyDefaults fills the zero-valued fields Load leaves untouched.
func (c *NodeConfig) applyDefaults() {
	if c.ListenPort == 0 {
		c.ListenPort = DefaultListenPort
	}
	if c.DiscoveryTag == "" {
		c.DiscoveryTag = "validator-node"
	}
	if c.TickDurationMS == 0 {
		c.TickDurationMS = DefaultTickDurationMS
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.ResponseDepth == 0 {
		c.ResponseDepth = DefaultResponseDepth
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.StatusAddr == "" {
		c.StatusAddr = DefaultStatusAddr
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// applyEnvOverlay overrides fields already set by the YAML file with any
// matching environment variable, the "environment overlay" §A.3 describes.
func (c *NodeConfig) applyEnvOverlay() {
	c.ListenAddr = utils.EnvOrDefault("VALIDATOR_LISTEN_ADDR", c.ListenAddr)
	c.ListenPort = utils.EnvOrDefaultInt("VALIDATOR_LISTEN_PORT", c.ListenPort)
	c.OperatorPublicKey = utils.EnvOrDefault("VALIDATOR_OPERATOR_KEY", c.OperatorPublicKey)
	c.DataDir = utils.EnvOrDefault("VALIDATOR_DATA_DIR", c.DataDir)
	c.StatusAddr = utils.EnvOrDefault("VALIDATOR_STATUS_ADDR", c.StatusAddr)
	c.MetricsAddr = utils.EnvOrDefault("VALIDATOR_METRICS_ADDR", c.MetricsAddr)
	c.TickDurationMS = utils.EnvOrDefaultInt("VALIDATOR_TICK_DURATION_MS", c.TickDurationMS)
	c.InitialCommitteeFile = utils.EnvOrDefault("VALIDATOR_COMMITTEE_FILE", c.InitialCommitteeFile)
	c.PrivateKeyHex = utils.EnvOrDefault("VALIDATOR_PRIVATE_KEY", c.PrivateKeyHex)
}

// Load reads path as YAML into a NodeConfig, loading envFile (if it exists)
// into the process environment first so applyEnvOverlay sees its values.
// A missing envFile is not an error -- godotenv.Load only matters for local
// development, production deployments set the environment directly.
func Load(path, envFile string) (*NodeConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, utils.Wrap(err, "load .env overlay")
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.Wrap(err, fmt.Sprintf("read config %s", path))
	}

	var cfg NodeConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, utils.Wrap(err, "parse config yaml")
	}

	cfg.applyDefaults()
	cfg.applyEnvOverlay()
	return &cfg, nil
}

// LoadFromEnv loads the config file path named by VALIDATOR_CONFIG_FILE (or
// "config.yaml" in the working directory) and the .env overlay named by
// VALIDATOR_ENV_FILE (or ".env").
func LoadFromEnv() (*NodeConfig, error) {
	path := utils.EnvOrDefault("VALIDATOR_CONFIG_FILE", "config.yaml")
	envFile := utils.EnvOrDefault("VALIDATOR_ENV_FILE", ".env")
	return Load(path, envFile)
}
