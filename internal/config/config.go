package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrInvalidHostname            = errors.New("machine hostname must be set")
	ErrUnknownConnector           = errors.New("connector must be one of: sim, bridge")
	ErrInvalidBufferConfig        = errors.New("buffered amount low threshold must be less than max buffered amount")
	ErrInvalidChunkSize           = errors.New("chunk size must be greater than 0")
	ErrInvalidFirebaseCredentials = errors.New("firebase credentials path must be set")
	ErrInvalidFirebaseProjectID   = errors.New("firebase project ID must be set")
	ErrInvalidFirebaseDatabaseURL = errors.New("firebase database URL must be set")
	ErrInvalidReconnectDelay      = errors.New("reconnect delay must be greater than 0")
)

// Connector kinds accepted by MachineConfig.Connector.
const (
	ConnectorSim    = "sim"
	ConnectorBridge = "bridge"
)

// Config holds all application configuration.
type Config struct {
	Machine   MachineConfig   `mapstructure:"machine"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	Log       LogConfig       `mapstructure:"log"`
}

// MachineConfig selects and identifies the machine to talk to.
type MachineConfig struct {
	Hostname  string `mapstructure:"hostname"`
	Password  string `mapstructure:"password"`
	Connector string `mapstructure:"connector"`

	// SimRoot is a host directory backing the simulated device. Empty means
	// an in-memory filesystem that vanishes on exit.
	SimRoot string `mapstructure:"sim_root"`
}

// BridgeConfig holds settings for the WebRTC bridge connector.
type BridgeConfig struct {
	ICEServers                 []string       `mapstructure:"ice_servers"`
	BufferedAmountLowThreshold uint64         `mapstructure:"buffered_amount_low_threshold"`
	MaxBufferedAmount          uint64         `mapstructure:"max_buffered_amount"`
	ChunkSize                  int            `mapstructure:"chunk_size"`
	Firebase                   FirebaseConfig `mapstructure:"firebase"`
}

// FirebaseConfig holds the rendezvous database settings.
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	DatabaseURL     string `mapstructure:"database_url"`
	CredentialsPath string `mapstructure:"credentials_path"`
}

// ReconnectConfig paces the connection supervisor.
type ReconnectConfig struct {
	Delay time.Duration `mapstructure:"delay"`

	// MaxAttempts bounds consecutive failed reconnect attempts before giving
	// up. 0 retries forever.
	MaxAttempts uint64 `mapstructure:"max_attempts"`
}

// CacheConfig bounds the parsed file information cache.
type CacheConfig struct {
	FileInfoTTL time.Duration `mapstructure:"file_info_ttl"`
	MaxEntries  int           `mapstructure:"max_entries"`
}

// PluginsConfig holds plugin loader settings.
type PluginsConfig struct {
	// SettingsFile is where enabled plugin ids are persisted. Empty picks
	// $HOME/.fablink/plugins.yaml.
	SettingsFile string `mapstructure:"settings_file"`

	// StageDir is where fetched plugin client bundles are staged locally.
	// Empty picks $HOME/.fablink/plugins.
	StageDir string `mapstructure:"stage_dir"`

	// DevBuild skips loading plugin client resources entirely.
	DevBuild bool `mapstructure:"dev_build"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NewDefaultConfig returns a configuration with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Machine: MachineConfig{
			Hostname:  "sim.local",
			Connector: ConnectorSim,
		},
		Bridge: BridgeConfig{
			ICEServers:                 []string{"stun:stun.l.google.com:19302"},
			BufferedAmountLowThreshold: 512 * 1024,  // 512 KB
			MaxBufferedAmount:          1024 * 1024, // 1 MB
			ChunkSize:                  16 * 1024,   // 16 KB frames
		},
		Reconnect: ReconnectConfig{
			Delay:       2 * time.Second,
			MaxAttempts: 0,
		},
		Cache: CacheConfig{
			FileInfoTTL: 15 * time.Minute,
			MaxEntries:  256,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/fablink.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise from common
// locations, with FABLINK_* environment overrides. Missing config files are
// fine; defaults and environment carry the rest.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FABLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Seed defaults so env-only configs work.
	v.SetDefault("machine.hostname", cfg.Machine.Hostname)
	v.SetDefault("machine.password", cfg.Machine.Password)
	v.SetDefault("machine.connector", cfg.Machine.Connector)
	v.SetDefault("machine.sim_root", cfg.Machine.SimRoot)
	v.SetDefault("bridge.ice_servers", cfg.Bridge.ICEServers)
	v.SetDefault("bridge.buffered_amount_low_threshold", cfg.Bridge.BufferedAmountLowThreshold)
	v.SetDefault("bridge.max_buffered_amount", cfg.Bridge.MaxBufferedAmount)
	v.SetDefault("bridge.chunk_size", cfg.Bridge.ChunkSize)
	v.SetDefault("bridge.firebase.project_id", cfg.Bridge.Firebase.ProjectID)
	v.SetDefault("bridge.firebase.database_url", cfg.Bridge.Firebase.DatabaseURL)
	v.SetDefault("bridge.firebase.credentials_path", cfg.Bridge.Firebase.CredentialsPath)
	v.SetDefault("reconnect.delay", cfg.Reconnect.Delay)
	v.SetDefault("reconnect.max_attempts", cfg.Reconnect.MaxAttempts)
	v.SetDefault("cache.file_info_ttl", cfg.Cache.FileInfoTTL)
	v.SetDefault("cache.max_entries", cfg.Cache.MaxEntries)
	v.SetDefault("plugins.settings_file", cfg.Plugins.SettingsFile)
	v.SetDefault("plugins.stage_dir", cfg.Plugins.StageDir)
	v.SetDefault("plugins.dev_build", cfg.Plugins.DevBuild)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".fablink")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
			v.AddConfigPath(filepath.Join(home, ".fablink"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is valid.
func (c *Config) Validate() error {
	if c.Machine.Hostname == "" {
		return ErrInvalidHostname
	}
	if c.Reconnect.Delay <= 0 {
		return ErrInvalidReconnectDelay
	}

	switch c.Machine.Connector {
	case ConnectorSim:
		return nil
	case ConnectorBridge:
		return c.ValidateBridge()
	default:
		return ErrUnknownConnector
	}
}

// ValidateBridge checks the settings the WebRTC bridge needs. Validate runs
// it for the bridge connector; serve runs it explicitly since hosting uses
// the bridge no matter which connector is configured.
func (c *Config) ValidateBridge() error {
	if c.Bridge.BufferedAmountLowThreshold >= c.Bridge.MaxBufferedAmount {
		return ErrInvalidBufferConfig
	}
	if c.Bridge.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if c.Bridge.Firebase.CredentialsPath == "" {
		return ErrInvalidFirebaseCredentials
	}
	if c.Bridge.Firebase.ProjectID == "" {
		return ErrInvalidFirebaseProjectID
	}
	if c.Bridge.Firebase.DatabaseURL == "" {
		return ErrInvalidFirebaseDatabaseURL
	}
	return nil
}

// PluginSettingsFile resolves the enabled-plugin settings location.
func (c *Config) PluginSettingsFile() string {
	if c.Plugins.SettingsFile != "" {
		return c.Plugins.SettingsFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "plugins.yaml"
	}
	return filepath.Join(home, ".fablink", "plugins.yaml")
}

// PluginStageDir resolves where plugin client bundles are staged.
func (c *Config) PluginStageDir() string {
	if c.Plugins.StageDir != "" {
		return c.Plugins.StageDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "plugins"
	}
	return filepath.Join(home, ".fablink", "plugins")
}
