// Package config loads bridge configuration using viper.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file, and MOCAP_* environment variables (MOCAP_HEALTH_MAX_GAP sets
// health.max_gap).
package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment variable prefix for overrides.
const EnvPrefix = "MOCAP"

const maxConfigFileSize = 1 << 20

// Config is the complete bridge configuration.
type Config struct {
	Network  NetworkConfig  `mapstructure:"network"`
	Decoder  DecoderConfig  `mapstructure:"decoder"`
	Health   HealthConfig   `mapstructure:"health"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
}

// NetworkConfig selects the NatNet data stream.
type NetworkConfig struct {
	MulticastAddress string        `mapstructure:"multicast_address"`
	Port             int           `mapstructure:"port"`
	Interface        string        `mapstructure:"interface"` // empty = system default
	ReadBuffer       int           `mapstructure:"read_buffer"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	MaxDatagramSize  int           `mapstructure:"max_datagram_size"`
}

// DecoderConfig configures frame decoding.
type DecoderConfig struct {
	SourceFrame       string `mapstructure:"source_frame"`
	MaxMarkersPerBody int    `mapstructure:"max_markers_per_body"`
	ByteOrder         string `mapstructure:"byte_order"` // little | big
}

// HealthConfig configures the stream-health monitor.
type HealthConfig struct {
	WindowSize   int           `mapstructure:"window_size"`
	MaxGap       time.Duration `mapstructure:"max_gap"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Name         string        `mapstructure:"name"`
	HardwareID   string        `mapstructure:"hardware_id"`
}

// BridgeConfig configures pose forwarding.
type BridgeConfig struct {
	// BodyFilter limits published poses to these target frames. Empty
	// publishes every valid body.
	BodyFilter    []string      `mapstructure:"body_filter"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// RelayConfig re-sends raw datagrams to another UDP address.
type RelayConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	QueueSize int    `mapstructure:"queue_size"`
}

// RecorderConfig persists poses and health statuses to SQLite.
type RecorderConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	QueueSize int    `mapstructure:"queue_size"`
}

// HTTPConfig serves the status API.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"` // text | json
	File   FileLogConfig `mapstructure:"file"`
}

// FileLogConfig adds a rotated log file next to stdout.
type FileLogConfig struct {
	Path       string `mapstructure:"path"` // empty disables file output
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Network: NetworkConfig{
			MulticastAddress: "239.255.42.99",
			Port:             1511,
			ReadBuffer:       1 << 20,
			ReadTimeout:      time.Second,
			MaxDatagramSize:  65507,
		},
		Decoder: DecoderConfig{
			SourceFrame:       "map",
			MaxMarkersPerBody: 100,
			ByteOrder:         "little",
		},
		Health: HealthConfig{
			WindowSize:   10,
			MaxGap:       10 * time.Millisecond,
			TickInterval: 500 * time.Millisecond,
			Name:         "OptiTrack external pose",
			HardwareID:   "1",
		},
		Bridge: BridgeConfig{
			BodyFilter:    []string{},
			StatsInterval: time.Minute,
		},
		Relay: RelayConfig{
			QueueSize: 1000,
		},
		Recorder: RecorderConfig{
			Path:      "mocap.db",
			QueueSize: 1024,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  ":8089",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File: FileLogConfig{
				MaxSizeMB:  50,
				MaxBackups: 5,
				MaxAgeDays: 14,
			},
		},
	}
}

// Load reads configuration from path (optional) layered over the defaults
// and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range flatten("", Settings(Default())) {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := checkConfigFile(path); err != nil {
			return nil, err
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func checkConfigFile(path string) error {
	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".yaml", ".yml":
	default:
		return fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		errs = append(errs, fmt.Errorf("network.port must be in 1..65535, got %d", c.Network.Port))
	}
	if c.Network.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("network.read_timeout must be positive, got %v", c.Network.ReadTimeout))
	}
	if c.Network.MaxDatagramSize < 4 {
		errs = append(errs, fmt.Errorf("network.max_datagram_size must be at least 4, got %d", c.Network.MaxDatagramSize))
	}
	if c.Decoder.SourceFrame == "" {
		errs = append(errs, errors.New("decoder.source_frame must not be empty"))
	}
	if c.Decoder.MaxMarkersPerBody <= 0 {
		errs = append(errs, fmt.Errorf("decoder.max_markers_per_body must be positive, got %d", c.Decoder.MaxMarkersPerBody))
	}
	if _, err := c.Decoder.Order(); err != nil {
		errs = append(errs, err)
	}
	if c.Health.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("health.window_size must be positive, got %d", c.Health.WindowSize))
	}
	if c.Health.MaxGap <= 0 {
		errs = append(errs, fmt.Errorf("health.max_gap must be positive, got %v", c.Health.MaxGap))
	}
	if c.Health.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("health.tick_interval must be positive, got %v", c.Health.TickInterval))
	}
	if c.Relay.Enabled && c.Relay.Address == "" {
		errs = append(errs, errors.New("relay.address is required when relay is enabled"))
	}
	if c.Recorder.Enabled && c.Recorder.Path == "" {
		errs = append(errs, errors.New("recorder.path is required when recorder is enabled"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Order returns the configured byte order.
func (d DecoderConfig) Order() (binary.ByteOrder, error) {
	switch strings.ToLower(d.ByteOrder) {
	case "", "little", "little-endian", "le":
		return binary.LittleEndian, nil
	case "big", "big-endian", "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("decoder.byte_order must be little or big, got %q", d.ByteOrder)
	}
}

// GroupAddress returns the multicast group as host:port.
func (n NetworkConfig) GroupAddress() string {
	return fmt.Sprintf("%s:%d", n.MulticastAddress, n.Port)
}

// Render returns the configuration as YAML with durations in
// human-readable form.
func (c Config) Render() ([]byte, error) {
	return yaml.Marshal(Settings(c))
}

// Settings converts a configuration struct into nested maps keyed by the
// mapstructure tags.
func Settings(v interface{}) map[string]interface{} {
	out, _ := settingsOf(reflect.ValueOf(v)).(map[string]interface{})
	return out
}

var durationType = reflect.TypeOf(time.Duration(0))

func settingsOf(v reflect.Value) interface{} {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String()
	}
	if v.Kind() != reflect.Struct {
		return v.Interface()
	}
	out := make(map[string]interface{}, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		field := v.Type().Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(field.Name)
		}
		out[key] = settingsOf(v.Field(i))
	}
	return out
}

func flatten(prefix string, m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
