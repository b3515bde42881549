// Package config loads the blimd daemon configuration: YAML file, go-defaults
// tag defaults, BLIMD_* environment overrides and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blimd/internal/device"
)

const envPrefix = "BLIMD_"

// Backend selects the adapter implementation.
const (
	BackendBlueZ = "bluez"
	BackendGoBLE = "goble"
)

// PollTarget names a characteristic read on every health poll.
type PollTarget struct {
	Service        string `yaml:"service"`
	Characteristic string `yaml:"characteristic"`
}

func (t PollTarget) String() string { return t.Service + "." + t.Characteristic }

// DefaultPollTargets are used when the file lists none.
var DefaultPollTargets = []PollTarget{
	{Service: "device_information", Characteristic: "software_revision_string"},
	{Service: "hgp_battery", Characteristic: "battery_level_state"},
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" default:"false"`
	Broker      string `yaml:"broker" default:"tcp://127.0.0.1:1883"`
	ClientID    string `yaml:"client_id" default:"blimd"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix" default:"blimd"`
	QoS         int    `yaml:"qos" default:"0"`
	Commands    bool   `yaml:"commands" default:"false"`
}

type InfluxConfig struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	URL     string `yaml:"url" default:"http://127.0.0.1:8086"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// Config holds application configuration
type Config struct {
	Adapter              string        `yaml:"adapter" default:"hci0"`
	Backend              string        `yaml:"backend" default:"bluez"`
	TrackedAddresses     []string      `yaml:"tracked_addresses"`
	PollIntervalSeconds  int           `yaml:"poll_interval_seconds" default:"10"`
	ScanExclusive        bool          `yaml:"scan_exclusive" default:"true"`
	ResumeScanAfterPoll  bool          `yaml:"resume_scan_after_poll" default:"true"`
	ExitOnPowerLoss      bool          `yaml:"exit_on_power_loss" default:"false"`
	InitialRead          bool          `yaml:"initial_read" default:"true"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout" default:"30s"`
	AdapterRetryInterval time.Duration `yaml:"adapter_retry_interval" default:"5s"`
	PollTargets          []PollTarget  `yaml:"poll_targets"`
	SchemaFile           string        `yaml:"schema_file"`
	LogLevel             string        `yaml:"log_level" default:"info"`
	SinkBuffer           uint32        `yaml:"sink_buffer" default:"1024"`

	MQTT     MQTTConfig   `yaml:"mqtt"`
	InfluxDB InfluxConfig `yaml:"influxdb"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.PollTargets = append([]PollTarget(nil), DefaultPollTargets...)
	return cfg
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := cfg.Parse(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the current values. Unknown keys are rejected and
// an empty document changes nothing.
func (c *Config) Parse(data []byte) error {
	targets := c.PollTargets
	c.PollTargets = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		c.PollTargets = targets
		return fmt.Errorf("parsing config file: %w", err)
	}
	if c.PollTargets == nil {
		c.PollTargets = targets
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides values from BLIMD_* variables, e.g. BLIMD_ADAPTER,
// BLIMD_TRACKED_ADDRESSES (comma separated), BLIMD_MQTT_PASSWORD.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("ADAPTER", &c.Adapter)
	str("BACKEND", &c.Backend)
	if v, ok := lookup(envPrefix + "TRACKED_ADDRESSES"); ok && v != "" {
		c.TrackedAddresses = splitList(v)
	}
	if v, ok := lookup(envPrefix + "POLL_TARGETS"); ok && v != "" {
		targets, err := ParsePollTargets(splitList(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sPOLL_TARGETS: %v", envPrefix, err))
		} else {
			c.PollTargets = targets
		}
	}
	integer("POLL_INTERVAL_SECONDS", &c.PollIntervalSeconds)
	boolean("SCAN_EXCLUSIVE", &c.ScanExclusive)
	boolean("RESUME_SCAN_AFTER_POLL", &c.ResumeScanAfterPoll)
	boolean("EXIT_ON_POWER_LOSS", &c.ExitOnPowerLoss)
	boolean("INITIAL_READ", &c.InitialRead)
	duration("CONNECT_TIMEOUT", &c.ConnectTimeout)
	duration("ADAPTER_RETRY_INTERVAL", &c.AdapterRetryInterval)
	str("SCHEMA_FILE", &c.SchemaFile)
	str("LOG_LEVEL", &c.LogLevel)

	boolean("MQTT_ENABLED", &c.MQTT.Enabled)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)

	boolean("INFLUXDB_ENABLED", &c.InfluxDB.Enabled)
	str("INFLUXDB_URL", &c.InfluxDB.URL)
	str("INFLUXDB_TOKEN", &c.InfluxDB.Token)
	str("INFLUXDB_ORG", &c.InfluxDB.Org)
	str("INFLUXDB_BUCKET", &c.InfluxDB.Bucket)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParsePollTargets parses "service.characteristic" entries.
func ParsePollTargets(specs []string) ([]PollTarget, error) {
	out := make([]PollTarget, 0, len(specs))
	for _, s := range specs {
		sep := strings.IndexAny(s, "./")
		if sep <= 0 || sep == len(s)-1 {
			return nil, fmt.Errorf("invalid poll target %q: want service.characteristic", s)
		}
		out = append(out, PollTarget{Service: s[:sep], Characteristic: s[sep+1:]})
	}
	return out, nil
}

// Validate normalizes tracked addresses in place and checks every range.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	switch c.Backend {
	case BackendBlueZ, BackendGoBLE:
	default:
		errs = append(errs, fmt.Sprintf("backend must be %q or %q, got %q", BackendBlueZ, BackendGoBLE, c.Backend))
	}
	if c.Adapter == "" {
		errs = append(errs, "adapter is required")
	}

	if len(c.TrackedAddresses) == 0 {
		errs = append(errs, "tracked_addresses must list at least one address")
	}
	seen := make(map[string]bool, len(c.TrackedAddresses))
	for i, raw := range c.TrackedAddresses {
		addr, err := device.NormalizeAddress(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("tracked_addresses[%d]: %v", i, err))
			continue
		}
		if seen[addr] {
			errs = append(errs, fmt.Sprintf("tracked_addresses[%d]: duplicate address %s", i, addr))
		}
		seen[addr] = true
		c.TrackedAddresses[i] = addr
	}

	if c.PollIntervalSeconds < 1 {
		errs = append(errs, "poll_interval_seconds must be at least 1")
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, "connect_timeout must be positive")
	}
	if c.AdapterRetryInterval <= 0 {
		errs = append(errs, "adapter_retry_interval must be positive")
	}
	for i, t := range c.PollTargets {
		if t.Service == "" || t.Characteristic == "" {
			errs = append(errs, fmt.Sprintf("poll_targets[%d]: service and characteristic are required", i))
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("log_level: %v", err))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PollInterval returns the poll interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Level returns the parsed log level, Info when unparsable.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
