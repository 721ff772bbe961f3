package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	DEFAULT_SCAN_INTERVAL_SECONDS     = 15
	DEFAULT_REQUEST_TIMEOUT_MILLIS    = 10000
	MIN_REQUEST_TIMEOUT_MILLIS        = 500
	COORDINATOR_TIMEOUT_MARGIN_MILLIS = 2000
)

type Config struct {
	LogLevel     zapcore.Level
	Gateway      GatewayConfig `mapstructure:"gateway"`
	ScanInterval uint          `mapstructure:"scan_interval"`
	MQTT         MQTTConfig    `mapstructure:"mqtt"`
	Port         uint          `mapstructure:"port"`
	HttpLog      bool          `mapstructure:"http_log"`
	ValidateOnly bool          `mapstructure:"validate_only"`
}

type GatewayConfig struct {
	Host                 string
	Username             string
	Password             string
	RequestTimeoutMillis uint32 `mapstructure:"request_timeout_millis"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c *Config) ScanIntervalDuration() time.Duration {
	return time.Duration(c.ScanInterval) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutMillis) * time.Millisecond
}

// GatewayTaskTimeout bounds one gateway operation, which may need a login and a fetch.
func (c *Config) GatewayTaskTimeout() time.Duration {
	return 2 * c.RequestTimeout()
}

// CoordinatorTimeout bounds one refresh as seen by the coordinator.
func (c *Config) CoordinatorTimeout() time.Duration {
	return c.GatewayTaskTimeout() + COORDINATOR_TIMEOUT_MARGIN_MILLIS*time.Millisecond
}

// Validate checks bounds and normalizes topics in place.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gateway.Host) == "" {
		return errors.New("config param gateway.host is required")
	}
	if c.Gateway.Password == "" {
		return errors.New("config param gateway.password is required")
	}
	if c.ScanInterval < 1 {
		return errors.New("config param scan_interval should be >= 1 (seconds)")
	}
	if c.Gateway.RequestTimeoutMillis < MIN_REQUEST_TIMEOUT_MILLIS {
		return errors.New("config param gateway.request_timeout_millis should be >= 500")
	}

	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(c.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	c.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := CheckMQTTTopic(c.MQTT.HADiscoveryTopic)
	if err != nil {
		return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	c.MQTT.HADiscoveryTopic = hadBaseTopic

	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Gateway.Password != "" {
		c.Gateway.Password = "*redacted*"
	}
	if c.MQTT.Username != "" {
		c.MQTT.Username = "*redacted*"
	}
	if c.MQTT.Password != "" {
		c.MQTT.Password = "*redacted*"
	}
	return c
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "error":
		return zapcore.ErrorLevel
	case "warn":
		return zapcore.WarnLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
