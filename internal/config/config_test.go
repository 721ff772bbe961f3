package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func validConfig() Config {
	return Config{
		Gateway: GatewayConfig{
			Host:                 "192.168.1.20",
			Password:             "pw",
			RequestTimeoutMillis: DEFAULT_REQUEST_TIMEOUT_MILLIS,
		},
		ScanInterval: DEFAULT_SCAN_INTERVAL_SECONDS,
		MQTT: MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "Solarwatt",
			HADiscoveryTopic: "homeassistant",
		},
	}
}

func TestValidateNormalizesTopics(t *testing.T) {

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "solarwatt", cfg.MQTT.BaseTopic)
	assert.Equal(t, 15*time.Second, cfg.ScanIntervalDuration())
	assert.Equal(t, 20*time.Second, cfg.GatewayTaskTimeout())
	assert.Equal(t, 22*time.Second, cfg.CoordinatorTimeout())
}

func TestValidateBounds(t *testing.T) {

	cases := map[string]func(*Config){
		"missing host":     func(c *Config) { c.Gateway.Host = "" },
		"missing password": func(c *Config) { c.Gateway.Password = "" },
		"zero interval":    func(c *Config) { c.ScanInterval = 0 },
		"short timeout":    func(c *Config) { c.Gateway.RequestTimeoutMillis = 100 },
		"bad base topic":   func(c *Config) { c.MQTT.BaseTopic = "solar/watt" },
		"bad ha topic":     func(c *Config) { c.MQTT.HADiscoveryTopic = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRedacted(t *testing.T) {

	cfg := validConfig()
	cfg.MQTT.Username = "user"
	cfg.MQTT.Password = "secret"

	r := cfg.Redacted()
	assert.Equal(t, "*redacted*", r.Gateway.Password)
	assert.Equal(t, "*redacted*", r.MQTT.Password)
	assert.Equal(t, "pw", cfg.Gateway.Password, "original untouched")
}

func TestParseLogLevel(t *testing.T) {

	assert.Equal(t, zapcore.DebugLevel, ParseLogLevel("trace"))
	assert.Equal(t, zapcore.WarnLevel, ParseLogLevel("WARN"))
	assert.Equal(t, zapcore.InfoLevel, ParseLogLevel("bogus"))
}
