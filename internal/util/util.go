package util

import (
	"github.com/berfenger/solarwatt2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Gateway: config.GatewayConfig{
			Host:                 "-.-.-.-",
			Username:             "installer",
			Password:             "secret",
			RequestTimeoutMillis: 2000,
		},
		ScanInterval: 15,
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "solarwatt",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		Port: 8080,
	}
}
