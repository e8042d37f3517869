// Package config reads the drainwatch daemon configuration from a YAML
// file, falling back to defaults when no file is present.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

const DefaultConfigDir = "/etc/drainwatch"

// Config is the full daemon configuration.
type Config struct {
	StateDir string `mapstructure:"state-dir"`
	// Backend selects the state store: "file" or "bolt".
	Backend string `mapstructure:"backend"`
	// Source selects the telemetry feed: "serial" or "mqtt".
	Source string `mapstructure:"source"`

	Serial  Serial  `mapstructure:"serial"`
	MQTT    MQTT    `mapstructure:"mqtt"`
	Warning Warning `mapstructure:"warning"`

	// Samples with voltage outside this range are dropped before they
	// reach the estimator.
	MinValidVoltageMv int `mapstructure:"min-valid-voltage-mv"`
	MaxValidVoltageMv int `mapstructure:"max-valid-voltage-mv"`
}

type Serial struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

type MQTT struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client-id"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Warning holds the thresholds deciding when a shutdown warning is
// raised or cleared.
type Warning struct {
	// Raise when the adjusted prediction drops to this many minutes.
	MinutesThreshold float64 `mapstructure:"minutes-threshold"`
	// Raise when the battery level drops to this percentage.
	LowLevel int `mapstructure:"low-level"`
	// Raise when voltage drops to this many mV at 25°C.
	CriticalVoltageMv int `mapstructure:"critical-voltage-mv"`
	// Each degree below 25°C raises the voltage cutoff by this many mV.
	ColdCompensationMvPerDeg float64 `mapstructure:"cold-compensation-mv-per-deg"`
	// The prediction must recover this many minutes above the threshold
	// before an active warning is cleared.
	HysteresisMinutes float64 `mapstructure:"hysteresis-minutes"`
}

// ParseConfig reads drainwatch.yaml from configDir. A missing file is
// not an error; a malformed one is.
func ParseConfig(configDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("drainwatch")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetDefault("state-dir", "/var/lib/drainwatch")
	v.SetDefault("backend", "file")
	v.SetDefault("source", "serial")
	v.SetDefault("serial.port", "/dev/serial0")
	v.SetDefault("serial.baud", 9600)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client-id", "drainwatch")
	v.SetDefault("mqtt.topic", "battery/telemetry")
	v.SetDefault("warning.minutes-threshold", 30.0)
	v.SetDefault("warning.low-level", 5)
	v.SetDefault("warning.critical-voltage-mv", 3300)
	v.SetDefault("warning.cold-compensation-mv-per-deg", 5.0)
	v.SetDefault("warning.hysteresis-minutes", 10.0)
	v.SetDefault("min-valid-voltage-mv", 2500)
	v.SetDefault("max-valid-voltage-mv", 4500)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if conf.Backend != "file" && conf.Backend != "bolt" {
		return nil, fmt.Errorf("unknown backend '%s'", conf.Backend)
	}
	if conf.Source != "serial" && conf.Source != "mqtt" {
		return nil, fmt.Errorf("unknown source '%s'", conf.Source)
	}
	if conf.MinValidVoltageMv >= conf.MaxValidVoltageMv {
		return nil, fmt.Errorf("invalid voltage range [%d, %d]",
			conf.MinValidVoltageMv, conf.MaxValidVoltageMv)
	}
	return conf, nil
}
