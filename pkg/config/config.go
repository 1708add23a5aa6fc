package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, loaded once at startup and immutable
// afterwards.
type Config struct {
	// Mode selects the call-control adapter: "esl" (FreeSWITCH event
	// socket, the default) or "ari" (Asterisk REST interface).
	Mode        string `yaml:"mode"`
	MetricsAddr string `yaml:"metricsAddr"`

	Diameter DiameterConfig `yaml:"diameter"`
	ESL      ESLConfig      `yaml:"freeswitch_esl"`
	ARI      ARIConfig      `yaml:"asterisk_ari"`
}

type DiameterConfig struct {
	OriginHost       string `yaml:"originHost"`
	OriginRealm      string `yaml:"originRealm"`
	DestinationHost  string `yaml:"destinationHost"`
	DestinationRealm string `yaml:"destinationRealm"`
	PeerHost         string `yaml:"peerHost"`
	PeerPort         int    `yaml:"peerPort"`
	NetworkType      string `yaml:"networkType"`
	ProductName      string `yaml:"productName"`

	// Durations in Go syntax, e.g. "30s". Zero values fall back to the
	// session defaults.
	WatchdogInterval string `yaml:"watchdogInterval"`
	RequestTimeout   string `yaml:"requestTimeout"`
}

type ESLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

type ARIConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	App      string `yaml:"appname"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := Config{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Mode == "" {
		cfg.Mode = "esl"
	}
	if cfg.Diameter.PeerPort == 0 {
		cfg.Diameter.PeerPort = 3868
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	d := cfg.Diameter
	for _, f := range []struct{ name, value string }{
		{"diameter.originHost", d.OriginHost},
		{"diameter.originRealm", d.OriginRealm},
		{"diameter.destinationHost", d.DestinationHost},
		{"diameter.destinationRealm", d.DestinationRealm},
		{"diameter.peerHost", d.PeerHost},
	} {
		if f.value == "" {
			return fmt.Errorf("missing required config field %s", f.name)
		}
	}
	switch cfg.Mode {
	case "esl":
		if cfg.ESL.Host == "" {
			return fmt.Errorf("mode esl requires freeswitch_esl.host")
		}
	case "ari":
		if cfg.ARI.Host == "" || cfg.ARI.App == "" {
			return fmt.Errorf("mode ari requires asterisk_ari.host and appname")
		}
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if _, err := cfg.WatchdogInterval(); err != nil {
		return err
	}
	if _, err := cfg.RequestTimeout(); err != nil {
		return err
	}
	return nil
}

// WatchdogInterval parses the configured keepalive cadence; zero means the
// session default.
func (cfg *Config) WatchdogInterval() (time.Duration, error) {
	return parseDuration("diameter.watchdogInterval", cfg.Diameter.WatchdogInterval)
}

// RequestTimeout parses the per-request answer window; zero means the
// session default.
func (cfg *Config) RequestTimeout() (time.Duration, error) {
	return parseDuration("diameter.requestTimeout", cfg.Diameter.RequestTimeout)
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("bad duration for %s: %w", name, err)
	}
	return d, nil
}
