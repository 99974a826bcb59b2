package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/rocket-control/internal/config"
	"github.com/roman-kulish/rocket-control/internal/fault"
	"github.com/roman-kulish/rocket-control/internal/link"
	"github.com/roman-kulish/rocket-control/internal/mix"
)

const (
	defaultBaudRate      = 115200
	defaultStatsInterval = 10 * time.Second
)

// Config represents the main application configuration
type Config struct {
	Settings   Settings        `yaml:"settings"`
	Controller config.Settings `yaml:"controller"`
	Links      LinksConfig     `yaml:"links"`
	Mixer      []mix.Channel   `yaml:"mixer"`
	Actuators  ActuatorsConfig `yaml:"actuators"`
	Estimator  EstimatorConfig `yaml:"estimator"`
	Storage    StorageConfig   `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel      slog.Level      `yaml:"logLevel"`
	StatsInterval config.Duration `yaml:"statsInterval"`
}

// LinksConfig represents the external links
type LinksConfig struct {
	Override LinkConfig `yaml:"override"`
	Position LinkConfig `yaml:"position"`
}

// LinkConfig represents a single serial link
type LinkConfig struct {
	Enabled     bool            `yaml:"enabled"`
	Port        string          `yaml:"port"`
	BaudRate    int             `yaml:"baudRate"`
	ReadTimeout config.Duration `yaml:"readTimeout"`
	Extended    bool            `yaml:"extended"` // override packets carry the state estimate
	MinRate     float64         `yaml:"minRate"`  // Valid frames per second below which a warning is logged, 0 disables
}

func (c LinkConfig) opener() link.SerialOpener {
	return link.SerialOpener{
		Port:        c.Port,
		BaudRate:    c.BaudRate,
		ReadTimeout: c.ReadTimeout.Std(),
	}
}

// ActuatorsConfig represents the actuator rail
type ActuatorsConfig struct {
	Nominal []float64 `yaml:"nominal"` // Safe position per channel, defaults to the mixer neutral
}

// EstimatorConfig represents the motion capture estimator
type EstimatorConfig struct {
	BatteryVoltage float64 `yaml:"batteryVoltage"` // Also used with external estimates when there is no local one
}

// StorageConfig represents flight log settings
type StorageConfig struct {
	DataDirectory string          `yaml:"dataDirectory"`
	QueueSize     int             `yaml:"queueSize"`
	FlushInterval config.Duration `yaml:"flushInterval"`
	MaxTxSize     int             `yaml:"maxTxSize"`
}

// NewConfig returns the configuration every file is applied over
func NewConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel:      slog.LevelInfo,
			StatsInterval: config.Duration(defaultStatsInterval),
		},
		Controller: config.Default(),
		Links: LinksConfig{
			Override: LinkConfig{BaudRate: defaultBaudRate, ReadTimeout: config.Duration(link.DefaultReadTimeout), MinRate: link.MinFrameRate},
			Position: LinkConfig{BaudRate: defaultBaudRate, ReadTimeout: config.Duration(link.DefaultReadTimeout), MinRate: link.MinFrameRate},
		},
		Estimator: EstimatorConfig{BatteryVoltage: config.Default().NominalVoltage},
		Storage:   StorageConfig{DataDirectory: storageDir},
	}
}

// LoadConfig reads the YAML configuration file at path
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	c := NewConfig()
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, fault.Config("load configuration", err)
	}

	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration and returns all violations at once
func (c *Config) Validate() error {
	var errs []error

	if err := c.Controller.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(c.Mixer) == 0 {
		errs = append(errs, errors.New("mixer: at least one channel is required"))
	}
	if n := len(c.Actuators.Nominal); n > 0 && n != len(c.Mixer) {
		errs = append(errs, fmt.Errorf("actuators.nominal: %d values for %d channels", n, len(c.Mixer)))
	}

	for name, l := range map[string]LinkConfig{"override": c.Links.Override, "position": c.Links.Position} {
		if !l.Enabled {
			continue
		}
		if l.Port == "" {
			errs = append(errs, fmt.Errorf("links.%s.port: required when enabled", name))
		}
		if l.BaudRate <= 0 {
			errs = append(errs, fmt.Errorf("links.%s.baudRate: %d must be positive", name, l.BaudRate))
		}
		if l.MinRate < 0 {
			errs = append(errs, fmt.Errorf("links.%s.minRate: %v must not be negative", name, l.MinRate))
		}
	}

	if (c.Links.Position.Enabled || c.Links.Override.Enabled) && c.Estimator.BatteryVoltage <= 0 {
		errs = append(errs, fmt.Errorf("estimator.batteryVoltage: %v must be positive", c.Estimator.BatteryVoltage))
	}
	if c.Storage.QueueSize < 0 || c.Storage.MaxTxSize < 0 {
		errs = append(errs, errors.New("storage: queueSize and maxTxSize must not be negative"))
	}

	if len(errs) > 0 {
		return fault.Config("validate configuration", errors.Join(errs...))
	}
	return nil
}
