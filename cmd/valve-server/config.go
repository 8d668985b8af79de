package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agsys/valve-server/internal/engine"
	"github.com/agsys/valve-server/internal/link"
	"github.com/agsys/valve-server/internal/trend"
)

// Config represents the configuration file structure
type Config struct {
	Transport struct {
		Role         string `yaml:"role"`
		Address      string `yaml:"address"`
		WriteTimeout int    `yaml:"write_timeout"`
	} `yaml:"transport"`

	Controller struct {
		WindowSize      int      `yaml:"window_size"`
		SlopeThreshold  *float64 `yaml:"slope_threshold"`
		Comparison      string   `yaml:"comparison"`
		XAxis           string   `yaml:"x_axis"`
		ValveDuration   *int     `yaml:"valve_duration"`
		IncludeDuration bool     `yaml:"include_duration"`
		SweepInterval   int      `yaml:"sweep_interval"`
		StatusInterval  *int     `yaml:"status_interval"`
	} `yaml:"controller"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		File string `yaml:"file"`
	} `yaml:"logging"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// buildConfigs applies the file settings over the package defaults
func buildConfigs(cfg *Config) (engine.Config, link.Config, error) {
	engineCfg := engine.DefaultConfig()
	linkCfg := link.DefaultConfig()

	role, err := link.ParseRole(cfg.Transport.Role)
	if err != nil {
		return engineCfg, linkCfg, err
	}
	linkCfg.Role = role
	if cfg.Transport.Address != "" {
		linkCfg.Address = cfg.Transport.Address
	}
	if cfg.Transport.WriteTimeout > 0 {
		linkCfg.WriteTimeout = secondsToDuration(cfg.Transport.WriteTimeout)
	}
	engineCfg.WriteTimeout = linkCfg.WriteTimeout

	c := cfg.Controller
	if c.WindowSize < 0 {
		return engineCfg, linkCfg, fmt.Errorf("controller.window_size must not be negative")
	}
	if c.WindowSize > 0 {
		engineCfg.WindowSize = c.WindowSize
	}
	if c.SlopeThreshold != nil {
		if *c.SlopeThreshold < 0 {
			return engineCfg, linkCfg, fmt.Errorf("controller.slope_threshold must not be negative")
		}
		engineCfg.SlopeThreshold = *c.SlopeThreshold
	}
	if engineCfg.Comparison, err = trend.ParseComparison(c.Comparison); err != nil {
		return engineCfg, linkCfg, err
	}
	if engineCfg.Axis, err = trend.ParseAxis(c.XAxis); err != nil {
		return engineCfg, linkCfg, err
	}
	if c.ValveDuration != nil {
		if *c.ValveDuration < 0 {
			return engineCfg, linkCfg, fmt.Errorf("controller.valve_duration must not be negative")
		}
		engineCfg.ValveDuration = secondsToDuration(*c.ValveDuration)
	}
	engineCfg.IncludeDuration = c.IncludeDuration
	if c.SweepInterval > 0 {
		engineCfg.SweepInterval = secondsToDuration(c.SweepInterval)
	}
	if c.StatusInterval != nil {
		if *c.StatusInterval < 0 {
			return engineCfg, linkCfg, fmt.Errorf("controller.status_interval must not be negative")
		}
		engineCfg.StatusInterval = secondsToDuration(*c.StatusInterval)
	}

	engineCfg.JournalPath = cfg.Journal.Path
	return engineCfg, linkCfg, nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
