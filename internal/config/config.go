// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads and writes the warden configuration file. Resolution
// order is defaults, then the config file (explicit --config flag, user
// config dir, /etc/warden, current directory), then WARDEN_* environment
// variables, then bound CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full configuration tree. Zero values are replaced by the
// defaults the CLI seeds through Defaults().
type Config struct {
	Database struct {
		Type string `mapstructure:"type" yaml:"type"`
		Dsn  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`
	Language string `mapstructure:"language" yaml:"language"`
	Root     string `mapstructure:"root" yaml:"root"`
	Export   struct {
		Dir           string `mapstructure:"dir" yaml:"dir"`
		RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
		Encrypt       bool   `mapstructure:"encrypt" yaml:"encrypt"`
	} `mapstructure:"export" yaml:"export"`
	KillSwitch struct {
		FlagFile string `mapstructure:"flag_file" yaml:"flag_file"`
	} `mapstructure:"killswitch" yaml:"killswitch"`
	Quorum struct {
		Size      int     `mapstructure:"size" yaml:"size"`
		Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
		TTLHours  int     `mapstructure:"ttl_hours" yaml:"ttl_hours"`
	} `mapstructure:"quorum" yaml:"quorum"`
	Capital struct {
		MaxDrawdownPct float64 `mapstructure:"max_drawdown_pct" yaml:"max_drawdown_pct"`
		MaxLossUSD     float64 `mapstructure:"max_loss_usd" yaml:"max_loss_usd"`
	} `mapstructure:"capital" yaml:"capital"`
	Orchestrator struct {
		Interval string `mapstructure:"interval" yaml:"interval"`
	} `mapstructure:"orchestrator" yaml:"orchestrator"`
	Metrics struct {
		Addr string `mapstructure:"addr" yaml:"addr"`
	} `mapstructure:"metrics" yaml:"metrics"`
	Offsite struct {
		Host    string `mapstructure:"host" yaml:"host"`
		User    string `mapstructure:"user" yaml:"user"`
		Path    string `mapstructure:"path" yaml:"path"`
		KeyFile string `mapstructure:"key_file" yaml:"key_file"`
	} `mapstructure:"offsite" yaml:"offsite"`
}

// Defaults returns the seed values for a fresh installation.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":            "sqlite",
		"database.dsn":             "./warden.db",
		"language":                 "en",
		"root":                     ".",
		"export.dir":               "export",
		"export.retention_days":    30,
		"export.encrypt":           false,
		"killswitch.flag_file":     "flags/kill_switch.txt",
		"quorum.size":              3,
		"quorum.threshold":         0.66,
		"quorum.ttl_hours":         24,
		"capital.max_drawdown_pct": 5.0,
		"capital.max_loss_usd":     10000.0,
		"orchestrator.interval":    "30s",
		"metrics.addr":             ":9109",
	}
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		// System-wide configuration paths
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Warden")
		default: // Linux, macOS, etc.
			configDir = "/etc/warden"
		}
	} else {
		// User-specific configuration paths
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "warden")
	}

	return filepath.Join(configDir, "warden.yaml"), nil
}

// LoadConfig resolves the configuration into T. A missing (or zero-length)
// config file is reported as viper.ConfigFileNotFoundError while still
// returning the defaults/env/flag-resolved value, so callers can decide to
// write a fresh default file and carry on.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("warden")
	v.SetConfigType("yaml")

	// An explicit --config flag has the highest precedence for file-based
	// configuration.
	if additionalConfigFilePath != nil && *additionalConfigFilePath != "" {
		v.SetConfigFile(*additionalConfigFilePath)
	}

	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".") // Look for warden.yaml in current dir

	var notFound error
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
		notFound = err
	} else if used := v.ConfigFileUsed(); used != "" {
		// An existing but empty candidate counts as not found, so a fresh
		// default file still gets written on first run.
		if info, statErr := os.Stat(used); statErr == nil && info.Size() == 0 {
			notFound = viper.ConfigFileNotFoundError{}
		}
	}

	// For backward compatibility, merge `.warden.yaml` from the current
	// directory when present.
	mergeLegacyConfig(v)

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("warden")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, notFound
}

// mergeLegacyConfig checks for a `.warden.yaml` file in the current directory
// and merges it into the viper configuration if found.
func mergeLegacyConfig(v *viper.Viper) {
	legacyConfigFile := ".warden.yaml"
	if _, err := os.Stat(legacyConfigFile); err == nil {
		v.SetConfigFile(legacyConfigFile)
		// MergeInConfig errors only on a malformed file here; ignore it so a
		// broken legacy file cannot block startup.
		_ = v.MergeInConfig()
		v.SetConfigFile("")
	}
}

// WriteConfigFile persists c to the user or system config path with 0600
// permissions, creating the directory when needed.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600 because the DSN or offsite settings may contain credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}

	return nil
}
