// Package btcconfig resolves process-boot configuration (data directory,
// listen address, pool sizes, log level) the way the teacher's
// internal/config resolves bd's CLI configuration: a YAML file located by
// walking up from the working directory (falling back to a user config
// directory), with BTCMAP_-prefixed environment variables taking
// precedence over file values, and hard defaults below both.
//
// This is distinct from the `conf` database table (see internal/storagedb),
// which holds runtime-mutable secrets and prices read per request; this
// package only supplies what's needed before the storage engine can open.
package btcconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved process-boot configuration.
type Config struct {
	DataDir        string // directory holding btcmap.db and log.db
	HTTPAddr       string // address for the sync/RPC HTTP listener
	LogLevel       string // debug|info|warn|error
	PoolSize       int    // connections per database; 0 means 2*NumCPU
	BusyTimeoutMS  int
	SeedAdminFile  string // optional path to a TOML bootstrap-admin seed file
}

// Load resolves configuration the teacher's way: project-level
// .btcmap/config.yaml found by walking up from cwd, else
// ~/.config/btcmap/config.yaml, else hard defaults. Environment variables
// prefixed BTCMAP_ always take precedence over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".btcmap", "config.yaml")
			if _, statErr := os.Stat(candidate); statErr == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			candidate := filepath.Join(configDir, "btcmap", "config.yaml")
			if _, statErr := os.Stat(candidate); statErr == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("BTCMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("data-dir", defaultDataDir())
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("log-level", "info")
	v.SetDefault("pool-size", 0)
	v.SetDefault("busy-timeout-ms", 5000)
	v.SetDefault("seed-admin-file", "")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		DataDir:       v.GetString("data-dir"),
		HTTPAddr:      v.GetString("http-addr"),
		LogLevel:      v.GetString("log-level"),
		PoolSize:      v.GetInt("pool-size"),
		BusyTimeoutMS: v.GetInt("busy-timeout-ms"),
		SeedAdminFile: v.GetString("seed-admin-file"),
	}
	return cfg, nil
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".btcmap")
	}
	return ".btcmap"
}

// PrimaryDBPath returns the path to the primary database file.
func (c *Config) PrimaryDBPath() string { return filepath.Join(c.DataDir, "btcmap.db") }

// LogDBPath returns the path to the separate request-audit database file.
func (c *Config) LogDBPath() string { return filepath.Join(c.DataDir, "log.db") }
