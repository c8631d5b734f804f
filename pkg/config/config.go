package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		// FastPathAddress serves the fire-and-forget signal endpoints
		// (typing, current-chat, heartbeat). Empty disables the fast path.
		FastPathAddress string `yaml:"fastpath_address"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
	Security struct {
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
	Ingest struct {
		// QueueCapacity accepts humanized counts ("64k", "1m").
		QueueCapacity string `yaml:"queue_capacity"`
	} `yaml:"ingest"`
	Chat struct {
		DefaultWindow int `yaml:"default_window"`
		MaxWindow     int `yaml:"max_window"`
	} `yaml:"chat"`
	Presence struct {
		// TypingClearAfter is the sender-side self-clear delay after the
		// last keystroke.
		TypingClearAfter string `yaml:"typing_clear_after"`
		// TypingStaleAfter is the read-side expiry for unrefreshed typing
		// flags.
		TypingStaleAfter string `yaml:"typing_stale_after"`
		// OfflineAfter is how long a heartbeat may be missing before the
		// sweeper marks the user offline.
		OfflineAfter string `yaml:"offline_after"`
		SweepCron    string `yaml:"sweep_cron"`
	} `yaml:"presence"`
}

// Load reads the YAML config at path (optional; empty or missing file yields
// defaults) and applies environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CHATSYNC_ADDR"); v != "" {
		c.Server.Address = v
		c.Server.Port = 0
	}
	if v := os.Getenv("CHATSYNC_FASTPATH_ADDR"); v != "" {
		c.Server.FastPathAddress = v
	}
	if v := os.Getenv("CHATSYNC_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CHATSYNC_QUEUE_CAPACITY"); v != "" {
		c.Ingest.QueueCapacity = v
	}
	if v := os.Getenv("CHATSYNC_SWEEP_CRON"); v != "" {
		c.Presence.SweepCron = v
	}
	if v := os.Getenv("CHATSYNC_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Security.RateLimit.RPS = f
		}
	}
}

// Addr returns the listen address, defaulting to :8089.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if c.Server.Port > 0 {
		return fmt.Sprintf("%s:%d", addr, c.Server.Port)
	}
	if addr == "" {
		return ":8089"
	}
	return addr
}

// DBPath returns the pebble directory, defaulting to ./chatsync-data.
func (c *Config) DBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return "./chatsync-data"
}
