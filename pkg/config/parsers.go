package config

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Defaults applied when the corresponding config field is empty or invalid.
const (
	DefaultQueueCapacity    = 64 * 1024
	DefaultWindow           = 50
	DefaultMaxWindow        = 100
	DefaultTypingClearAfter = 2 * time.Second
	DefaultTypingStaleAfter = 6 * time.Second
	DefaultOfflineAfter     = 90 * time.Second
	DefaultSweepCron        = "* * * * *"
)

// ParseCount parses a humanized count ("64k", "1M") returning def when the
// value is empty or malformed.
func ParseCount(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := humanize.ParseBytes(s)
	if err != nil || n == 0 {
		return def
	}
	return int(n)
}

// ParseDuration parses a Go duration string returning def when empty or
// malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// QueueCapacity returns the ingest queue capacity.
func (c *Config) QueueCapacity() int {
	return ParseCount(c.Ingest.QueueCapacity, DefaultQueueCapacity)
}

// WindowDefaults returns the default and maximum subscription window sizes.
func (c *Config) WindowDefaults() (def, max int) {
	def, max = c.Chat.DefaultWindow, c.Chat.MaxWindow
	if def <= 0 {
		def = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxWindow
	}
	if def > max {
		def = max
	}
	return def, max
}

// TypingClearAfter returns the sender-side typing self-clear delay.
func (c *Config) TypingClearAfter() time.Duration {
	return ParseDuration(c.Presence.TypingClearAfter, DefaultTypingClearAfter)
}

// TypingStaleAfter returns the read-side typing staleness threshold.
func (c *Config) TypingStaleAfter() time.Duration {
	return ParseDuration(c.Presence.TypingStaleAfter, DefaultTypingStaleAfter)
}

// OfflineAfter returns the heartbeat age after which the sweeper marks a
// user offline.
func (c *Config) OfflineAfter() time.Duration {
	return ParseDuration(c.Presence.OfflineAfter, DefaultOfflineAfter)
}

// SweepCron returns the presence sweep schedule.
func (c *Config) SweepCron() string {
	if strings.TrimSpace(c.Presence.SweepCron) != "" {
		return c.Presence.SweepCron
	}
	return DefaultSweepCron
}
