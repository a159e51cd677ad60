package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds every option the process consumes, hydrated by the Loader.
type Config struct {
	Listen     ListenConfig     `koanf:"listen"`
	Logging    LoggingConfig    `koanf:"logging"`
	Canvas     CanvasConfig     `koanf:"canvas"`
	Gradescope GradescopeConfig `koanf:"gradescope"`
	Cache      CacheConfig      `koanf:"cache"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CanvasConfig carries the LMS base URL and the static bearer credential.
// An empty APIKey is not a load error; the canvas client reports a
// configuration message instead of performing network I/O.
type CanvasConfig struct {
	BaseURL string `koanf:"baseUrl"`
	APIKey  string `koanf:"apiKey"`
}

// GradescopeConfig carries the grading-site login credentials. Email and
// password are optional, but only together: when either is missing the
// gradescope client is not instantiated at all.
type GradescopeConfig struct {
	BaseURL  string `koanf:"baseUrl"`
	Email    string `koanf:"email"`
	Password string `koanf:"password"`
}

// Enabled reports whether both credentials are present.
func (g GradescopeConfig) Enabled() bool {
	return strings.TrimSpace(g.Email) != "" && strings.TrimSpace(g.Password) != ""
}

// CacheConfig sets the per-category TTLs, in seconds. Zero or negative
// values fall back to the category default.
type CacheConfig struct {
	CoursesTTLSeconds     int `koanf:"coursesTtlSeconds"`
	ModulesTTLSeconds     int `koanf:"modulesTtlSeconds"`
	ModuleItemsTTLSeconds int `koanf:"moduleItemsTtlSeconds"`
	FileURLsTTLSeconds    int `koanf:"fileUrlsTtlSeconds"`
	AssignmentsTTLSeconds int `koanf:"assignmentsTtlSeconds"`
}

// TTL converts a configured second count into a duration, applying the
// fallback when the value is unset.
func (c CacheConfig) TTL(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// DefaultConfig mirrors the upstream defaults: the institutional Canvas host,
// the public Gradescope origin, and the cache TTLs the original deployment ran
// with (courses and file URLs one hour, everything else thirty minutes).
func DefaultConfig() Config {
	return Config{
		Listen: ListenConfig{
			Address: "127.0.0.1",
			Port:    8171,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Canvas: CanvasConfig{
			BaseURL: "https://canvas.asu.edu",
		},
		Gradescope: GradescopeConfig{
			BaseURL: "https://www.gradescope.com",
		},
		Cache: CacheConfig{
			CoursesTTLSeconds:     3600,
			ModulesTTLSeconds:     1800,
			ModuleItemsTTLSeconds: 1800,
			FileURLsTTLSeconds:    3600,
			AssignmentsTTLSeconds: 1800,
		},
	}
}

// Validate rejects configurations the process cannot start with.
func (c Config) Validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Listen.Port)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unsupported log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: unsupported log format %q", c.Logging.Format)
	}
	if strings.TrimSpace(c.Canvas.BaseURL) == "" {
		return fmt.Errorf("config: canvas baseUrl required")
	}
	if strings.TrimSpace(c.Gradescope.BaseURL) == "" {
		return fmt.Errorf("config: gradescope baseUrl required")
	}
	return nil
}
