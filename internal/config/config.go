package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		ListenAddr string `koanf:"listen_addr"`
		JWTSecret  string `koanf:"jwt_secret"`
	} `koanf:"server"`

	Database struct {
		URL string `koanf:"url"`
	} `koanf:"database"`

	Queue struct {
		MaxWorkers int `koanf:"max_workers"`
	} `koanf:"queue"`

	Bulk struct {
		Ceiling     int `koanf:"ceiling"`
		InlineMax   int `koanf:"inline_max"`
		Parallelism int `koanf:"parallelism"`
	} `koanf:"bulk"`

	Resolution struct {
		// Delay between the last assistant reply and the resolution check.
		// Production keeps the 24h default; dev configs shorten it.
		Delay time.Duration `koanf:"delay"`
	} `koanf:"resolution"`

	AI struct {
		Model             string        `koanf:"model"`
		APIKey            string        `koanf:"api_key"`
		Timeout           time.Duration `koanf:"timeout"`
		RequestsPerMinute int           `koanf:"requests_per_minute"`
	} `koanf:"ai"`

	Notify struct {
		WebhookURL string `koanf:"webhook_url"`
	} `koanf:"notify"`

	LogLevel string `koanf:"log_level"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.listen_addr":     ":8710",
		"queue.max_workers":      10,
		"bulk.ceiling":           1000,
		"bulk.inline_max":        25,
		"bulk.parallelism":       8,
		"resolution.delay":       "24h",
		"ai.model":               "gpt-4o-mini",
		"ai.timeout":             "30s",
		"ai.requests_per_minute": 60,
		"log_level":              "info",
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try default locations so containerized and local runs both work
		defaultPaths := []string{"./hddata/helpdesk.toml", "./helpdesk.toml", "$HOME/.helpdesk.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix HELPDESK_
	k.Load(env.Provider("HELPDESK_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "HELPDESK_")), "_", ".", -1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if config.Bulk.Ceiling <= 0 {
		return fmt.Errorf("bulk ceiling must be positive")
	}
	if config.Resolution.Delay <= 0 {
		return fmt.Errorf("resolution delay must be positive")
	}
	if config.AI.Timeout <= 0 {
		return fmt.Errorf("ai timeout must be positive")
	}
	return nil
}
