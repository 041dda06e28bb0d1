// apps/go-server/internal/config/config.go
//
// Process configuration.
// Values come from the environment, after an optional .env file is loaded
// with godotenv. Unset or empty variables fall back to the defaults below.
//
//   PORT                   5175
//   HOST                   ""            (all interfaces)
//   DB_PATH                ./data/wordgrid.db
//   LOG_LEVEL              info
//   LOG_FORMAT             json          ("console" for human output)
//   JWT_SECRET             required
//   CLIENT_ORIGIN          ""            (CORS allow-origin; empty disables)
//   TURN_DURATION_SECONDS  30
//   SELECT_THRESHOLD       3
//   MAX_BUCKET_SIZE        8
//   DICTIONARY_URL         ""            (empty uses the word list)
//   DICTIONARY_TIMEOUT_MS  3000
//   WORDS_FILE             ""            (empty uses the embedded list)

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Game       GameConfig
	Dictionary DictionaryConfig
	Logging    LoggingConfig
	DBPath     string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	Host         string
	JWTSecret    string
	ClientOrigin string
}

// GameConfig holds the rule constants and matchmaking limits
type GameConfig struct {
	TurnDuration    time.Duration
	SelectThreshold int
	MaxBucketSize   int
}

// DictionaryConfig selects the word verifier
type DictionaryConfig struct {
	URL       string
	Timeout   time.Duration
	WordsFile string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "5175"),
			Host:         getEnv("HOST", ""),
			JWTSecret:    getEnv("JWT_SECRET", ""),
			ClientOrigin: getEnv("CLIENT_ORIGIN", ""),
		},
		Game: GameConfig{
			TurnDuration:    time.Duration(getEnvInt("TURN_DURATION_SECONDS", 30)) * time.Second,
			SelectThreshold: getEnvInt("SELECT_THRESHOLD", game.DefaultSelectThreshold),
			MaxBucketSize:   getEnvInt("MAX_BUCKET_SIZE", 8),
		},
		Dictionary: DictionaryConfig{
			URL:       getEnv("DICTIONARY_URL", ""),
			Timeout:   time.Duration(getEnvInt("DICTIONARY_TIMEOUT_MS", 3000)) * time.Millisecond,
			WordsFile: getEnv("WORDS_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		DBPath: getEnv("DB_PATH", "./data/wordgrid.db"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.Game.TurnDuration <= 0 {
		return fmt.Errorf("config: TURN_DURATION_SECONDS must be positive")
	}
	if c.Game.SelectThreshold < 1 {
		return fmt.Errorf("config: SELECT_THRESHOLD must be at least 1")
	}
	if c.Game.MaxBucketSize < 2 {
		return fmt.Errorf("config: MAX_BUCKET_SIZE must be at least 2")
	}
	if c.Dictionary.Timeout <= 0 {
		return fmt.Errorf("config: DICTIONARY_TIMEOUT_MS must be positive")
	}
	return nil
}

// Rules returns the game rules derived from configuration.
func (c *Config) Rules() game.Rules {
	return game.Rules{SelectThreshold: c.Game.SelectThreshold, TurnDuration: c.Game.TurnDuration}
}

// Addr returns the listen address in host:port format
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns an environment variable as an integer or a default value
func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
