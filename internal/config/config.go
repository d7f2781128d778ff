// Package config loads treering settings from a .env file and TREERING_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/rcliao/treering/internal/chunker"
	"github.com/rcliao/treering/internal/embedding"
	"github.com/rcliao/treering/internal/longterm"
	"github.com/rcliao/treering/internal/model"
	"github.com/rcliao/treering/internal/shortterm"
	"github.com/rcliao/treering/internal/treering"
)

// Config is the resolved runtime configuration.
type Config struct {
	DBDriver string // "sqlite" or "postgres"
	DBPath   string // sqlite file
	DBDSN    string // postgres connection string

	Namespace string
	Embedding embedding.Config
	Chunking  chunker.Options

	RushCapacity      int
	RushTTL           time.Duration
	RushSweepInterval time.Duration

	RetentionWindow time.Duration
	DecayRate       float64
	PruneInterval   time.Duration
}

// Default returns the built-in settings.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBDriver:          "sqlite",
		DBPath:            filepath.Join(home, ".treering", "memory.db"),
		Namespace:         longterm.DefaultNamespace,
		Embedding:         embedding.Config{Dims: 1536},
		Chunking:          chunker.DefaultOptions(),
		RushCapacity:      shortterm.DefaultCapacity,
		RushTTL:           shortterm.DefaultTTL,
		RushSweepInterval: shortterm.DefaultTTL,
		RetentionWindow:   treering.DefaultRetentionWindow,
		DecayRate:         treering.DefaultDecayRate,
		PruneInterval:     time.Hour,
	}
}

// Load reads envFile (or ./.env when envFile is empty and present) into the
// process environment, then builds a Config from TREERING_* variables on top
// of Default. Variables already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Default()
	p := parser{getenv: getenv}

	p.str("TREERING_DB_DRIVER", &c.DBDriver)
	p.str("TREERING_DB", &c.DBPath)
	p.str("TREERING_DB_DSN", &c.DBDSN)
	p.str("TREERING_NAMESPACE", &c.Namespace)

	p.str("TREERING_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	p.str("TREERING_EMBEDDING_MODEL", &c.Embedding.Model)
	p.str("TREERING_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	p.str("OPENAI_API_KEY", &c.Embedding.APIKey)
	p.str("TREERING_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	p.int("TREERING_EMBEDDING_DIMS", &c.Embedding.Dims)

	p.int("TREERING_CHUNK_MAX_TOKENS", &c.Chunking.MaxTokens)
	p.int("TREERING_CHUNK_OVERLAP_TOKENS", &c.Chunking.OverlapTokens)

	p.int("TREERING_RUSH_CAPACITY", &c.RushCapacity)
	p.duration("TREERING_RUSH_TTL", &c.RushTTL)
	p.duration("TREERING_RUSH_SWEEP_INTERVAL", &c.RushSweepInterval)

	var days int
	if p.int("TREERING_RETENTION_DAYS", &days) {
		c.RetentionWindow = time.Duration(days) * 24 * time.Hour
	}
	p.float("TREERING_DECAY_RATE", &c.DecayRate)
	p.duration("TREERING_PRUNE_INTERVAL", &c.PruneInterval)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks settings that would otherwise fail deep inside a component.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "":
		if c.DBPath == "" {
			return model.Validationf("sqlite needs a database path")
		}
	case "postgres", "postgresql":
		if c.DBDSN == "" {
			return model.Validationf("postgres needs TREERING_DB_DSN")
		}
	default:
		return model.Validationf("unknown database driver %q", c.DBDriver)
	}
	if c.Namespace == "" {
		return model.Validationf("namespace must not be empty")
	}
	if c.RushCapacity <= 0 {
		return model.Validationf("rush capacity must be positive, got %d", c.RushCapacity)
	}
	if c.RetentionWindow <= 0 {
		return model.Validationf("retention window must be positive")
	}
	return nil
}

// DataSource returns the driver name and source for store.Open.
func (c Config) DataSource() (driver, source string) {
	if c.DBDriver == "postgres" || c.DBDriver == "postgresql" {
		return "postgres", c.DBDSN
	}
	return "sqlite", c.DBPath
}

// CacheOptions returns the rush memory settings.
func (c Config) CacheOptions() shortterm.Options {
	return shortterm.Options{
		Capacity:      c.RushCapacity,
		DefaultTTL:    c.RushTTL,
		SweepInterval: c.RushSweepInterval,
	}
}

// ManagerOptions returns the ring manager settings.
func (c Config) ManagerOptions() treering.Options {
	return treering.Options{
		RetentionWindow: c.RetentionWindow,
		DecayRate:       c.DecayRate,
	}
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key string, dst *string) {
	if v := p.getenv(key); v != "" {
		*dst = v
	}
}

func (p *parser) int(key string, dst *int) bool {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = model.Validationf("%s: %q is not an integer", key, v)
		return false
	}
	*dst = n
	return true
}

func (p *parser) float(key string, dst *float64) {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.err = model.Validationf("%s: %q is not a number", key, v)
		return
	}
	*dst = f
}

func (p *parser) duration(key string, dst *time.Duration) {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = model.Validationf("%s: %q is not a duration", key, v)
		return
	}
	*dst = d
}
