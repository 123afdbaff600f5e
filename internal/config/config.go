package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// DefaultSourceProj is the CRS assumed for uploads that carry no .prj and no
// explicit override.
const DefaultSourceProj = "+proj=utm +zone=18 +datum=WGS84"

// TargetProj is the CRS every layer is served in.
const TargetProj = "+proj=longlat +datum=WGS84"

var (
	ErrInvalidPort       = errors.New("config: PORT must be a number between 1 and 65535")
	ErrInvalidUploadSize = errors.New("config: MAX_UPLOAD_MB must be positive")
	ErrInvalidRateLimit  = errors.New("config: RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	ErrEmptySourceProj   = errors.New("config: SOURCE_PROJ is empty")
)

// ThematicClass is one row of the debt color table as it appears in YAML.
type ThematicClass struct {
	Above float64 `yaml:"above"`
	Color string  `yaml:"color"`
	Label string  `yaml:"label"`
}

// Thematic overrides the built-in debt scale. Empty fields keep the defaults.
type Thematic struct {
	Field         string          `yaml:"field"`
	FallbackField string          `yaml:"fallback_field"`
	NullColor     string          `yaml:"null_color"`
	BaseColor     string          `yaml:"base_color"`
	BaseLabel     string          `yaml:"base_label"`
	Classes       []ThematicClass `yaml:"classes"`
}

// Config holds the settings for the server and the CLI.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	SourceProj  string `yaml:"source_proj"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
	UploadDir   string `yaml:"upload_dir"`
	WatchDir    string `yaml:"watch_dir"`

	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AdminTokenHash string   `yaml:"admin_token_hash"`
	CORSOrigins    []string `yaml:"cors_origins"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	TileCacheTTL time.Duration `yaml:"tile_cache_ttl"`

	Thematic *Thematic `yaml:"thematic"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:           "5050",
		SourceProj:     DefaultSourceProj,
		MaxUploadMB:    64,
		UploadDir:      os.TempDir(),
		RateLimitRPS:   2,
		RateLimitBurst: 5,
		CORSOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		LogLevel:     "info",
		LogFormat:    "json",
		TileCacheTTL: 10 * time.Minute,
	}
}

// Load builds a Config from defaults, the optional YAML file named by
// CONFIG_FILE, then environment variables.
//
// Environment variables:
//   - PORT, DATABASE_URL, REDIS_URL
//   - SOURCE_PROJ: PROJ string for uploads without a .prj
//   - MAX_UPLOAD_MB, UPLOAD_DIR, WATCH_DIR
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST
//   - ADMIN_TOKEN_HASH: bcrypt hash guarding destructive routes
//   - CORS_ORIGINS: comma separated allow-list
//   - LOG_LEVEL, LOG_FORMAT (json|console)
//   - TILE_CACHE_TTL: Go duration
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.mergeEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return c.MergeYAML(data)
}

// MergeYAML overlays the non-zero values of a YAML document onto c.
func (c *Config) MergeYAML(data []byte) error {
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	setString(&c.Port, fileCfg.Port)
	setString(&c.DatabaseURL, fileCfg.DatabaseURL)
	setString(&c.RedisURL, fileCfg.RedisURL)
	setString(&c.SourceProj, fileCfg.SourceProj)
	setString(&c.UploadDir, fileCfg.UploadDir)
	setString(&c.WatchDir, fileCfg.WatchDir)
	setString(&c.AdminTokenHash, fileCfg.AdminTokenHash)
	setString(&c.LogLevel, fileCfg.LogLevel)
	setString(&c.LogFormat, fileCfg.LogFormat)
	if fileCfg.MaxUploadMB != 0 {
		c.MaxUploadMB = fileCfg.MaxUploadMB
	}
	if fileCfg.RateLimitRPS != 0 {
		c.RateLimitRPS = fileCfg.RateLimitRPS
	}
	if fileCfg.RateLimitBurst != 0 {
		c.RateLimitBurst = fileCfg.RateLimitBurst
	}
	if len(fileCfg.CORSOrigins) > 0 {
		c.CORSOrigins = fileCfg.CORSOrigins
	}
	if fileCfg.TileCacheTTL != 0 {
		c.TileCacheTTL = fileCfg.TileCacheTTL
	}
	if fileCfg.Thematic != nil {
		c.Thematic = fileCfg.Thematic
	}
	return nil
}

func (c *Config) mergeEnv() error {
	setString(&c.Port, os.Getenv("PORT"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.RedisURL, os.Getenv("REDIS_URL"))
	setString(&c.SourceProj, os.Getenv("SOURCE_PROJ"))
	setString(&c.UploadDir, os.Getenv("UPLOAD_DIR"))
	setString(&c.WatchDir, os.Getenv("WATCH_DIR"))
	setString(&c.AdminTokenHash, os.Getenv("ADMIN_TOKEN_HASH"))
	setString(&c.LogLevel, strings.ToLower(os.Getenv("LOG_LEVEL")))
	setString(&c.LogFormat, strings.ToLower(os.Getenv("LOG_FORMAT")))

	if v := strings.TrimSpace(os.Getenv("MAX_UPLOAD_MB")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_MB: %w", err)
		}
		c.MaxUploadMB = n
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimitRPS = n
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimitBurst = n
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORSOrigins = origins
	}
	if v := strings.TrimSpace(os.Getenv("TILE_CACHE_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TILE_CACHE_TTL: %w", err)
		}
		c.TileCacheTTL = d
	}
	return nil
}

// Validate checks the values Load cannot sanitize on its own.
func (c Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return ErrInvalidPort
	}
	if c.MaxUploadMB <= 0 {
		return ErrInvalidUploadSize
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return ErrInvalidRateLimit
	}
	if strings.TrimSpace(c.SourceProj) == "" {
		return ErrEmptySourceProj
	}
	return nil
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
