package boundary

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the full configuration file
type Config struct {
	Input          string `yaml:"input" json:"input"`
	OutputDir      string `yaml:"output_dir" json:"output_dir"`
	MaxConcurrency int    `yaml:"max_concurrency" json:"max_concurrency"`
	DisableFetch   bool   `yaml:"disable_fetch" json:"disable_fetch"` // Trust extents only (dry run)
	SampleSize     int    `yaml:"sample_size" json:"sample_size"`     // Features sampled per layer for validation (1-5)
	ProgressEvery  int    `yaml:"progress_every" json:"progress_every"`

	Fetch      FetchConfig          `yaml:"fetch" json:"fetch"`
	Cache      CacheConfig          `yaml:"cache" json:"cache"`
	Thresholds Thresholds           `yaml:"thresholds" json:"thresholds"`
	Authority  map[string]int       `yaml:"authority,omitempty" json:"authority,omitempty"` // Domain suffix -> priority overrides
	AreaBounds map[string]AreaBound `yaml:"area_bounds,omitempty" json:"area_bounds,omitempty"`
	MQTT       MQTTConfig           `yaml:"mqtt" json:"mqtt"`
	Log        LogConfig            `yaml:"log" json:"log"`

	DefaultPriority *int   `yaml:"default_priority,omitempty" json:"default_priority,omitempty"`
	MetricsTextfile string `yaml:"metrics_textfile,omitempty" json:"metrics_textfile,omitempty"`
	ReviewSheetsDir string `yaml:"review_sheets_dir,omitempty" json:"review_sheets_dir,omitempty"`
	ReviewSheetPNG  bool   `yaml:"review_sheet_png,omitempty" json:"review_sheet_png,omitempty"`
}

// FetchConfig holds remote geometry service settings
type FetchConfig struct {
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"` // Per remote host
	Burst             int           `yaml:"burst" json:"burst"`
	PageSize          int           `yaml:"page_size" json:"page_size"`
	MaxPages          int           `yaml:"max_pages" json:"max_pages"`
}

// CacheConfig selects the geometry cache backend
type CacheConfig struct {
	Backend       string        `yaml:"backend" json:"backend"` // "memory", "sqlite" or "redis"
	SQLitePath    string        `yaml:"sqlite_path,omitempty" json:"sqlite_path,omitempty"`
	RedisAddr     string        `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisPassword string        `yaml:"redis_password,omitempty" json:"redis_password,omitempty"`
	RedisDB       int           `yaml:"redis_db,omitempty" json:"redis_db,omitempty"`
	TTL           time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// MQTTConfig holds MQTT connection settings for run notifications
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	QoS           byte   `yaml:"qos" json:"qos"`
	Retain        bool   `yaml:"retain" json:"retain"` // Applies to the run summary only
}

// LogConfig selects log level and handler format
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "text" or "json"
}

const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:      "out",
		MaxConcurrency: 10,
		SampleSize:     3,
		ProgressEvery:  500,
		Fetch: FetchConfig{
			Timeout:           DefaultFetchTimeout,
			MaxRetries:        DefaultMaxRetries,
			RequestsPerSecond: 5,
			Burst:             5,
			PageSize:          1000,
			MaxPages:          20,
		},
		Cache: CacheConfig{
			Backend:    CacheMemory,
			SQLitePath: ".boundary-cache.db",
			TTL:        7 * 24 * time.Hour,
		},
		Thresholds: DefaultThresholds(),
		MQTT:       MQTTConfig{QoS: 1, Retain: true},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig loads the configuration from a YAML file on top of the defaults.
// An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file not found: %s", ErrConfig, path)
		}
		return nil, fmt.Errorf("%w: reading config file: %v", ErrConfig, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: parsing config YAML: %v", ErrConfig, err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays environment variables on the config. Variables from the
// given .env files are loaded first without overriding the real environment.
func (c *Config) ApplyEnv(envFiles ...string) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}

	if v := os.Getenv("BOUNDARYMERGE_INPUT"); v != "" {
		c.Input = v
	}
	if v := os.Getenv("BOUNDARYMERGE_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if n, ok := envInt("BOUNDARYMERGE_MAX_CONCURRENCY"); ok {
		c.MaxConcurrency = n
	}
	if v := os.Getenv("BOUNDARYMERGE_DISABLE_FETCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DisableFetch = b
		}
	}
	if v := os.Getenv("BOUNDARYMERGE_CACHE"); v != "" {
		c.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("BOUNDARYMERGE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Cache.RedisPassword = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max_concurrency must be at least 1", ErrConfig)
	}
	if c.SampleSize < 1 || c.SampleSize > 5 {
		return fmt.Errorf("%w: sample_size must be between 1 and 5", ErrConfig)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("%w: fetch.timeout must be positive", ErrConfig)
	}
	th := c.Thresholds
	for _, v := range []float64{th.DuplicateIoU, th.DuplicateName, th.DuplicateIoUOnly, th.NearIoU, th.NearName, th.MinName} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: thresholds must be within 0-1", ErrConfig)
		}
	}
	if th.NearIoU > th.DuplicateIoU || th.NearName > th.DuplicateName {
		return fmt.Errorf("%w: near-duplicate thresholds must not exceed duplicate thresholds", ErrConfig)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrConfig)
	}
	switch c.Cache.Backend {
	case CacheMemory, "":
	case CacheSQLite:
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("%w: cache.sqlite_path is required for the sqlite backend", ErrConfig)
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("%w: cache.redis_addr is required for the redis backend", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrConfig, c.Cache.Backend)
	}
	for dt, b := range c.AreaBounds {
		if b.MinKm2 < 0 || b.MaxKm2 <= b.MinKm2 {
			return fmt.Errorf("%w: area_bounds[%s] must satisfy 0 <= min < max", ErrConfig, dt)
		}
	}
	for suffix, p := range c.Authority {
		if p < 0 || p > 100 {
			return fmt.Errorf("%w: authority[%s] must be within 0-100", ErrConfig, suffix)
		}
	}
	return nil
}
