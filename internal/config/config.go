// Package config provides configuration loading and validation for the sync engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every tunable the engine reads. It is constructed once, validated,
// and passed by value into component constructors; nothing mutates it afterwards.
type Config struct {
	// Warehouse
	DatabaseURL string `json:"database_url,omitempty" validate:"required"`

	// Seller API
	APIBaseURL  string `json:"api_base_url,omitempty" validate:"required,url"`
	APIClientID string `json:"api_client_id,omitempty" validate:"required"`
	APIKey      string `json:"api_key,omitempty" validate:"required"`

	// Locking
	LockDir string `json:"lock_dir,omitempty"`

	// Batch sizing and polling
	BatchSize       int `json:"batch_size,omitempty" validate:"min=1,max=10000"`
	PageSize        int `json:"page_size,omitempty" validate:"min=1,max=1000"`
	PollIntervalSec int `json:"poll_interval_sec,omitempty" validate:"min=1"`
	MaxWaitSec      int `json:"max_wait_sec,omitempty" validate:"min=1"`

	// Retry policy
	MaxRetries    int `json:"max_retries,omitempty" validate:"min=1,max=10"`
	RetryDelaySec int `json:"retry_delay_sec,omitempty" validate:"min=0"`

	// Data quality
	QualityFloor     float64 `json:"quality_floor,omitempty" validate:"gte=0,lte=1"`
	MaxRefreshShrink float64 `json:"max_refresh_shrink,omitempty" validate:"gte=0,lte=1"`

	// Sales extraction lookback
	SalesLookbackDays int `json:"sales_lookback_days,omitempty" validate:"min=1,max=90"`

	// Stage toggles. Disabled stages are left out of the workflow entirely.
	DisableCatalog   bool `json:"disable_catalog,omitempty"`
	DisableInventory bool `json:"disable_inventory,omitempty"`
	DisableSales     bool `json:"disable_sales,omitempty"`
}

// Defaults returns a Config with every optional field set to its default value.
func Defaults() Config {
	return Config{
		LockDir:           filepath.Join(os.TempDir(), "marketsync-locks"),
		BatchSize:         1000,
		PageSize:          500,
		PollIntervalSec:   10,
		MaxWaitSec:        300,
		MaxRetries:        3,
		RetryDelaySec:     60,
		QualityFloor:      0.5,
		MaxRefreshShrink:  0.5,
		SalesLookbackDays: 7,
	}
}

// Load reads configuration from an optional JSON file, fills gaps from the
// environment, applies defaults, and validates the result.
// Returns a *ValidationError when the merged configuration is invalid.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	cfg.fillFromEnv()
	cfg = cfg.mergeDefaults(Defaults())

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fillFromEnv populates credentials and connection strings that were not set in
// the config file. Environment never overrides an explicit file value.
func (c *Config) fillFromEnv() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = os.Getenv("SELLER_API_URL")
	}
	if c.APIClientID == "" {
		c.APIClientID = os.Getenv("SELLER_CLIENT_ID")
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("SELLER_API_KEY")
	}
	if c.LockDir == "" {
		c.LockDir = os.Getenv("MARKETSYNC_LOCK_DIR")
	}
}

// mergeDefaults returns a copy with zero-valued optional fields filled from defaults.
func (c Config) mergeDefaults(d Config) Config {
	out := c
	if out.LockDir == "" {
		out.LockDir = d.LockDir
	}
	if out.BatchSize == 0 {
		out.BatchSize = d.BatchSize
	}
	if out.PageSize == 0 {
		out.PageSize = d.PageSize
	}
	if out.PollIntervalSec == 0 {
		out.PollIntervalSec = d.PollIntervalSec
	}
	if out.MaxWaitSec == 0 {
		out.MaxWaitSec = d.MaxWaitSec
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = d.MaxRetries
	}
	if out.RetryDelaySec == 0 {
		out.RetryDelaySec = d.RetryDelaySec
	}
	if out.QualityFloor == 0 {
		out.QualityFloor = d.QualityFloor
	}
	if out.SalesLookbackDays == 0 {
		out.SalesLookbackDays = d.SalesLookbackDays
	}
	// MaxRefreshShrink: zero is meaningful (guard disabled), so no default merge.
	return out
}

// Validate checks field bounds and cross-field constraints before any network
// or database activity happens.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if invalid, ok := err.(*validator.InvalidValidationError); ok {
			return fmt.Errorf("config validation: %w", invalid)
		}
		verrs := err.(validator.ValidationErrors)
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return &ValidationError{Fields: fields}
	}

	if c.MaxWaitSec < c.PollIntervalSec {
		return &ValidationError{Fields: []string{
			fmt.Sprintf("MaxWaitSec (%d) must be >= PollIntervalSec (%d)", c.MaxWaitSec, c.PollIntervalSec),
		}}
	}
	return nil
}

// PollInterval returns the report poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// MaxWait returns the report wait budget as a duration.
func (c Config) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSec) * time.Second
}

// RetryDelay returns the delay between stage retry attempts.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}
