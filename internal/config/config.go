// Package config loads the statmill configuration file: an INI file with
// one section per subsystem, overridable through STATMILL_* environment
// variables. Missing file is not an error; defaults apply.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/blitzstack/statmill/internal/wgapi"
	"github.com/blitzstack/statmill/internal/wotinspector"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// accountFileFormats are the supported account import/export extensions.
var accountFileFormats = map[string]bool{"txt": true, "csv": true, "json": true}

// Config is the full configuration tree.
type Config struct {
	General      General           `mapstructure:"general"`
	WG           WG                `mapstructure:"wg"`
	WOTInspector WOTInspector      `mapstructure:"wotinspector"`
	Accounts     Accounts          `mapstructure:"accounts"`
	TankStats    TankStats         `mapstructure:"tank_stats"`
	Database     map[string]string `mapstructure:"database"`
}

// General is the [GENERAL] section.
type General struct {
	// Backend is the default backend driver name.
	Backend string `mapstructure:"backend"`
	// CacheValid is how long fetched stats are considered fresh; accounts
	// updated more recently are skipped by default.
	CacheValid time.Duration `mapstructure:"cache_valid"`
	// InactiveAfter is the no-new-battles window after which accounts are
	// marked inactive.
	InactiveAfter time.Duration `mapstructure:"inactive_after"`
}

// WG is the [WG] section, the upstream stats API client settings.
type WG struct {
	AppID     string        `mapstructure:"wg_app_id"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Workers   int           `mapstructure:"api_workers"`
	Retries   int           `mapstructure:"retries"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Client returns the API client config for this section.
func (w WG) Client() wgapi.Config {
	return wgapi.Config{
		AppID:     w.AppID,
		RateLimit: w.RateLimit,
		Workers:   w.Workers,
		Retries:   w.Retries,
		Timeout:   w.Timeout,
	}
}

// WOTInspector is the [WOTINSPECTOR] section, the replay site client
// settings.
type WOTInspector struct {
	RateLimit float64       `mapstructure:"rate_limit"`
	MaxPages  int           `mapstructure:"max_pages"`
	Workers   int           `mapstructure:"workers"`
	AuthToken string        `mapstructure:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Client returns the replay client config for this section.
func (w WOTInspector) Client() wotinspector.Config {
	return wotinspector.Config{
		RateLimit: w.RateLimit,
		MaxPages:  w.MaxPages,
		Workers:   w.Workers,
		AuthToken: w.AuthToken,
		Timeout:   w.Timeout,
	}
}

// Accounts is the [ACCOUNTS] section.
type Accounts struct {
	ImportFormat string `mapstructure:"import_format"`
	ExportFormat string `mapstructure:"export_format"`
	ExportFile   string `mapstructure:"export_file"`
}

// TankStats is the [TANK_STATS] section. ExportDataFile is a directory:
// the columnar export writes one file per release and tank under it.
type TankStats struct {
	ExportFormat     string `mapstructure:"export_format"`
	ExportFile       string `mapstructure:"export_file"`
	ExportDataFormat string `mapstructure:"export_data_format"`
	ExportDataFile   string `mapstructure:"export_data_file"`
	Workers          int    `mapstructure:"workers"`
}

// Validate checks the loaded values. Driver existence is checked at open
// time, not here.
func (c *Config) Validate() error {
	if c.General.Backend == "" {
		return fmt.Errorf("%w: general.backend is empty", ErrInvalid)
	}

	if c.WG.RateLimit < 0 {
		return fmt.Errorf("%w: wg.rate_limit is negative", ErrInvalid)
	}

	if c.WG.Workers < 0 {
		return fmt.Errorf("%w: wg.api_workers is negative", ErrInvalid)
	}

	if c.WOTInspector.RateLimit < 0 {
		return fmt.Errorf("%w: wotinspector.rate_limit is negative", ErrInvalid)
	}

	if c.WOTInspector.MaxPages < 1 {
		return fmt.Errorf("%w: wotinspector.max_pages must be positive", ErrInvalid)
	}

	if !accountFileFormats[c.Accounts.ImportFormat] {
		return fmt.Errorf("%w: accounts.import_format %q", ErrInvalid, c.Accounts.ImportFormat)
	}

	if !accountFileFormats[c.Accounts.ExportFormat] {
		return fmt.Errorf("%w: accounts.export_format %q", ErrInvalid, c.Accounts.ExportFormat)
	}

	return nil
}
