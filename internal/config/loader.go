package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/encoding/ini"
	"github.com/spf13/viper"

	"github.com/blitzstack/statmill/internal/wgapi"
	"github.com/blitzstack/statmill/internal/wotinspector"
)

// configName is the config file name without extension.
const configName = "statmill"

// configType is the config file format.
const configType = "ini"

// envPrefix is the environment variable prefix for statmill settings.
const envPrefix = "STATMILL"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	// viper dropped its built-in INI decoder in v1.20, so the codec has to
	// be registered explicitly.
	codecs := viper.NewCodecRegistry()
	if err := codecs.RegisterCodec(configType, ini.Codec{}); err != nil {
		return nil, fmt.Errorf("register config codec: %w", err)
	}

	viperCfg := viper.NewWithOptions(viper.WithCodecRegistry(codecs))

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("general.backend", "mongodb")
	viperCfg.SetDefault("general.cache_valid", 24*time.Hour)
	viperCfg.SetDefault("general.inactive_after", 90*24*time.Hour)

	viperCfg.SetDefault("wg.wg_app_id", "")
	viperCfg.SetDefault("wg.rate_limit", wgapi.DefaultRateLimit)
	viperCfg.SetDefault("wg.api_workers", wgapi.DefaultWorkers)
	viperCfg.SetDefault("wg.retries", wgapi.DefaultRetries)
	viperCfg.SetDefault("wg.timeout", wgapi.DefaultTimeout)

	viperCfg.SetDefault("wotinspector.rate_limit", wotinspector.DefaultRateLimit)
	viperCfg.SetDefault("wotinspector.max_pages", wotinspector.DefaultMaxPages)
	viperCfg.SetDefault("wotinspector.workers", wotinspector.DefaultWorkers)
	viperCfg.SetDefault("wotinspector.auth_token", "")
	viperCfg.SetDefault("wotinspector.timeout", wotinspector.DefaultTimeout)

	viperCfg.SetDefault("accounts.import_format", "txt")
	viperCfg.SetDefault("accounts.export_format", "json")
	viperCfg.SetDefault("accounts.export_file", "accounts.json")

	viperCfg.SetDefault("tank_stats.export_format", "json")
	viperCfg.SetDefault("tank_stats.export_file", "tank_stats.json")
	viperCfg.SetDefault("tank_stats.export_data_format", "json.lz4")
	viperCfg.SetDefault("tank_stats.export_data_file", "data")
	viperCfg.SetDefault("tank_stats.workers", 4)

	viperCfg.SetDefault("database.uri", "mongodb://localhost:27017")
	viperCfg.SetDefault("database.database", "BlitzStats")
}
