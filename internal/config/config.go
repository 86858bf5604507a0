package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"labhub/internal/common"
	apperrors "labhub/pkg/errors"
	"labhub/pkg/models"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override, e.g. LABHUB_WAREHOUSE_PATH
	EnvPrefix = "LABHUB"
	// ConfigEnv points at an explicit config file
	ConfigEnv  = "LABHUB_CONFIG"
	configName = "labhub"
	dateLayout = "2006-01-02"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func GetConfigPath() string {
	if configPath := os.Getenv(ConfigEnv); configPath != "" {
		return filepath.Dir(configPath)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".labhub")
}

func GetConfigFile() string {
	if configFile := os.Getenv(ConfigEnv); configFile != "" {
		cleaned, err := common.CleanPath(configFile)
		if err != nil {
			return filepath.Join(GetConfigPath(), configName+".yaml")
		}
		return cleaned
	}
	return filepath.Join(GetConfigPath(), configName+".yaml")
}

// SetDefaults registers every key so that LABHUB_* environment variables
// are honoured even when the file omits the key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.driver", "sqlserver")
	v.SetDefault("source.dsn", "")
	v.SetDefault("source.host", "localhost")
	v.SetDefault("source.port", 1433)
	v.SetDefault("source.database", "")
	v.SetDefault("source.username", "")
	v.SetDefault("source.password", "")
	v.SetDefault("source.encrypt", "")
	v.SetDefault("source.connect_timeout", "30s")

	v.SetDefault("warehouse.driver", "duckdb")
	v.SetDefault("warehouse.dsn", "")
	v.SetDefault("warehouse.path", "labhub.duckdb")
	v.SetDefault("warehouse.host", "")
	v.SetDefault("warehouse.port", 0)
	v.SetDefault("warehouse.database", "")
	v.SetDefault("warehouse.username", "")
	v.SetDefault("warehouse.password", "")
	v.SetDefault("warehouse.account", "")
	v.SetDefault("warehouse.role", "")
	v.SetDefault("warehouse.warehouse", "")
	v.SetDefault("warehouse.schema", "dw")
	v.SetDefault("warehouse.lock_key", "labhub-refresh")
	v.SetDefault("warehouse.lock_ttl", "6h")
	v.SetDefault("warehouse.connect_timeout", "30s")

	v.SetDefault("enrichment.descriptions_file", "")

	v.SetDefault("pipeline.batch_size", 1000)
	v.SetDefault("pipeline.default_date_start", "2025-01-01")
	v.SetDefault("pipeline.default_date_end", "2026-01-30")
	v.SetDefault("pipeline.refresh_views", true)
	v.SetDefault("pipeline.inspect", false)
	v.SetDefault("pipeline.timeout", "")

	v.SetDefault("quarantine.archive_dir", "")
	v.SetDefault("quarantine.s3.enabled", false)
	v.SetDefault("quarantine.s3.bucket", "")
	v.SetDefault("quarantine.s3.prefix", "quarantine/")
	v.SetDefault("quarantine.s3.region", "")
	v.SetDefault("quarantine.s3.endpoint", "")
	v.SetDefault("quarantine.s3.path_style", false)

	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.listen", ":9108")

	v.SetDefault("history.path", filepath.Join(GetConfigPath(), "history.db"))
	v.SetDefault("history.max_runs", 500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.service", "labhub")
}

// Default returns the configuration used when no file exists
func Default() *models.Config {
	v := viper.New()
	SetDefaults(v)
	var cfg models.Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from path, or searches ./labhub.yaml and
// ~/.labhub/labhub.yaml when path is empty. Environment variables override
// file values. A missing file is not an error when searching.
func Load(path string) (*models.Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(ConfigEnv)
	}

	if path != "" {
		cleaned, err := common.CleanPath(path)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid config file path").
				WithContext("path", path)
		}
		v.SetConfigFile(cleaned)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		v.AddConfigPath(GetConfigPath())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			// defaults and environment only
		case os.IsNotExist(err):
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigNotFound, "config file not found").
				WithContext("path", path).
				WithSuggestions("Run 'labhub config init' to create one")
		default:
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "failed to read config file").
				WithContext("path", v.ConfigFileUsed())
		}
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "failed to unmarshal config")
	}

	return &cfg, nil
}

// Validate checks the values the pipeline relies on
func Validate(cfg *models.Config) error {
	switch cfg.Source.Driver {
	case "sqlserver", "postgres":
	default:
		return apperrors.ConfigError(fmt.Sprintf("unsupported source driver %q", cfg.Source.Driver), "source.driver").
			WithSuggestions("Use 'sqlserver' or 'postgres'")
	}
	if cfg.Source.DSN == "" && (cfg.Source.Host == "" || cfg.Source.Database == "") {
		return apperrors.ConfigError("source requires either dsn or host and database", "source.host")
	}

	switch cfg.Warehouse.Driver {
	case "duckdb":
		if cfg.Warehouse.DSN == "" && cfg.Warehouse.Path == "" {
			return apperrors.ConfigError("duckdb warehouse requires a path", "warehouse.path")
		}
	case "postgres":
		if cfg.Warehouse.DSN == "" && cfg.Warehouse.Host == "" {
			return apperrors.ConfigError("postgres warehouse requires dsn or host", "warehouse.host")
		}
	case "snowflake":
		if cfg.Warehouse.DSN == "" && cfg.Warehouse.Account == "" {
			return apperrors.ConfigError("snowflake warehouse requires an account", "warehouse.account")
		}
	default:
		return apperrors.ConfigError(fmt.Sprintf("unsupported warehouse driver %q", cfg.Warehouse.Driver), "warehouse.driver").
			WithSuggestions("Use 'duckdb', 'postgres' or 'snowflake'")
	}

	if !identifierPattern.MatchString(cfg.Warehouse.Schema) {
		return apperrors.ConfigError(fmt.Sprintf("invalid warehouse schema name %q", cfg.Warehouse.Schema), "warehouse.schema")
	}
	if cfg.Warehouse.LockKey == "" {
		return apperrors.ConfigError("lock key must not be empty", "warehouse.lock_key")
	}

	if cfg.Pipeline.BatchSize <= 0 {
		return apperrors.ConfigError("batch size must be positive", "pipeline.batch_size")
	}
	start, err := time.Parse(dateLayout, cfg.Pipeline.DefaultDateStart)
	if err != nil {
		return apperrors.ConfigError("default_date_start must be YYYY-MM-DD", "pipeline.default_date_start")
	}
	end, err := time.Parse(dateLayout, cfg.Pipeline.DefaultDateEnd)
	if err != nil {
		return apperrors.ConfigError("default_date_end must be YYYY-MM-DD", "pipeline.default_date_end")
	}
	if end.Before(start) {
		return apperrors.ConfigError("default date range is reversed", "pipeline.default_date_end")
	}
	if cfg.Pipeline.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Pipeline.Timeout); err != nil {
			return apperrors.ConfigError("pipeline timeout must be a duration such as 30m", "pipeline.timeout")
		}
	}

	for i, check := range cfg.Pipeline.Checks {
		field := fmt.Sprintf("pipeline.checks[%d]", i)
		if check.Name == "" || check.Query == "" {
			return apperrors.ConfigError("custom checks need a name and a query", field)
		}
		if check.Scope != "dimensions" && check.Scope != "facts" {
			return apperrors.ConfigError(fmt.Sprintf("check %q has invalid scope %q", check.Name, check.Scope), field+".scope")
		}
	}

	if cfg.Quarantine.S3.Enabled && cfg.Quarantine.S3.Bucket == "" {
		return apperrors.ConfigError("s3 upload enabled without a bucket", "quarantine.s3.bucket")
	}

	return nil
}

// Save writes cfg as YAML to path, or to GetConfigFile when path is empty
func Save(cfg *models.Config, path string) error {
	if path == "" {
		path = GetConfigFile()
	}

	cleaned, err := common.CleanPath(path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid config file path")
	}

	if err := os.MkdirAll(filepath.Dir(cleaned), common.DirPermissionSecure); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigPermission, "failed to create config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "failed to marshal config")
	}

	if err := os.WriteFile(cleaned, data, common.FilePermissionSecure); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigPermission, "failed to write config file").
			WithContext("path", cleaned)
	}

	return nil
}

// Exists reports whether a configuration file is present at path, or at the
// default location when path is empty
func Exists(path string) bool {
	if path == "" {
		path = GetConfigFile()
	}
	_, err := os.Stat(path)
	return err == nil
}
