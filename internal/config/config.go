package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Calibre CalibreConfig `mapstructure:"calibre"`
	WebUI   WebUIConfig   `mapstructure:"webui"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Cron    CronConfig    `mapstructure:"cron"`
	Log     LogConfig     `mapstructure:"log"`
}

type AppConfig struct {
	SecretKey string `mapstructure:"secret_key"`
}

type ServerConfig struct {
	HTTPAddr    string `mapstructure:"http_addr" validate:"required"`
	PageSize    int    `mapstructure:"page_size" validate:"gtefield=MinPageSize,ltefield=MaxPageSize"`
	MinPageSize int    `mapstructure:"min_page_size" validate:"min=1"`
	MaxPageSize int    `mapstructure:"max_page_size" validate:"gtefield=MinPageSize"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb" validate:"min=1"`
}

type CalibreConfig struct {
	LibraryPath        string   `mapstructure:"library_path" validate:"required,dir"`
	CalibredbBin       string   `mapstructure:"calibredb_bin" validate:"required"`
	ConvertBin         string   `mapstructure:"convert_bin" validate:"required"`
	FetchMetadataBin   string   `mapstructure:"fetch_metadata_bin" validate:"required"`
	TempDir            string   `mapstructure:"temp_dir" validate:"required"`
	UploadFormats      []string `mapstructure:"upload_formats" validate:"min=1"`
	ConvertFormats     []string `mapstructure:"convert_formats" validate:"min=1"`
	PreferredFormat    string   `mapstructure:"preferred_format"`
	FetchRatePerMinute int      `mapstructure:"fetch_rate_per_minute" validate:"min=0"`
}

type WebUIConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type JobsConfig struct {
	Workers      int  `mapstructure:"workers" validate:"min=1"`
	QueueSize    int  `mapstructure:"queue_size" validate:"min=0"`
	ClearOnStart bool `mapstructure:"clear_on_start"`
}

type AuthConfig struct {
	Username     string        `mapstructure:"username" validate:"required_with=PasswordHash"`
	PasswordHash string        `mapstructure:"password_hash"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" validate:"min=1m"`
}

// Enabled reports whether mutations require an operator login
func (a AuthConfig) Enabled() bool {
	return a.PasswordHash != ""
}

type CronConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ScratchSweep  string        `mapstructure:"scratch_sweep" validate:"required_if=Enabled true"`
	ScratchMaxAge time.Duration `mapstructure:"scratch_max_age" validate:"min=1m"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding" validate:"oneof=console json"`
	Development bool   `mapstructure:"development"`
}

var (
	defaultUploadFormats = []string{
		"TXT", "PDF", "EPUB", "MOBI", "AZW", "AZW3", "CBR", "CBZ", "CBT",
		"DJVU", "PRC", "DOC", "DOCX", "FB2", "HTML", "RTF", "ODT",
	}
	defaultConvertFormats = []string{
		"PDF", "EPUB", "MOBI", "AZW3", "DOCX", "RTF", "FB2", "LIT", "LRF", "TXT", "HTMLZ",
	}
)

// Load reads configuration from CWUI_* environment variables and, when
// path names an existing file, from that YAML file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CWUI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.secret_key", "")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.page_size", 30)
	v.SetDefault("server.min_page_size", 12)
	v.SetDefault("server.max_page_size", 120)
	v.SetDefault("server.max_upload_mb", 200)
	v.SetDefault("calibre.library_path", "")
	v.SetDefault("calibre.calibredb_bin", "calibredb")
	v.SetDefault("calibre.convert_bin", "ebook-convert")
	v.SetDefault("calibre.fetch_metadata_bin", "fetch-ebook-metadata")
	v.SetDefault("calibre.temp_dir", filepath.Join(os.TempDir(), "calibrewebui"))
	v.SetDefault("calibre.upload_formats", defaultUploadFormats)
	v.SetDefault("calibre.convert_formats", defaultConvertFormats)
	v.SetDefault("calibre.preferred_format", "MOBI")
	v.SetDefault("calibre.fetch_rate_per_minute", 10)
	v.SetDefault("webui.db_path", "")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 32)
	v.SetDefault("jobs.clear_on_start", true)
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password_hash", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.scratch_sweep", "@every 1h")
	v.SetDefault("cron.scratch_max_age", "6h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", false)

	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.Calibre.UploadFormats = upper(cfg.Calibre.UploadFormats)
	cfg.Calibre.ConvertFormats = upper(cfg.Calibre.ConvertFormats)
	cfg.Calibre.PreferredFormat = strings.ToUpper(cfg.Calibre.PreferredFormat)
	if cfg.WebUI.DBPath == "" {
		cfg.WebUI.DBPath = cfg.Calibre.LibraryPath
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func upper(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
