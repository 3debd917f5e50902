// Package config defines the figma-slides server configuration and loads it
// from YAML or TOML files with environment variable expansion.
package config

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kataras/figma-slides/pkg/contenthash"
	"github.com/kataras/figma-slides/pkg/discovery"
	"github.com/kataras/figma-slides/pkg/figma"
	"github.com/kataras/figma-slides/pkg/syncer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Blob backend types.
const (
	BlobTypeFS     = "fs"
	BlobTypeMemory = "memory"
	BlobTypeS3     = "s3"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app" toml:"app"`
	Figma   FigmaConfig       `yaml:"figma" toml:"figma"`
	SQLite  SQLiteConfig      `yaml:"sqlite" toml:"sqlite"`
	Blob    BlobConfig        `yaml:"blob" toml:"blob"`
	Polling PollingConfig     `yaml:"polling" toml:"polling"`
	Auth    AuthConfig        `yaml:"auth" toml:"auth"`
	CORS    CORSConfig        `yaml:"cors" toml:"cors"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    Validator
	}{
		{"app", &c.App},
		{"figma", &c.Figma},
		{"sqlite", &c.SQLite},
		{"blob", &c.Blob},
		{"polling", &c.Polling},
		{"auth", &c.Auth},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level" toml:"log_level"`
	LogFormat string     `yaml:"log_format" toml:"log_format"`
	HTTP      HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// FigmaConfig configures the Figma client and the sync engine.
//
// Token is used as is. When TokenURL is set instead, the token is fetched from
// that endpoint before every operation.
type FigmaConfig struct {
	Token          string        `yaml:"token" toml:"token"`
	TokenURL       string        `yaml:"token_url" toml:"token_url"`
	APIBase        string        `yaml:"api_base" toml:"api_base"`
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries" toml:"max_retries"`
	NodeDepth      int           `yaml:"node_depth" toml:"node_depth"`
	BatchSize      int           `yaml:"batch_size" toml:"batch_size"`
	MinSlideWidth  float64       `yaml:"min_slide_width" toml:"min_slide_width"`
	MinSlideHeight float64       `yaml:"min_slide_height" toml:"min_slide_height"`
	ImageFormat    string        `yaml:"image_format" toml:"image_format"`
	ImageScale     float64       `yaml:"image_scale" toml:"image_scale"`
	HashAlgorithm  string        `yaml:"hash_algorithm" toml:"hash_algorithm"`
}

// Validate validates the Figma configuration.
func (c *FigmaConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIBase, validation.Required),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.NodeDepth, validation.Required, validation.Min(1)),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.MinSlideWidth, validation.Min(0.0)),
		validation.Field(&c.MinSlideHeight, validation.Min(0.0)),
		validation.Field(&c.ImageFormat, validation.Required, validation.In("png", "jpg", "svg", "pdf")),
		validation.Field(&c.ImageScale, validation.Required, validation.Min(0.01), validation.Max(4.0)),
		validation.Field(&c.HashAlgorithm, validation.In(contenthash.AlgorithmFold32, contenthash.AlgorithmXXHash)),
	)
}

// MinSlideSize returns the size filter used when detecting new slides.
func (c *FigmaConfig) MinSlideSize() discovery.MinSize {
	return discovery.MinSize{Width: c.MinSlideWidth, Height: c.MinSlideHeight}
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// BlobConfig selects where slide images are stored.
// Type determines which other fields are relevant.
type BlobConfig struct {
	Type   string `yaml:"type" toml:"type"`
	FSRoot string `yaml:"fs_root" toml:"fs_root"`

	S3Bucket    string `yaml:"s3_bucket" toml:"s3_bucket"`
	S3Prefix    string `yaml:"s3_prefix" toml:"s3_prefix"`
	S3Region    string `yaml:"s3_region" toml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint" toml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key" toml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key" toml:"s3_secret_key"`

	SignedURLTTL time.Duration `yaml:"signed_url_ttl" toml:"signed_url_ttl"`
}

// Validate validates the blob configuration.
func (c *BlobConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Type, validation.Required, validation.In(BlobTypeFS, BlobTypeMemory, BlobTypeS3)),
		validation.Field(&c.FSRoot, validation.When(c.Type == BlobTypeFS, validation.Required)),
		validation.Field(&c.S3Bucket, validation.When(c.Type == BlobTypeS3, validation.Required)),
		validation.Field(&c.S3Region, validation.When(c.Type == BlobTypeS3, validation.Required)),
		validation.Field(&c.S3SecretKey, validation.When(c.S3AccessKey != "", validation.Required)),
		validation.Field(&c.SignedURLTTL, validation.Min(time.Duration(0))),
	)
}

// PollingConfig configures the per-file sync sessions.
type PollingConfig struct {
	Interval time.Duration `yaml:"interval" toml:"interval"`
	Cooldown time.Duration `yaml:"cooldown" toml:"cooldown"`
}

// Validate validates the polling configuration.
func (c *PollingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Cooldown, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Figma: FigmaConfig{
			APIBase:        figma.DefaultBaseURL,
			RequestTimeout: figma.DefaultRequestTimeout,
			MaxRetries:     2,
			NodeDepth:      syncer.DefaultNodeDepth,
			BatchSize:      syncer.DefaultBatchSize,
			MinSlideWidth:  discovery.SlideSize.Width,
			MinSlideHeight: discovery.SlideSize.Height,
			ImageFormat:    syncer.DefaultImageFormat,
			ImageScale:     syncer.DefaultImageScale,
			HashAlgorithm:  contenthash.AlgorithmFold32,
		},
		SQLite: SQLiteConfig{
			Path: "./figma-slides.db",
		},
		Blob: BlobConfig{
			Type:         BlobTypeFS,
			FSRoot:       "./data/slides",
			SignedURLTTL: 15 * time.Minute,
		},
		Polling: PollingConfig{
			Interval: 30 * time.Second,
			Cooldown: 5 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}
