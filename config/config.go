package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/ocr-gateway/internal/httpserver"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	FormatDeepSeek = "deepseek"
	FormatMinerU   = "mineru"
)

const DefaultEnvFile = ".env"

type ServerConfig struct {
	Address        string `mapstructure:"address" json:"address"`
	Environment    string `mapstructure:"environment" json:"environment"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" json:"max_upload_bytes"`
	TempDir        string `mapstructure:"temp_dir" json:"temp_dir"`
}

type HealthCheckConfig struct {
	Interval         time.Duration `mapstructure:"interval" json:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" json:"success_threshold"`
}

type TimeoutConfig struct {
	OCRRequest time.Duration `mapstructure:"ocr_request" json:"ocr_request"`
	Connection time.Duration `mapstructure:"connection" json:"connection"`
}

type EndpointConfig struct {
	Health   string `mapstructure:"health" json:"health"`
	ImageOCR string `mapstructure:"image_ocr" json:"image_ocr"`
	PDFOCR   string `mapstructure:"pdf_ocr" json:"pdf_ocr"`
}

type BackendConfig struct {
	ID          string         `mapstructure:"id" json:"id"`
	URL         string         `mapstructure:"url" json:"url"`
	Description string         `mapstructure:"description" json:"description"`
	GPU         string         `mapstructure:"gpu" json:"gpu"`
	Format      string         `mapstructure:"format" json:"format"`
	Endpoints   EndpointConfig `mapstructure:"endpoints" json:"endpoints"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level" json:"level"`
	AddSource bool   `mapstructure:"add_source" json:"add_source"`
}

type OverlayConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size" json:"buffer_size"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server" json:"server"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check" json:"health_check"`
	Timeouts    TimeoutConfig     `mapstructure:"timeouts" json:"timeouts"`
	Backends    []BackendConfig   `mapstructure:"backends" json:"backends"`
	CORS        CORSConfig        `mapstructure:"cors" json:"cors"`
	Logging     LoggingConfig     `mapstructure:"logging" json:"logging"`
	Overlay     OverlayConfig     `mapstructure:"overlay" json:"overlay"`
	Metrics     MetricsConfig     `mapstructure:"metrics" json:"metrics"`
}

// LoadOptions points Load at explicit files. Empty fields mean "search the
// usual places".
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_upload_bytes", 100<<20)
	v.SetDefault("server.temp_dir", "")

	v.SetDefault("health_check.interval", "30s")
	v.SetDefault("health_check.timeout", "10s")
	v.SetDefault("health_check.failure_threshold", 3)
	v.SetDefault("health_check.success_threshold", 2)

	v.SetDefault("timeouts.ocr_request", "120s")
	v.SetDefault("timeouts.connection", "5s")

	v.SetDefault("backends", []map[string]any{
		{
			"id":          "deepseek-ocr",
			"url":         "http://localhost:5000",
			"description": "DeepSeek-OCR: vision-language OCR with bounding boxes",
			"gpu":         "RTX 3090 #1",
			"format":      FormatDeepSeek,
		},
		{
			"id":          "mineru",
			"url":         "http://localhost:5001",
			"description": "MinerU: document layout analysis and structured extraction",
			"gpu":         "RTX 3090 #2",
			"format":      FormatMinerU,
		},
	})

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)
	v.SetDefault("overlay.enabled", true)
	v.SetDefault("metrics.buffer_size", 1000)
}

// Load reads the configuration. Environment variables win over the file, with
// dots replaced by underscores (HEALTH_CHECK_INTERVAL=10s).
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		slog.Error("failed to read env file", slog.String("error", err.Error()))
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// loadEnvFile exports the variables of path into the process environment
// without overriding ones already set. The default file is optional; an
// explicit one must exist.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(httpserver.ValidateAddress),
					),
					validation.Field(&sc.MaxUploadBytes,
						validation.Required,
						validation.Min(int64(1)),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Timeouts,
			validation.Required,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TimeoutConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TimeoutConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.OCRRequest, validation.Required, validation.Min(time.Second)),
					validation.Field(&tc.Connection, validation.Required, validation.Min(time.Millisecond)),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.Required, validation.Min(100*time.Millisecond)),
					validation.Field(&hc.Timeout,
						validation.Required,
						validation.Min(time.Millisecond),
						validation.Max(c.Timeouts.OCRRequest).Exclusive().
							Error("must be shorter than timeouts.ocr_request"),
					),
					validation.Field(&hc.FailureThreshold, validation.Required, validation.Min(1)),
					validation.Field(&hc.SuccessThreshold, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
			validation.By(validateUniqueIDs),
		),
		validation.Field(&c.CORS,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CORSConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CORSConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.AllowedOrigins, validation.Each(validation.By(validateOrigin))),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Min(1)),
				)
			}),
		),
	)
}

func validateBackendConfig(value interface{}) error {
	bc, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	return validation.ValidateStruct(&bc,
		validation.Field(&bc.ID, validation.Required),
		validation.Field(&bc.URL, validation.Required, validation.By(validateServerURL)),
		validation.Field(&bc.Format, validation.Required, validation.In(FormatDeepSeek, FormatMinerU)),
		validation.Field(&bc.Endpoints, validation.By(func(value interface{}) error {
			ec, ok := value.(EndpointConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be an EndpointConfig")
			}
			return validation.ValidateStruct(&ec,
				validation.Field(&ec.Health, validation.By(validatePath)),
				validation.Field(&ec.ImageOCR, validation.By(validatePath)),
				validation.Field(&ec.PDFOCR, validation.By(validatePath)),
			)
		})),
	)
}

func validateUniqueIDs(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of backends")
	}

	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		if _, dup := seen[b.ID]; dup {
			return validation.NewError("validation_duplicate_id", fmt.Sprintf("duplicate backend id %q", b.ID))
		}
		seen[b.ID] = struct{}{}
	}
	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateOrigin(value interface{}) error {
	origin, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if origin == "*" {
		return nil
	}
	return validateServerURL(origin)
}

func validatePath(value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}
	return nil
}
