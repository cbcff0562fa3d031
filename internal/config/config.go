package config

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Zoning    ZoningConfig    `yaml:"zoning" mapstructure:"zoning"`
	Historic  HistoricConfig  `yaml:"historic" mapstructure:"historic"`
	Character CharacterConfig `yaml:"character" mapstructure:"character"`
	Render    RenderConfig    `yaml:"render" mapstructure:"render"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the input datasets. Relative file names are resolved
// against Dir.
type DataConfig struct {
	Dir               string `yaml:"dir" mapstructure:"dir"`
	Lots              string `yaml:"lots" mapstructure:"lots"`
	Zoning            string `yaml:"zoning" mapstructure:"zoning"`
	HistoricState     string `yaml:"historic_state" mapstructure:"historic_state"`
	HistoricNational  string `yaml:"historic_national" mapstructure:"historic_national"`
	HistoricRegister  string `yaml:"historic_register" mapstructure:"historic_register"`
	HistoricLocal     string `yaml:"historic_local" mapstructure:"historic_local"`
	HistoricLandmarks string `yaml:"historic_landmarks" mapstructure:"historic_landmarks"`
	Buildings         string `yaml:"buildings" mapstructure:"buildings"`
}

// Path resolves a dataset file name against the data directory.
func (d DataConfig) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Dir, name)
}

// Files returns the configured file name of every dataset, keyed by
// dataset name.
func (d DataConfig) Files() map[string]string {
	return map[string]string{
		"lots":               d.Lots,
		"zoning":             d.Zoning,
		"historic_state":     d.HistoricState,
		"historic_national":  d.HistoricNational,
		"historic_register":  d.HistoricRegister,
		"historic_local":     d.HistoricLocal,
		"historic_landmarks": d.HistoricLandmarks,
		"buildings":          d.Buildings,
	}
}

// ZoningConfig configures the zoning stage.
type ZoningConfig struct {
	ResidentialCategories []string `yaml:"residential_categories" mapstructure:"residential_categories"`
}

// HistoricConfig configures the historic-designation stage.
type HistoricConfig struct {
	// IncludeLandmarks makes a local landmark match count toward is_historic.
	// Off by default so results match the published map.
	IncludeLandmarks bool `yaml:"include_landmarks" mapstructure:"include_landmarks"`
}

// CharacterConfig configures the neighborhood-character stage.
type CharacterConfig struct {
	ThresholdFt float64 `yaml:"threshold_ft" mapstructure:"threshold_ft"`
}

// RenderConfig configures the choropleth output.
type RenderConfig struct {
	DPI     int     `yaml:"dpi" mapstructure:"dpi"`
	WidthIn float64 `yaml:"width_in" mapstructure:"width_in"`
	Title   string  `yaml:"title" mapstructure:"title"`
}

// StoreConfig configures the run-history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FetchConfig configures dataset downloads. Sources maps a dataset name
// (lots, zoning, historic_state, ...) to its published URL.
type FetchConfig struct {
	Sources     map[string]string `yaml:"sources" mapstructure:"sources"`
	RatePerSec  float64           `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int               `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int               `yaml:"max_retries" mapstructure:"max_retries"`
	Concurrency int               `yaml:"concurrency" mapstructure:"concurrency"`
}

// MetricsConfig configures the prometheus textfile written after a run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PARCELRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.lots", "lots.geojson")
	v.SetDefault("data.zoning", "zoning.geojson")
	v.SetDefault("data.historic_state", "historic_state.geojson")
	v.SetDefault("data.historic_national", "historic_national.geojson")
	v.SetDefault("data.historic_register", "historic.geojson")
	v.SetDefault("data.historic_local", "historic_local.geojson")
	v.SetDefault("data.historic_landmarks", "historic_local_landmarks.geojson")
	v.SetDefault("data.buildings", "buildings.geojson")
	v.SetDefault("zoning.residential_categories", []string{"Mixed Use", "Residential", "Mixed"})
	v.SetDefault("historic.include_landmarks", false)
	v.SetDefault("character.threshold_ft", 10.0)
	v.SetDefault("render.dpi", 1000)
	v.SetDefault("render.width_in", 6.4)
	v.SetDefault("render.title", "Demolition bill - effects on new housing")
	v.SetDefault("fetch.rate_per_sec", 2.0)
	v.SetDefault("fetch.timeout_secs", 300)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("store.driver", "none")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a command mode depends on. Mode is one of
// "run", "validate", "fetch", "runs" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		errs = append(errs, c.validateData()...)
		if c.Character.ThresholdFt < 0 {
			errs = append(errs, "character.threshold_ft must be >= 0")
		}
		if c.Render.DPI <= 0 {
			errs = append(errs, "render.dpi must be > 0")
		}
		if c.Render.WidthIn <= 0 {
			errs = append(errs, "render.width_in must be > 0")
		}
		if len(c.Zoning.ResidentialCategories) == 0 {
			errs = append(errs, "zoning.residential_categories must not be empty")
		}
		errs = append(errs, c.validateStore(false)...)
	case "validate":
		errs = append(errs, c.validateData()...)
	case "fetch":
		errs = append(errs, c.validateData()...)
		errs = append(errs, c.validateFetch()...)
	case "runs":
		errs = append(errs, c.validateStore(true)...)
	case "serve":
		errs = append(errs, c.validateStore(true)...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateData() []string {
	var errs []string
	for key, val := range c.Data.Files() {
		if val == "" {
			errs = append(errs, "data."+key+" is required")
		}
	}
	sort.Strings(errs)
	return errs
}

func (c *Config) validateFetch() []string {
	var errs []string
	if len(c.Fetch.Sources) == 0 {
		errs = append(errs, "fetch.sources must not be empty")
	}
	known := c.Data.Files()
	for name, url := range c.Fetch.Sources {
		if _, ok := known[name]; !ok {
			errs = append(errs, "fetch.sources."+name+" is not a dataset")
		} else if url == "" {
			errs = append(errs, "fetch.sources."+name+" has no url")
		}
	}
	if c.Fetch.RatePerSec <= 0 {
		errs = append(errs, "fetch.rate_per_sec must be > 0")
	}
	if c.Fetch.MaxRetries < 1 {
		errs = append(errs, "fetch.max_retries must be >= 1")
	}
	if c.Fetch.Concurrency < 0 {
		errs = append(errs, "fetch.concurrency must be >= 0")
	}
	sort.Strings(errs)
	return errs
}

// validateStore checks the store settings. Commands that only read history
// need a real backend.
func (c *Config) validateStore(needBackend bool) []string {
	switch c.Store.Driver {
	case "none", "":
		if needBackend {
			return []string{"store.driver must be sqlite or postgres"}
		}
		return nil
	case "sqlite":
		// An empty database_url opens parcel-risk.db in the working directory.
		return nil
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
		return nil
	default:
		return []string{"store.driver must be one of none, sqlite, postgres"}
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
