package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"checkpoint-service/internal/domain/checkpoint"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Passage   PassageConfig   `mapstructure:"passage"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Timezone string `mapstructure:"timezone"`
}

type HTTPConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// CameraConfig describes the polled plate-recognition feed.
type CameraConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Model        string        `mapstructure:"model"`
	FeedURL      string        `mapstructure:"feed_url"`
	StationID    int64         `mapstructure:"station_id"`
	GateID       int64         `mapstructure:"gate_id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Lookback     time.Duration `mapstructure:"lookback"`
}

func (c CameraConfig) Target() checkpoint.FeedTarget {
	return checkpoint.FeedTarget{
		URL:       c.FeedURL,
		StationID: c.StationID,
		GateID:    c.GateID,
	}
}

type DedupConfig struct {
	Tolerance        time.Duration `mapstructure:"tolerance"`
	ExternalIDWindow time.Duration `mapstructure:"external_id_window"`
	MaxLateness      time.Duration `mapstructure:"max_lateness"`
}

type ProcessorConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	BatchLimit int           `mapstructure:"batch_limit"`
}

type PassageConfig struct {
	ReentryWindow time.Duration `mapstructure:"reentry_window"`
}

func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHECKPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Camera.Enabled {
		if c.Camera.FeedURL == "" {
			return errors.New("camera.feed_url is required when camera polling is enabled")
		}
		if c.Camera.StationID == 0 || c.Camera.GateID == 0 {
			return errors.New("camera.station_id and camera.gate_id are required when camera polling is enabled")
		}
	}
	if c.Dedup.Tolerance <= 0 {
		return errors.New("dedup.tolerance must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the zone in which "the same calendar day" is evaluated.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid app.timezone %q: %w", c.App.Timezone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "checkpoint-service")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.timezone", "UTC")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allow_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("camera.enabled", false)
	v.SetDefault("camera.model", "generic")
	v.SetDefault("camera.feed_url", "")
	v.SetDefault("camera.station_id", 0)
	v.SetDefault("camera.gate_id", 0)
	v.SetDefault("camera.poll_interval", 2*time.Second)
	v.SetDefault("camera.timeout", 5*time.Second)
	v.SetDefault("camera.lookback", 24*time.Hour)

	v.SetDefault("dedup.tolerance", 2*time.Second)
	v.SetDefault("dedup.external_id_window", 10*time.Minute)
	v.SetDefault("dedup.max_lateness", 10*time.Minute)

	v.SetDefault("processor.enabled", true)
	v.SetDefault("processor.interval", 5*time.Second)
	v.SetDefault("processor.batch_limit", 200)

	v.SetDefault("passage.reentry_window", 24*time.Hour)
}
