package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	StoreDriver     string `mapstructure:"STORE_DRIVER"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	MongoURI        string `mapstructure:"MONGODB_URI"`
	MongoDatabase   string `mapstructure:"MONGODB_DATABASE"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisSeenKey    string `mapstructure:"REDIS_SEEN_KEY"`
	KafkaBrokersRaw string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic      string `mapstructure:"KAFKA_TOPIC"`

	StoreTimeout        time.Duration `mapstructure:"STORE_TIMEOUT"`
	DelayThresholdDays  int           `mapstructure:"DELAY_THRESHOLD_DAYS"`
	DelayedScanInterval time.Duration `mapstructure:"DELAYED_SCAN_INTERVAL"`
	Timezone            string        `mapstructure:"TIMEZONE"`
	AutoAssign          bool          `mapstructure:"AUTO_ASSIGN"`
	DeclineLimit        int           `mapstructure:"DECLINE_LIMIT"`
	// TOTWWindow bounds the Technician of the Week count; zero counts all completions.
	TOTWWindow time.Duration `mapstructure:"TOTW_WINDOW"`
}

func Load() (Config, error) {
	return load(".env")
}

func load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("STORE_DRIVER", DriverMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MONGODB_URI", "")
	v.SetDefault("MONGODB_DATABASE", "campusfix")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_SEEN_KEY", "campusfix:delayed:seen")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "campusfix.notifications")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("DELAY_THRESHOLD_DAYS", 3)
	v.SetDefault("DELAYED_SCAN_INTERVAL", "1h")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("AUTO_ASSIGN", true)
	v.SetDefault("DECLINE_LIMIT", 3)
	v.SetDefault("TOTW_WINDOW", "0s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s driver", c.StoreDriver)
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the %s driver", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.DelayThresholdDays <= 0 {
		return fmt.Errorf("DELAY_THRESHOLD_DAYS must be positive, got %d", c.DelayThresholdDays)
	}
	if c.DelayedScanInterval <= 0 {
		return fmt.Errorf("DELAYED_SCAN_INTERVAL must be positive, got %s", c.DelayedScanInterval)
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("STORE_TIMEOUT must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TIMEZONE; working hours are compared in this zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) KafkaBrokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokersRaw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
