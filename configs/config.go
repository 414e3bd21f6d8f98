package configs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ORDERS_"

var listKeys = map[string]bool{
	"kafka.brokers": true,
}

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		Env      string `koanf:"env"`
		HTTPAddr string `koanf:"http_addr"`
		GRPCAddr string `koanf:"grpc_addr"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	Storage struct {
		Driver          string        `koanf:"driver"`
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"storage"`

	Redis struct {
		Addr           string        `koanf:"addr"`
		Password       string        `koanf:"password"`
		PoolSize       int           `koanf:"pool_size"`
		IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
	} `koanf:"redis"`

	Processor struct {
		Enabled       bool          `koanf:"enabled"`
		Interval      time.Duration `koanf:"interval"`
		InitialDelay  time.Duration `koanf:"initial_delay"`
		OrderTimeout  time.Duration `koanf:"order_timeout"`
		NotifyTimeout time.Duration `koanf:"notify_timeout"`
	} `koanf:"processor"`

	Notification struct {
		BaseURL string `koanf:"base_url"`
		Token   string `koanf:"token"`
	} `koanf:"notification"`

	Kafka struct {
		Brokers []string `koanf:"brokers"`
		Topic   string   `koanf:"topic"`
	} `koanf:"kafka"`

	Log struct {
		Level      string `koanf:"level"`
		File       string `koanf:"file"`
		MaxSizeMB  int    `koanf:"max_size_mb"`
		MaxBackups int    `koanf:"max_backups"`
		MaxAgeDays int    `koanf:"max_age_days"`
	} `koanf:"log"`

	Otel struct {
		Endpoint   string `koanf:"endpoint"`
		AuthHeader string `koanf:"auth_header"`
		Insecure   bool   `koanf:"insecure"`
	} `koanf:"otel"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod), optional for local runs
	if envName != "" {
		_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())
	}

	// 3) environment variables, nested with __
	// e.g. ORDERS_STORAGE__DSN, ORDERS_NOTIFICATION__TOKEN
	// list keys take a comma separated value, e.g. ORDERS_KAFKA__BROKERS=a:9092,b:9092
	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.TrimPrefix(key, envPrefix)
		key = strings.ToLower(strings.ReplaceAll(key, "__", "."))
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitList(csv string) []string {
	var out []string
	for _, v := range strings.Split(csv, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.App.HTTPAddr == "" {
		errs = append(errs, errors.New("app.http_addr required"))
	}
	switch c.Storage.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be mysql or sqlite, got %q", c.Storage.Driver))
	}
	if c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn required"))
	}
	if c.Processor.Interval <= 0 {
		errs = append(errs, errors.New("processor.interval must be positive"))
	}
	if c.Processor.InitialDelay < 0 {
		errs = append(errs, errors.New("processor.initial_delay must not be negative"))
	}
	if c.Processor.Enabled {
		if c.Notification.BaseURL == "" {
			errs = append(errs, errors.New("notification.base_url required when processor is enabled"))
		}
		if c.Notification.Token == "" {
			errs = append(errs, errors.New("notification.token required when processor is enabled"))
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic required when brokers are set"))
	}
	return errors.Join(errs...)
}
