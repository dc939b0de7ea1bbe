package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

type AuthConfig struct {
	AccessSecret string
}

type SLAConfig struct {
	SweepInterval     time.Duration
	SweepInitialDelay time.Duration
	WarningCooldown   time.Duration
	DispatchTimeout   time.Duration
}

type NotifyConfig struct {
	GatewayURL    string
	GatewayToken  string
	WebhookSecret string
	NATSURL       string
	NATSSubject   string
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	SweepLockTTL time.Duration
}

type Config struct {
	Environment string
	LogLevel    string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	SLA         SLAConfig
	Notify      NotifyConfig
	Redis       RedisConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()
	setDefaults(v)

	_ = v.ReadInConfig()

	cfg := fromViper(v)
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DB_RUN_MIGRATIONS", true)
	v.SetDefault("SLA_SWEEP_INTERVAL", 15*time.Minute)
	v.SetDefault("SLA_SWEEP_INITIAL_DELAY", 30*time.Second)
	v.SetDefault("SLA_WARNING_COOLDOWN", 30*time.Minute)
	v.SetDefault("SLA_DISPATCH_TIMEOUT", 10*time.Second)
	v.SetDefault("NATS_SUBJECT", "fieldops.notifications")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SWEEP_LOCK_TTL", 10*time.Minute)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Environment: v.GetString("APP_ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			RunMigrations:   v.GetBool("DB_RUN_MIGRATIONS"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		SLA: SLAConfig{
			SweepInterval:     v.GetDuration("SLA_SWEEP_INTERVAL"),
			SweepInitialDelay: v.GetDuration("SLA_SWEEP_INITIAL_DELAY"),
			WarningCooldown:   v.GetDuration("SLA_WARNING_COOLDOWN"),
			DispatchTimeout:   v.GetDuration("SLA_DISPATCH_TIMEOUT"),
		},
		Notify: NotifyConfig{
			GatewayURL:    v.GetString("NOTIFY_GATEWAY_URL"),
			GatewayToken:  v.GetString("NOTIFY_GATEWAY_TOKEN"),
			WebhookSecret: v.GetString("NOTIFY_WEBHOOK_SECRET"),
			NATSURL:       v.GetString("NATS_URL"),
			NATSSubject:   v.GetString("NATS_SUBJECT"),
		},
		Redis: RedisConfig{
			Addr:         v.GetString("REDIS_ADDR"),
			Password:     v.GetString("REDIS_PASSWORD"),
			DB:           v.GetInt("REDIS_DB"),
			SweepLockTTL: v.GetDuration("SWEEP_LOCK_TTL"),
		},
	}
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.SLA.SweepInterval <= 0 {
		return fmt.Errorf("SLA_SWEEP_INTERVAL must be positive")
	}
	if cfg.SLA.WarningCooldown <= 0 {
		return fmt.Errorf("SLA_WARNING_COOLDOWN must be positive")
	}
	if cfg.Redis.Addr != "" && cfg.Redis.SweepLockTTL <= cfg.SLA.DispatchTimeout {
		return fmt.Errorf("SWEEP_LOCK_TTL must exceed SLA_DISPATCH_TIMEOUT")
	}
	return nil
}
