package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SecurityConfig struct {
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	// RefreshSpan is the refresh-token validity chosen at login;
	// RefreshSpanRemembered applies when the caller asks to be remembered.
	// Rotation preserves whichever span was selected.
	RefreshSpan           time.Duration
	RefreshSpanRemembered time.Duration
	TwoFactorTTL          time.Duration
	MaxSessions           int
}

type CookieConfig struct {
	Name   string
	Domain string
	Path   string
	Secure bool
}

type RateLimitConfig struct {
	Enabled     bool
	Window      time.Duration
	MaxAttempts int
}

type SweepConfig struct {
	Schedule string
}

type AppConfig struct {
	Environment      string
	DefaultTenantID  string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Security         SecurityConfig
	Cookie           CookieConfig
	RateLimit        RateLimitConfig
	Sweep            SweepConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("TOKENGATE")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("defaulttenantid", "default")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.jwtaccessttl", "15m")
	v.SetDefault("security.refreshspan", "168h")           // 7 days
	v.SetDefault("security.refreshspanremembered", "720h") // 30 days
	v.SetDefault("security.twofactorttl", "5m")
	v.SetDefault("security.maxsessions", 10)

	v.SetDefault("cookie.name", "tg_refresh")
	v.SetDefault("cookie.path", "/api/v1/auth")
	v.SetDefault("cookie.secure", true)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.maxattempts", 10)

	v.SetDefault("sweep.schedule", "0 0 3 * * *")
}
