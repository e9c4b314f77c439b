package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores runtime configuration loaded from the environment, an
// optional .env file and an optional config.yaml.
type Config struct {
	AppEnv            string
	HTTPAddr          string
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifeMins int
	LocalCachePath    string
	RemoteTimeoutMS   int

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	AutosaveTTLHours int

	KeyPrefix          string
	CheckpointAttempts bool

	CSRFEnforced    bool
	RateLimitPerMin int

	LogFile             string
	ShutdownTimeoutSecs int
}

var defaults = map[string]any{
	"APP_ENV":                      "development",
	"HTTP_ADDR":                    ":8080",
	"DB_DSN":                       "",
	"DB_MAX_OPEN_CONNS":            25,
	"DB_MAX_IDLE_CONNS":            25,
	"DB_CONN_MAX_LIFETIME_MINUTES": 30,
	"LOCAL_CACHE_PATH":             "academy-cache.db",
	"REMOTE_TIMEOUT_MS":            2000,
	"REDIS_ADDR":                   "",
	"REDIS_PASSWORD":               "",
	"REDIS_DB":                     0,
	"AUTOSAVE_TTL_HOURS":           72,
	"KEY_PREFIX":                   "academy",
	"CHECKPOINT_ATTEMPTS":          true,
	"CSRF_ENFORCED":                false,
	"RATE_LIMIT_PER_MINUTE":        120,
	"LOG_FILE":                     "",
	"SHUTDOWN_TIMEOUT_SECONDS":     10,
}

func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	return loadConfig(viper.New(), ".")
}

func loadConfig(v *viper.Viper, dir string) (Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	return Config{
		AppEnv:              strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		HTTPAddr:            v.GetString("HTTP_ADDR"),
		DBDSN:               strings.TrimSpace(v.GetString("DB_DSN")),
		DBMaxOpenConns:      intOrDefault(v, "DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:      intOrDefault(v, "DB_MAX_IDLE_CONNS"),
		DBConnMaxLifeMins:   intOrDefault(v, "DB_CONN_MAX_LIFETIME_MINUTES"),
		LocalCachePath:      v.GetString("LOCAL_CACHE_PATH"),
		RemoteTimeoutMS:     intOrDefault(v, "REMOTE_TIMEOUT_MS"),
		RedisAddr:           strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		AutosaveTTLHours:    intOrDefault(v, "AUTOSAVE_TTL_HOURS"),
		KeyPrefix:           v.GetString("KEY_PREFIX"),
		CheckpointAttempts:  v.GetBool("CHECKPOINT_ATTEMPTS"),
		CSRFEnforced:        v.GetBool("CSRF_ENFORCED"),
		RateLimitPerMin:     intOrDefault(v, "RATE_LIMIT_PER_MINUTE"),
		LogFile:             strings.TrimSpace(v.GetString("LOG_FILE")),
		ShutdownTimeoutSecs: intOrDefault(v, "SHUTDOWN_TIMEOUT_SECONDS"),
	}, nil
}

// intOrDefault falls back to the default for non-positive values.
func intOrDefault(v *viper.Viper, key string) int {
	n := v.GetInt(key)
	if n <= 0 {
		n, _ = defaults[key].(int)
	}
	return n
}

func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutMS) * time.Millisecond
}

func (c Config) AutosaveTTL() time.Duration {
	return time.Duration(c.AutosaveTTLHours) * time.Hour
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

func (c Config) DBConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifeMins) * time.Minute
}
