package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const minJWTSecretLength = 16

type Config struct {
	Port                   string `mapstructure:"PORT"`
	Env                    string `mapstructure:"ENV"`
	LogLevel               string `mapstructure:"LOG_LEVEL"`
	DatabaseURL            string `mapstructure:"DB_DSN"`
	DBMaxConns             int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir          string `mapstructure:"MIGRATIONS_DIR"`
	JWTSecret              string `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes          int    `mapstructure:"JWT_TTL_MINUTES"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	KafkaBrokers           string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic             string `mapstructure:"KAFKA_TOPIC"`
	RelayIntervalSeconds   int    `mapstructure:"RELAY_INTERVAL_SECONDS"`
	RelayBatchSize         int    `mapstructure:"RELAY_BATCH_SIZE"`
	OutboxRetentionHours   int    `mapstructure:"OUTBOX_RETENTION_HOURS"`
	RateLimitPerMinute     int    `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst         int    `mapstructure:"RATE_LIMIT_BURST"`
	BootstrapAdminEmail    string `mapstructure:"BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminPassword string `mapstructure:"BOOTSTRAP_ADMIN_PASSWORD"`
	OTLPEndpoint           string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure           bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var defaults = map[string]any{
	"PORT":                        "8080",
	"ENV":                         "production",
	"LOG_LEVEL":                   "info",
	"DB_DSN":                      "",
	"DB_MAX_CONNS":                10,
	"DB_MIN_CONNS":                1,
	"MIGRATIONS_DIR":              "migrations",
	"JWT_SECRET":                  "",
	"JWT_TTL_MINUTES":             480,
	"REDIS_URL":                   "",
	"KAFKA_BROKERS":               "",
	"KAFKA_TOPIC":                 "clinicqueue.events",
	"RELAY_INTERVAL_SECONDS":      1,
	"RELAY_BATCH_SIZE":            100,
	"OUTBOX_RETENTION_HOURS":      24,
	"RATE_LIMIT_PER_MIN":          120,
	"RATE_LIMIT_BURST":            30,
	"BOOTSTRAP_ADMIN_EMAIL":       "",
	"BOOTSTRAP_ADMIN_PASSWORD":    "",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
}

// Load reads an optional .env file into the process environment and then
// resolves every key from the environment, falling back to defaults. It does
// not validate; callers pick the checks their command needs.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return Config{}, errors.Wrapf(err, "bind %s", key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}

// ValidateDatabase covers the keys the migrate command depends on.
func (c Config) ValidateDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DB_DSN is required")
	}
	if c.DBMaxConns < 1 {
		return errors.New("DB_MAX_CONNS must be at least 1")
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return errors.New("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	return nil
}

// Validate reports the first missing or invalid key for the serve command.
func (c Config) Validate() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if len(c.JWTSecret) < minJWTSecretLength {
		return errors.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}
	if c.JWTTTLMinutes < 1 {
		return errors.New("JWT_TTL_MINUTES must be positive")
	}
	if c.RelayIntervalSeconds < 1 {
		return errors.New("RELAY_INTERVAL_SECONDS must be positive")
	}
	if c.RelayBatchSize < 1 {
		return errors.New("RELAY_BATCH_SIZE must be positive")
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		return errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	return nil
}

func (c Config) IsDev() bool {
	return c.Env == "development"
}

func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}

func (c Config) RelayInterval() time.Duration {
	return time.Duration(c.RelayIntervalSeconds) * time.Second
}

func (c Config) OutboxRetention() time.Duration {
	if c.OutboxRetentionHours <= 0 {
		return 0
	}
	return time.Duration(c.OutboxRetentionHours) * time.Hour
}

// Brokers splits KAFKA_BROKERS on commas and drops blanks.
func (c Config) Brokers() []string {
	var out []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}
