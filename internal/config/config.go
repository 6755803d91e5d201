package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	SettlementDelay time.Duration
	// SettlementTimeout bounds the gateway call plus the cart clear that follows it.
	SettlementTimeout time.Duration
	// SessionRetention is how long settled checkouts and confirmations are kept.
	SessionRetention time.Duration
	SweepInterval    time.Duration
	// DeclinePercent above zero makes the simulated gateway refuse that share of payments.
	DeclinePercent int
	LogLevel       string

	// MongoURI empty keeps carts in memory.
	MongoURI    string
	MongoDBName string

	// RedisAddr empty disables the cart cache.
	RedisAddr     string
	RedisPassword string

	// DBHost empty keeps idempotency keys in memory; "sqlite" uses DBName as a file path.
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	MigrationsPath string

	// KafkaBrokers empty logs order events instead of publishing them.
	KafkaBrokers string
	KafkaTopic   string
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		SettlementDelay:   getEnvDuration("SETTLEMENT_DELAY", 2500*time.Millisecond),
		SettlementTimeout: getEnvDuration("SETTLEMENT_TIMEOUT", 10*time.Second),
		SessionRetention:  getEnvDuration("CHECKOUT_RETENTION", 30*time.Minute),
		SweepInterval:     getEnvDuration("CHECKOUT_SWEEP_INTERVAL", time.Minute),
		DeclinePercent:    getEnvInt("SIMULATED_DECLINE_PERCENT", 0),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		MongoURI:          getEnv("MONGO_URI", ""),
		MongoDBName:       getEnv("MONGO_DB_NAME", "petshoptify"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		DBHost:            getEnv("DB_HOST", ""),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", "storefront"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "storefront"),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", "./internal/idempotency/migrations"),
		KafkaBrokers:      getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "storefront-orders"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.SettlementDelay < 0 {
		return fmt.Errorf("SETTLEMENT_DELAY must not be negative")
	}
	if c.SettlementTimeout <= 0 {
		return fmt.Errorf("SETTLEMENT_TIMEOUT must be > 0")
	}
	if c.SessionRetention <= 0 {
		return fmt.Errorf("CHECKOUT_RETENTION must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("CHECKOUT_SWEEP_INTERVAL must be > 0")
	}
	if c.DeclinePercent < 0 || c.DeclinePercent > 100 {
		return fmt.Errorf("SIMULATED_DECLINE_PERCENT must be between 0 and 100")
	}
	if c.DBPort <= 0 || c.DBPort > 65535 {
		return fmt.Errorf("DB_PORT must be a valid port, got %d", c.DBPort)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvDuration accepts Go durations ("2s") or bare milliseconds ("2500").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
