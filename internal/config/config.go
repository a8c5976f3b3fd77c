package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"kasirshift/backend/internal/reconcile"
	"kasirshift/backend/internal/service"
)

type Config struct {
	Port                      string
	AllowedOrigin             string
	DatabaseURL               string
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	ReportCacheTTLMinutes     int
	AuthSecret                string
	AccessTokenTTLMinutes     int
	ManagerPIN                string
	ZeroPaymentPolicy         string
	LinkageFallback           bool
	VarianceWarningThreshold  int64
	VarianceCriticalThreshold int64
	MismatchTolerance         int64
	CurrencyScale             int32
}

// Load reads the environment. A .env file in the working directory is applied
// first when present; variables already set in the process win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] WARN: could not read .env: %v", err)
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	cacheTTL, err := strconv.Atoi(getEnv("REPORT_CACHE_TTL_MINUTES", "1440"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 1440
	}
	fallback, err := strconv.ParseBool(getEnv("LINKAGE_FALLBACK", "true"))
	if err != nil {
		fallback = true
	}
	scale, err := strconv.Atoi(getEnv("CURRENCY_SCALE", "0"))
	if err != nil || scale < 0 || scale > 4 {
		scale = 0
	}

	cfg := Config{
		Port:                      getEnv("PORT", "8080"),
		AllowedOrigin:             getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   redisDB,
		ReportCacheTTLMinutes:     cacheTTL,
		AuthSecret:                strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:     tokenTTL,
		ManagerPIN:                strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		ZeroPaymentPolicy:         strings.ToLower(getEnv("ZERO_PAYMENT_POLICY", string(reconcile.ZeroPaymentExclude))),
		LinkageFallback:           fallback,
		VarianceWarningThreshold:  getEnvInt64("VARIANCE_WARNING_THRESHOLD", 10000),
		VarianceCriticalThreshold: getEnvInt64("VARIANCE_CRITICAL_THRESHOLD", 50000),
		MismatchTolerance:         getEnvInt64("MISMATCH_TOLERANCE", 100),
		CurrencyScale:             int32(scale),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// ServiceOptions converts the reconciliation settings, rejecting values the
// engine cannot run with.
func (c Config) ServiceOptions() (service.Options, error) {
	policy, err := reconcile.ParseZeroPaymentPolicy(c.ZeroPaymentPolicy)
	if err != nil {
		return service.Options{}, err
	}
	if c.VarianceWarningThreshold < 0 || c.VarianceCriticalThreshold < c.VarianceWarningThreshold {
		return service.Options{}, fmt.Errorf("variance thresholds must satisfy 0 <= warning <= critical, got %d/%d", c.VarianceWarningThreshold, c.VarianceCriticalThreshold)
	}
	if c.MismatchTolerance < 0 {
		return service.Options{}, fmt.Errorf("MISMATCH_TOLERANCE must not be negative")
	}

	opts := service.DefaultOptions()
	opts.Policy = reconcile.Policy{ZeroPayment: policy}
	opts.Fallback = c.LinkageFallback
	opts.Thresholds = reconcile.Thresholds{Warning: c.VarianceWarningThreshold, Critical: c.VarianceCriticalThreshold}
	opts.MismatchTolerance = c.MismatchTolerance
	opts.ReportCacheTTL = time.Duration(c.ReportCacheTTLMinutes) * time.Minute
	return opts, nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt64(key string, fallback int64) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(getEnv(key, "")), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
