package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Risk      RiskConfig
	Otp       OtpConfig
	Session   SessionConfig
	Geo       GeoConfig
	Email     EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	RunMigrations     bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

type AuthConfig struct {
	JWTSecret           string
	AdminAPIToken       string // empty disables the admin surface
	TotpEncryptionKey   string // 32 bytes, AES-256
	MaxFailedAttempts   int
	LockoutDuration     time.Duration
	LoginMaxPerIP       int
	CleanupInterval     time.Duration
	AttemptRetention    time.Duration
	TimingDelayBaseMs   int
	TimingDelayJitterMs int
}

type RateLimitConfig struct {
	Window            time.Duration
	BaseBlockDuration time.Duration
	BlockMultiplier   float64
	MaxBlockDuration  time.Duration
}

type RiskConfig struct {
	FlagThreshold     int
	StepUpThreshold   int
	BlockThreshold    int
	LockThreshold     int
	NearDistanceKm    float64
	FarDistanceKm     float64
	MaxTravelSpeedKmh float64
	UnknownGeoScore   int
	LocationWeight    float64
	DeviceWeight      float64
	TimeWeight        float64
	MaxTrackedIPs     int
	MaxTrackedPlaces  int
	MaxTrackedDevices int
}

type OtpConfig struct {
	CodeLength     int
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

type SessionConfig struct {
	TokenTTL           time.Duration
	InactivityTimeout  time.Duration
	SuspiciousFanOut   int
	SuspiciousWindow   time.Duration
}

type GeoConfig struct {
	BaseURL string
	Timeout time.Duration
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatekeeper"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			RunMigrations:     getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			AdminAPIToken:       getEnv("ADMIN_API_TOKEN", ""),
			TotpEncryptionKey:   getEnv("TOTP_ENCRYPTION_KEY", ""),
			MaxFailedAttempts:   getEnvAsInt("MAX_FAILED_LOGIN_ATTEMPTS", 5),
			LockoutDuration:     getEnvAsDuration("ACCOUNT_LOCKOUT_DURATION", 30*time.Minute),
			LoginMaxPerIP:       getEnvAsInt("LOGIN_MAX_ATTEMPTS_PER_IP", 10),
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			AttemptRetention:    getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 90*24*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayJitterMs: getEnvAsInt("TIMING_DELAY_JITTER_MS", 150),
		},
		RateLimit: RateLimitConfig{
			Window:            getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			BaseBlockDuration: getEnvAsDuration("RATE_LIMIT_BASE_BLOCK", 15*time.Minute),
			BlockMultiplier:   getEnvAsFloat("RATE_LIMIT_BLOCK_MULTIPLIER", 2.0),
			MaxBlockDuration:  getEnvAsDuration("RATE_LIMIT_MAX_BLOCK", 24*time.Hour),
		},
		Risk: RiskConfig{
			FlagThreshold:     getEnvAsInt("RISK_FLAG_THRESHOLD", 30),
			StepUpThreshold:   getEnvAsInt("RISK_STEPUP_THRESHOLD", 30),
			BlockThreshold:    getEnvAsInt("RISK_BLOCK_THRESHOLD", 70),
			LockThreshold:     getEnvAsInt("RISK_LOCK_THRESHOLD", 90),
			NearDistanceKm:    getEnvAsFloat("RISK_NEAR_DISTANCE_KM", 100),
			FarDistanceKm:     getEnvAsFloat("RISK_FAR_DISTANCE_KM", 3000),
			MaxTravelSpeedKmh: getEnvAsFloat("RISK_MAX_TRAVEL_SPEED_KMH", 1000),
			UnknownGeoScore:   getEnvAsInt("RISK_UNKNOWN_GEO_SCORE", 50),
			LocationWeight:    getEnvAsFloat("RISK_LOCATION_WEIGHT", 1.0),
			DeviceWeight:      getEnvAsFloat("RISK_DEVICE_WEIGHT", 1.0),
			TimeWeight:        getEnvAsFloat("RISK_TIME_WEIGHT", 1.0),
			MaxTrackedIPs:     getEnvAsInt("PATTERN_MAX_IPS", 10),
			MaxTrackedPlaces:  getEnvAsInt("PATTERN_MAX_LOCATIONS", 10),
			MaxTrackedDevices: getEnvAsInt("PATTERN_MAX_DEVICES", 5),
		},
		Otp: OtpConfig{
			CodeLength:     getEnvAsInt("OTP_CODE_LENGTH", 6),
			TTL:            getEnvAsDuration("OTP_TTL", 5*time.Minute),
			MaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
			ResendCooldown: getEnvAsDuration("OTP_RESEND_COOLDOWN", 60*time.Second),
		},
		Session: SessionConfig{
			TokenTTL:          getEnvAsDuration("SESSION_TOKEN_TTL", 12*time.Hour),
			InactivityTimeout: getEnvAsDuration("SESSION_INACTIVITY_TIMEOUT", 30*time.Minute),
			SuspiciousFanOut:  getEnvAsInt("SESSION_SUSPICIOUS_FANOUT", 3),
			SuspiciousWindow:  getEnvAsDuration("SESSION_SUSPICIOUS_WINDOW", 1*time.Hour),
		},
		Geo: GeoConfig{
			BaseURL: getEnv("GEO_LOOKUP_URL", ""),
			Timeout: getEnvAsDuration("GEO_LOOKUP_TIMEOUT", 2*time.Second),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "security@harborbank.example"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	switch key := cfg.Auth.TotpEncryptionKey; {
	case key == "" && env == "production":
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required in production")
	case key == "":
		// Deterministic dev-only key so local setups work out of the box.
		cfg.Auth.TotpEncryptionKey = "gatekeeper-dev-totp-key-32-bytes"
	case len(key) != 32:
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(key))
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for the signing secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func parseAllowedOrigins(env string) []string {
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	if env == "development" {
		return []string{"http://localhost:3000"}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}
