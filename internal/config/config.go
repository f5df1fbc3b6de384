package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool

	RedisAddr     string // empty disables redis; cooldown falls back to DynamoDB
	RedisPassword string
	RedisDB       int

	TelegramBotToken      string
	TelegramAPIURL        string
	TelegramWebhookSecret string
	TelegramBotUsername   string

	SMSProvider             string // "gateway" | "sns"
	SMSGatewayURL           string
	SMSGatewayEmail         string
	SMSGatewayPassword      string
	SMSGatewayFrom          string
	SMSGatewayAcceptedState string
	SMSGatewayTokenTTL      time.Duration
	SNSRegion               string

	OTP OTP

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Accounts             string
	VerificationSessions string
	MessagingIdentities  string
	VerificationGuards   string
}

// OTP holds the verification core parameters.
type OTP struct {
	TTL                time.Duration
	MaxAttempts        int
	SMSCooldown        time.Duration
	DispatchTimeout    time.Duration
	DefaultCountryCode string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Accounts:             getEnv("DYNAMO_TABLE_ACCOUNTS", "accounts"),
			VerificationSessions: getEnv("DYNAMO_TABLE_VERIFICATION_SESSIONS", "verification_sessions"),
			MessagingIdentities:  getEnv("DYNAMO_TABLE_MESSAGING_IDENTITIES", "messaging_identities"),
			VerificationGuards:   getEnv("DYNAMO_TABLE_VERIFICATION_GUARDS", "verification_guards"),
		},
		TrustProxyHeaders:       getEnvBool("TRUST_PROXY_HEADERS", false),
		RedisAddr:               getEnv("REDIS_ADDR", ""),
		RedisPassword:           getEnv("REDIS_PASSWORD", ""),
		RedisDB:                 getEnvInt("REDIS_DB", 0),
		TelegramBotToken:        getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL:          getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramWebhookSecret:   getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		TelegramBotUsername:     getEnv("TELEGRAM_BOT_USERNAME", ""),
		SMSProvider:             getEnv("SMS_PROVIDER", "gateway"),
		SMSGatewayURL:           getEnv("SMS_GATEWAY_URL", "https://notify.eskiz.uz/api"),
		SMSGatewayEmail:         getEnv("SMS_GATEWAY_EMAIL", ""),
		SMSGatewayPassword:      getEnv("SMS_GATEWAY_PASSWORD", ""),
		SMSGatewayFrom:          getEnv("SMS_GATEWAY_FROM", "4546"),
		SMSGatewayAcceptedState: getEnv("SMS_GATEWAY_ACCEPTED_STATUS", "waiting"),
		SMSGatewayTokenTTL:      getEnvDuration("SMS_GATEWAY_TOKEN_TTL", 24*time.Hour),
		SNSRegion:               getEnv("SNS_REGION", "us-east-1"),
		OTP: OTP{
			TTL:                getEnvDuration("OTP_TTL", 3*time.Minute),
			MaxAttempts:        getEnvInt("OTP_MAX_ATTEMPTS", 5),
			SMSCooldown:        getEnvDuration("SMS_COOLDOWN", 60*time.Second),
			DispatchTimeout:    getEnvDuration("DISPATCH_TIMEOUT", 5*time.Second),
			DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "998"),
		},
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
