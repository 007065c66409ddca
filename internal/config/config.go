package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	NATS       NATSConfig       `json:"nats"`
	Registrar  RegistrarConfig  `json:"registrar"`
	Edge       EdgeConfig       `json:"edge"`
	Payment    PaymentConfig    `json:"payment"`
	DNS        DNSConfig        `json:"dns"`
	Reconciler ReconcilerConfig `json:"reconciler"`
	Workers    WorkersConfig    `json:"workers"`
	Retention  RetentionConfig  `json:"retention"`
}

type ServerConfig struct {
	Port string `json:"port"`
	Host string `json:"host"`
	Mode string `json:"mode"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       string `json:"db"`
	URL      string `json:"url"`
}

type NATSConfig struct {
	URL string `json:"url"`
}

// RegistrarConfig configures the registrar API client (availability,
// registration, host records)
type RegistrarConfig struct {
	Endpoint string        `json:"endpoint"`
	APIUser  string        `json:"api_user"`
	APIKey   string        `json:"api_key"`
	ClientIP string        `json:"client_ip"`
	Timeout  time.Duration `json:"timeout"`
}

// EdgeConfig configures the edge/TLS provider (custom hostnames and
// certificate lifecycle)
type EdgeConfig struct {
	APIToken    string        `json:"api_token"`
	ZoneID      string        `json:"zone_id"`
	CNAMETarget string        `json:"cname_target"` // routing target customers point their hostname at
	Timeout     time.Duration `json:"timeout"`
}

// PaymentConfig configures webhook signature verification
type PaymentConfig struct {
	WebhookSecret string        `json:"webhook_secret"`
	Tolerance     time.Duration `json:"tolerance"` // max signed-timestamp skew
}

type DNSConfig struct {
	PlatformDomain string `json:"platform_domain"` // base domain for platform subdomains, not attachable
}

// ReconcilerConfig tunes the polling loop and retry bounds
type ReconcilerConfig struct {
	Interval       time.Duration `json:"interval"`
	BatchSize      int           `json:"batch_size"`
	Concurrency    int           `json:"concurrency"`
	BackoffInitial time.Duration `json:"backoff_initial"`
	BackoffMax     time.Duration `json:"backoff_max"`
	MaxAttempts    int           `json:"max_attempts"`
}

type WorkersConfig struct {
	CertMonitorInterval time.Duration `json:"cert_monitor_interval"`
	CleanupInterval     time.Duration `json:"cleanup_interval"`
}

type RetentionConfig struct {
	ProcessedEvents time.Duration `json:"processed_events"`
	Activities      time.Duration `json:"activities"`
}

func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8094"),
			Host: getEnv("HOST", "0.0.0.0"),
			Mode: getEnv("GIN_MODE", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "domain_activations_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: buildRedisConfig(),
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", "nats://localhost:4222"),
		},
		Registrar: RegistrarConfig{
			Endpoint: getEnv("REGISTRAR_API_ENDPOINT", "https://api.namecheap.com/xml.response"),
			APIUser:  getEnv("REGISTRAR_API_USER", ""),
			APIKey:   getEnv("REGISTRAR_API_KEY", ""),
			ClientIP: getEnv("REGISTRAR_CLIENT_IP", ""),
			Timeout:  getDurationEnv("REGISTRAR_TIMEOUT", 15*time.Second),
		},
		Edge: EdgeConfig{
			APIToken:    getEnv("EDGE_API_TOKEN", ""),
			ZoneID:      getEnv("EDGE_ZONE_ID", ""),
			CNAMETarget: getEnv("EDGE_CNAME_TARGET", "edge.sitebuilder.app"),
			Timeout:     getDurationEnv("EDGE_TIMEOUT", 15*time.Second),
		},
		Payment: PaymentConfig{
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			Tolerance:     getDurationEnv("PAYMENT_WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		DNS: DNSConfig{
			PlatformDomain: getEnv("DNS_PLATFORM_DOMAIN", "sitebuilder.app"),
		},
		Reconciler: ReconcilerConfig{
			Interval:       getDurationEnv("RECONCILE_INTERVAL", 60*time.Second),
			BatchSize:      getIntEnv("RECONCILE_BATCH_SIZE", 100),
			Concurrency:    getIntEnv("RECONCILE_CONCURRENCY", 8),
			BackoffInitial: getDurationEnv("RECONCILE_BACKOFF_INITIAL", 30*time.Second),
			BackoffMax:     getDurationEnv("RECONCILE_BACKOFF_MAX", 15*time.Minute),
			MaxAttempts:    getIntEnv("RECONCILE_MAX_ATTEMPTS", 10),
		},
		Workers: WorkersConfig{
			CertMonitorInterval: getDurationEnv("CERT_MONITOR_INTERVAL", 1*time.Hour),
			CleanupInterval:     getDurationEnv("CLEANUP_INTERVAL", 24*time.Hour),
		},
		Retention: RetentionConfig{
			ProcessedEvents: getDurationEnv("PROCESSED_EVENT_RETENTION", 30*24*time.Hour),
			Activities:      getDurationEnv("ACTIVITY_RETENTION", 90*24*time.Hour),
		},
	}
}

func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

func buildRedisConfig() RedisConfig {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return RedisConfig{URL: url}
	}

	host := getEnv("REDIS_HOST", "localhost")
	port := getEnv("REDIS_PORT", "6379")
	password := os.Getenv("REDIS_PASSWORD")
	db := getEnv("REDIS_DB", "0")

	var url string
	if password != "" {
		url = "redis://:" + password + "@" + host + ":" + port + "/" + db
	} else {
		url = "redis://" + host + ":" + port + "/" + db
	}

	return RedisConfig{
		Host:     host,
		Port:     port,
		Password: password,
		DB:       db,
		URL:      url,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
