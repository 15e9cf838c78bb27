package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	// JWTSecret signs and verifies the bearer tokens used by REST and the ticket socket.
	JWTSecret string
	JWTTTL    time.Duration

	// KafkaBrokers/KafkaTopicTicket — если заданы, backend публикует события жизненного цикла тикетов.
	KafkaBrokers     []string
	KafkaTopicTicket string

	// MediaDir stores images sent into ticket chats; served under /media/.
	MediaDir      string
	MediaMaxBytes int64

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	// Client settings used by the chat and tickets commands.
	Client struct {
		APIURL  string
		Token   string
		Timeout time.Duration
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:          getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:         firstEnv("APP_PORT", "HTTP_PORT", "8097"),
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTTTL:           getDurationEnv("JWT_TTL", 15*time.Minute),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicTicket: getEnv("KAFKA_TOPIC_TICKET", "support.tickets"),
		MediaDir:         getEnv("MEDIA_DIR", "uploads"),
		MediaMaxBytes:    getInt64Env("MEDIA_MAX_BYTES", 5<<20),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "support_chat")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Client.APIURL = strings.TrimRight(getEnv("SUPPORT_API_URL", "http://localhost:8097"), "/")
	cfg.Client.Token = getEnv("SUPPORT_TOKEN", "")
	cfg.Client.Timeout = getDurationEnv("HTTP_CLIENT_TIMEOUT", 10*time.Second)
	return cfg, nil
}

// Validate checks what the backend needs to start.
func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.MediaMaxBytes <= 0 {
		return errors.New("config: MEDIA_MAX_BYTES must be positive")
	}
	return nil
}

// ValidateClient checks what the client commands need.
func (c *Config) ValidateClient() error {
	u, err := url.Parse(c.Client.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: SUPPORT_API_URL must be an http(s) URL, got %q", c.Client.APIURL)
	}
	if c.Client.Token == "" {
		return errors.New("config: SUPPORT_TOKEN is required")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt64Env(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// splitList разбивает строку "host1:9092,host2:9092" на слайс.
func splitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
