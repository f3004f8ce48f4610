package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config del servicio, leída desde env.
type Config struct {
	Port string

	DBDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BlobDriver   string // memory|s3
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3PathStyle  bool
	S3AccessKey  string
	S3SecretKey  string
	SignedURLTTL time.Duration

	NotifyWebhookURL string
	NotifyTimeout    time.Duration
	NotifyRetries    int
	PublicBaseURL    string

	OdinBaseURL string
	OdinAPIKey  string

	JWTSigningKey string
	JWTIssuer     string

	PlansBaseURL         string
	PlansAPIKey          string
	AllowAllCapabilities bool

	IdentityCacheTTL time.Duration
}

const (
	BlobMemory = "memory"
	BlobS3     = "s3"
)

// FromEnv lee la configuración. Solo falla ante valores mal formados.
func FromEnv() (Config, error) {
	return fromLookup(os.Getenv)
}

func fromLookup(get func(string) string) (Config, error) {
	p := parser{get: get}
	cfg := Config{
		Port:  p.str("PORT", "8080"),
		DBDSN: p.str("DB_DSN", ""),

		RedisAddr:     p.str("REDIS_ADDR", ""),
		RedisPassword: p.str("REDIS_PASSWORD", ""),
		RedisDB:       p.int("REDIS_DB", 0),

		BlobDriver:   strings.ToLower(p.str("BLOB_DRIVER", BlobMemory)),
		S3Bucket:     p.str("BLOB_S3_BUCKET", ""),
		S3Region:     p.str("BLOB_S3_REGION", "us-east-1"),
		S3Endpoint:   p.str("BLOB_S3_ENDPOINT", ""),
		S3PathStyle:  p.bool("BLOB_S3_PATH_STYLE", false),
		S3AccessKey:  p.str("BLOB_S3_ACCESS_KEY_ID", ""),
		S3SecretKey:  p.str("BLOB_S3_SECRET_ACCESS_KEY", ""),
		SignedURLTTL: p.duration("SIGNED_URL_TTL", 7*24*time.Hour),

		NotifyWebhookURL: p.str("NOTIFY_WEBHOOK_URL", ""),
		NotifyTimeout:    p.duration("NOTIFY_TIMEOUT", 10*time.Second),
		NotifyRetries:    p.int("NOTIFY_RETRIES", 2),
		PublicBaseURL:    strings.TrimRight(p.str("PUBLIC_BASE_URL", ""), "/"),

		OdinBaseURL: p.str("ODIN_BASE_URL", ""),
		OdinAPIKey:  p.str("ODIN_API_KEY", ""),

		JWTSigningKey: p.str("JWT_SIGNING_KEY", ""),
		JWTIssuer:     p.str("JWT_ISSUER", ""),

		PlansBaseURL:         p.str("PLANS_BASE_URL", ""),
		PlansAPIKey:          p.str("PLANS_API_KEY", ""),
		AllowAllCapabilities: p.bool("ALLOW_ALL_CAPABILITIES", false),

		IdentityCacheTTL: p.duration("IDENTITY_CACHE_TTL", 5*time.Minute),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	switch cfg.BlobDriver {
	case BlobMemory:
	case BlobS3:
		if cfg.S3Bucket == "" {
			return Config{}, fmt.Errorf("config: BLOB_S3_BUCKET required when BLOB_DRIVER=s3")
		}
	default:
		return Config{}, fmt.Errorf("config: unknown BLOB_DRIVER %q", cfg.BlobDriver)
	}
	return cfg, nil
}

// Addr es la dirección de escucha del server.
func (c Config) Addr() string { return ":" + c.Port }

// parser guarda el primer error de conversión.
type parser struct {
	get func(string) string
	err error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.get(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := strings.TrimSpace(p.get(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v)
		return def
	}
	return d
}

func (p *parser) fail(key, v string) {
	if p.err == nil {
		p.err = fmt.Errorf("config: invalid %s=%q", key, v)
	}
}
