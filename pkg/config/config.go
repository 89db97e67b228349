package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	// Uploads limits image uploads per session token.
	Uploads RateLimitBucketConfig `yaml:"uploads"`
	// Predictions limits outbound prediction submissions per session.
	Predictions RateLimitBucketConfig `yaml:"predictions"`
	// Webhook limits result callback deliveries per destination URL.
	Webhook RateLimitBucketConfig `yaml:"webhook"`
}

type MinioConfig struct {
	Endpoint          string `yaml:"endpoint"`
	AccessKeyID       string `yaml:"accessKeyId"`
	SecretAccessKey   string `yaml:"secretAccessKey"`
	Bucket            string `yaml:"bucket"`
	UseSSL            bool   `yaml:"useSSL"`
	PublicBaseURL     string `yaml:"publicBaseUrl"`
	PresignTTLSeconds int    `yaml:"presignTtlSeconds"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port          int    `yaml:"port"`
	Env           string `yaml:"env"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	// StoreBackend is "redis" or "memory".
	StoreBackend string `yaml:"storeBackend"`

	// ObjectStore is "cloudinary", "minio" or "local".
	ObjectStore            string      `yaml:"objectStore"`
	CloudinaryBaseURL      string      `yaml:"cloudinaryBaseUrl"`
	CloudinaryCloudID      string      `yaml:"cloudinaryCloudId"`
	CloudinaryUploadPreset string      `yaml:"cloudinaryUploadPreset"`
	Minio                  MinioConfig `yaml:"minio"`
	LocalArtifactsDir      string      `yaml:"localArtifactsDir"`

	CloudConvertBaseURL     string `yaml:"cloudConvertBaseUrl"`
	CloudConvertSyncBaseURL string `yaml:"cloudConvertSyncBaseUrl"`
	CloudConvertAPIToken    string `yaml:"cloudConvertApiToken"`

	ReplicateBaseURL      string `yaml:"replicateBaseUrl"`
	ReplicateAPIToken     string `yaml:"replicateApiToken"`
	ReplicateModelVersion string `yaml:"replicateModelVersion"`

	HTTPTimeoutSeconds int   `yaml:"httpTimeoutSeconds"`
	MaxFileSizeBytes   int64 `yaml:"maxFileSizeBytes"`

	PollMaxRetries    int    `yaml:"pollMaxRetries"`
	PollRetryDelayMs  int    `yaml:"pollRetryDelayMs"`
	PollBackoffPolicy string `yaml:"pollBackoffPolicy"`
	PollMaxDelayMs    int    `yaml:"pollMaxDelayMs"`

	MaxConcurrentPipelines int `yaml:"maxConcurrentPipelines"`

	SessionSecret   string `yaml:"sessionSecret"`
	SessionTTLHours int    `yaml:"sessionTtlHours"`

	WebhookHmacSecret               string `yaml:"webhookHmacSecret"`
	ResultWebhookMaxAttempts        int    `yaml:"resultWebhookMaxAttempts"`
	ResultWebhookBaseBackoffSeconds int    `yaml:"resultWebhookBaseBackoffSeconds"`
	ResultWebhookMaxBackoffSeconds  int    `yaml:"resultWebhookMaxBackoffSeconds"`

	KafkaBrokers string `yaml:"kafkaBrokers"`
	KafkaTopic   string `yaml:"kafkaTopic"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LoadConfig reads the YAML file at filePath, then applies .env, environment
// overrides and defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	c.finish()
	return &c, nil
}

// LoadConfigOptional behaves like LoadConfig but treats an empty path or a
// missing file as an empty YAML document.
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) != "" {
		c, err := LoadConfig(filePath)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	var c Config
	c.finish()
	return &c, nil
}

func (c *Config) finish() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	c.applyEnv()
	c.applyDefaults()
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envString("ENV", &c.Env)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envInt("REDIS_DB", &c.RedisDB)
	envString("STORE_BACKEND", &c.StoreBackend)

	envString("OBJECT_STORE", &c.ObjectStore)
	envString("CLOUDINARY_BASE_URL", &c.CloudinaryBaseURL)
	envString("CLOUDINARY_CLOUD_ID", &c.CloudinaryCloudID)
	envString("CLOUDINARY_UPLOAD_PRESET", &c.CloudinaryUploadPreset)
	envString("MINIO_ENDPOINT", &c.Minio.Endpoint)
	envString("MINIO_ACCESS_KEY_ID", &c.Minio.AccessKeyID)
	envString("MINIO_SECRET_ACCESS_KEY", &c.Minio.SecretAccessKey)
	envString("MINIO_BUCKET", &c.Minio.Bucket)
	envBool("MINIO_USE_SSL", &c.Minio.UseSSL)
	envString("MINIO_PUBLIC_BASE_URL", &c.Minio.PublicBaseURL)
	envString("LOCAL_ARTIFACTS_DIR", &c.LocalArtifactsDir)

	envString("CLOUDCONVERT_BASE_URL", &c.CloudConvertBaseURL)
	envString("CLOUDCONVERT_SYNC_BASE_URL", &c.CloudConvertSyncBaseURL)
	envString("CLOUDCONVERT_API_TOKEN", &c.CloudConvertAPIToken)
	envString("REPLICATE_BASE_URL", &c.ReplicateBaseURL)
	envString("REPLICATE_API_TOKEN", &c.ReplicateAPIToken)
	envString("REPLICATE_MODEL_VERSION", &c.ReplicateModelVersion)

	envInt("HTTP_TIMEOUT_SECONDS", &c.HTTPTimeoutSeconds)
	if v := os.Getenv("MAX_FILE_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxFileSizeBytes = n
		}
	}
	envInt("POLL_MAX_RETRIES", &c.PollMaxRetries)
	envInt("POLL_RETRY_DELAY_MS", &c.PollRetryDelayMs)
	envString("POLL_BACKOFF_POLICY", &c.PollBackoffPolicy)
	envInt("POLL_MAX_DELAY_MS", &c.PollMaxDelayMs)
	envInt("MAX_CONCURRENT_PIPELINES", &c.MaxConcurrentPipelines)

	envString("SESSION_SECRET", &c.SessionSecret)
	envInt("SESSION_TTL_HOURS", &c.SessionTTLHours)

	envString("WEBHOOK_HMAC_SECRET", &c.WebhookHmacSecret)
	envInt("RESULT_WEBHOOK_MAX_ATTEMPTS", &c.ResultWebhookMaxAttempts)
	envInt("RESULT_WEBHOOK_BASE_BACKOFF_SECONDS", &c.ResultWebhookBaseBackoffSeconds)
	envInt("RESULT_WEBHOOK_MAX_BACKOFF_SECONDS", &c.ResultWebhookMaxBackoffSeconds)

	envString("KAFKA_BROKERS", &c.KafkaBrokers)
	envString("KAFKA_TOPIC", &c.KafkaTopic)

	envBool("TRACING_ENABLED", &c.Tracing.Enabled)
	envString("OTEL_SERVICE_NAME", &c.Tracing.ServiceName)
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.StoreBackend == "" {
		c.StoreBackend = "redis"
	}
	if c.ObjectStore == "" {
		c.ObjectStore = "cloudinary"
	}
	if c.LocalArtifactsDir == "" {
		c.LocalArtifactsDir = "/tmp/captionq-artifacts"
	}
	if c.Minio.PresignTTLSeconds <= 0 {
		c.Minio.PresignTTLSeconds = 24 * 3600
	}
	if c.HTTPTimeoutSeconds <= 0 {
		c.HTTPTimeoutSeconds = 30
	}
	if c.MaxFileSizeBytes <= 0 {
		c.MaxFileSizeBytes = 5 * 1024 * 1024
	}
	if c.PollMaxRetries <= 0 {
		c.PollMaxRetries = 5
	}
	if c.PollRetryDelayMs <= 0 {
		c.PollRetryDelayMs = 1000
	}
	if c.PollBackoffPolicy == "" {
		c.PollBackoffPolicy = "fixed"
	}
	if c.PollMaxDelayMs <= 0 {
		c.PollMaxDelayMs = 10000
	}
	if c.MaxConcurrentPipelines <= 0 {
		c.MaxConcurrentPipelines = 16
	}
	if c.SessionTTLHours <= 0 {
		c.SessionTTLHours = 24
	}
	if c.SessionSecret == "" && c.Env == "dev" {
		slog.Warn("sessionSecret not set, using an insecure dev secret")
		c.SessionSecret = "captionq-dev-secret"
	}
	if c.ResultWebhookMaxAttempts <= 0 {
		c.ResultWebhookMaxAttempts = 5
	}
	if c.ResultWebhookBaseBackoffSeconds <= 0 {
		c.ResultWebhookBaseBackoffSeconds = 2
	}
	if c.ResultWebhookMaxBackoffSeconds <= 0 {
		c.ResultWebhookMaxBackoffSeconds = 60
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "captionq.captions"
	}
}

func (c *Config) Validate() error {
	var errs []string
	dev := strings.EqualFold(strings.TrimSpace(c.Env), "dev")

	switch c.StoreBackend {
	case "redis", "memory":
	default:
		errs = append(errs, "storeBackend must be redis or memory")
	}

	switch c.ObjectStore {
	case "cloudinary":
		if c.CloudinaryCloudID == "" || c.CloudinaryUploadPreset == "" {
			errs = append(errs, "cloudinaryCloudId and cloudinaryUploadPreset are required for the cloudinary object store")
		}
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			errs = append(errs, "minio.endpoint and minio.bucket are required for the minio object store")
		}
	case "local":
		if !dev {
			errs = append(errs, "the local object store is only allowed in dev")
		}
	default:
		errs = append(errs, "objectStore must be cloudinary, minio or local")
	}

	for name, raw := range map[string]string{
		"cloudinaryBaseUrl":       c.CloudinaryBaseURL,
		"cloudConvertBaseUrl":     c.CloudConvertBaseURL,
		"cloudConvertSyncBaseUrl": c.CloudConvertSyncBaseURL,
		"replicateBaseUrl":        c.ReplicateBaseURL,
		"minio.publicBaseUrl":     c.Minio.PublicBaseURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, name+" must be a valid http(s) URL")
		}
	}

	if !dev {
		if c.CloudConvertAPIToken == "" {
			errs = append(errs, "cloudConvertApiToken is required in non-dev")
		}
		if c.ReplicateAPIToken == "" {
			errs = append(errs, "replicateApiToken is required in non-dev")
		}
		if c.WebhookHmacSecret == "" {
			errs = append(errs, "webhookHmacSecret is required in non-dev")
		}
	}
	if len(c.SessionSecret) < 16 {
		errs = append(errs, "sessionSecret must be at least 16 characters")
	}

	switch c.PollBackoffPolicy {
	case "fixed", "linear", "exponential", "exp_equal_jitter", "exp_full_jitter":
	default:
		errs = append(errs, "pollBackoffPolicy must be fixed, linear, exponential, exp_equal_jitter or exp_full_jitter")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
