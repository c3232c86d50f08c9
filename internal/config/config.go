// Package config loads the YAML configuration file shared by the worker,
// the CLI client, and the API server, with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Worker configures the classification worker binary.
type Worker struct {
	Region       string `yaml:"region"`
	SourceBucket string `yaml:"source_bucket"`
	DestBucket   string `yaml:"dest_bucket"`
	FailBucket   string `yaml:"fail_bucket"`
	TableName    string `yaml:"table_name"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	KafkaGroup   string   `yaml:"kafka_group"`

	TargetLabel      string  `yaml:"target_label"`
	MinConfidence    float64 `yaml:"min_confidence"`
	OracleTimeoutSec int     `yaml:"oracle_timeout_sec"`
	RetentionDays    int     `yaml:"retention_days"`
}

// OracleTimeout is the bound on a single oracle invocation.
func (w Worker) OracleTimeout() time.Duration {
	return time.Duration(w.OracleTimeoutSec) * time.Second
}

// Retention is how long records live before TTL expiry.
func (w Worker) Retention() time.Duration {
	return time.Duration(w.RetentionDays) * 24 * time.Hour
}

// Client configures the submission client and result query service.
type Client struct {
	Region       string `yaml:"region"`
	SourceBucket string `yaml:"source_bucket"`
	TableName    string `yaml:"table_name"`
	RedisAddr    string `yaml:"redis_addr"`
	LogsDir      string `yaml:"logs_dir"`
	IdentityFile string `yaml:"identity_file"`
	Concurrency  int    `yaml:"concurrency"`
}

// API configures the HTTP result API server.
type API struct {
	Addr        string `yaml:"addr"`
	Region      string `yaml:"region"`
	TableName   string `yaml:"table_name"`
	RedisAddr   string `yaml:"redis_addr"`
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
}

// Config is the root of the configuration file.
type Config struct {
	Worker Worker `yaml:"worker"`
	Client Client `yaml:"client"`
	API    API    `yaml:"api"`
}

// Load reads path, applies environment overrides, and fills defaults. A
// .env file in the working directory is honored when present.
func Load(path string) (*Config, error) {
	// Missing .env is fine; explicit config errors are not.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.Worker.Region, "AWS_REGION")
	overrideString(&c.Worker.SourceBucket, "S3BUCKET_SOURCE")
	overrideString(&c.Worker.DestBucket, "S3BUCKET_DEST")
	overrideString(&c.Worker.FailBucket, "S3BUCKET_FAIL")
	overrideString(&c.Worker.TableName, "DYNAMODB_TABLE_NAME")
	overrideString(&c.Worker.KafkaTopic, "KAFKA_TOPIC")
	overrideString(&c.Worker.KafkaGroup, "KAFKA_GROUP")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Worker.KafkaBrokers = splitAndTrim(brokers)
	}
	if raw := os.Getenv("MIN_CONFIDENCE"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			c.Worker.MinConfidence = v
		}
	}

	overrideString(&c.Client.Region, "AWS_REGION")
	overrideString(&c.Client.SourceBucket, "S3BUCKET_SOURCE")
	overrideString(&c.Client.TableName, "DYNAMODB_TABLE_NAME")
	overrideString(&c.Client.RedisAddr, "REDIS_ADDR")

	overrideString(&c.API.Region, "AWS_REGION")
	overrideString(&c.API.TableName, "DYNAMODB_TABLE_NAME")
	overrideString(&c.API.RedisAddr, "REDIS_ADDR")
	overrideString(&c.API.JWTSecret, "JWT_SECRET")
	overrideString(&c.API.JWTAudience, "JWT_AUDIENCE")
}

func (c *Config) applyDefaults() {
	if c.Worker.TargetLabel == "" {
		c.Worker.TargetLabel = "cat"
	}
	if c.Worker.MinConfidence == 0 {
		c.Worker.MinConfidence = 75
	}
	if c.Worker.OracleTimeoutSec == 0 {
		c.Worker.OracleTimeoutSec = 30
	}
	if c.Worker.RetentionDays == 0 {
		c.Worker.RetentionDays = 14
	}
	if c.Worker.KafkaGroup == "" {
		c.Worker.KafkaGroup = "cat-wrangler-worker"
	}
	if c.Client.LogsDir == "" {
		c.Client.LogsDir = "logs"
	}
	if c.Client.IdentityFile == "" {
		c.Client.IdentityFile = "config/client_id"
	}
	if c.Client.Concurrency == 0 {
		c.Client.Concurrency = 4
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
}

// Validate checks the fields the worker cannot run without.
func (w Worker) Validate() error {
	var missing []string
	if w.SourceBucket == "" {
		missing = append(missing, "source_bucket")
	}
	if w.DestBucket == "" {
		missing = append(missing, "dest_bucket")
	}
	if w.FailBucket == "" {
		missing = append(missing, "fail_bucket")
	}
	if w.TableName == "" {
		missing = append(missing, "table_name")
	}
	if len(w.KafkaBrokers) == 0 {
		missing = append(missing, "kafka_brokers")
	}
	if w.KafkaTopic == "" {
		missing = append(missing, "kafka_topic")
	}
	if len(missing) > 0 {
		return fmt.Errorf("worker config missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

func overrideString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
