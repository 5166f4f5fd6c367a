package internal

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	// Server holds HTTP server configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		IngestPath     string `yaml:"ingest_path"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"server"`
	// Storage configures the document store backing every collection.
	Storage StorageConfig `yaml:"storage"`
	// Queue configures the outbound publisher used for scan requests,
	// notifications and email dispatch.
	Queue QueueConfig `yaml:"queue"`
	// Topics names the destinations on the outbound publisher.
	Topics TopicsConfig `yaml:"topics"`
	// Retention configures the scheduled cleanup jobs.
	Retention RetentionConfig `yaml:"retention"`
	// Providers holds REST API credentials for provider-side actions.
	Providers ProvidersConfig `yaml:"providers"`
}

// StorageConfig selects the database driver and the per-collection tables.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Dialect     string `yaml:"dialect"`
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
	Tables      struct {
		Webhooks string `yaml:"webhooks"`
		Rules    string `yaml:"rules"`
		Logs     string `yaml:"logs"`
		Tasks    string `yaml:"tasks"`
	} `yaml:"tables"`
}

// QueueConfig holds configuration for the outbound message publisher.
type QueueConfig struct {
	Driver    string          `yaml:"driver"`
	Drivers   []string        `yaml:"drivers"`
	GoChannel GoChannelConfig `yaml:"gochannel"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	NATS      NATSConfig      `yaml:"nats"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	SQL       SQLConfig       `yaml:"sql"`
	HTTP      HTTPConfig      `yaml:"http"`
	River     RiverConfig     `yaml:"river"`
}

// GoChannelConfig holds configuration for the in-process pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka driver.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// NATSConfig holds configuration for the NATS streaming driver.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP driver.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL driver.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP driver.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverConfig holds configuration for the River job-queue driver.
type RiverConfig struct {
	DSN         string   `yaml:"dsn"`
	Queue       string   `yaml:"queue"`
	Kind        string   `yaml:"kind"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

// TopicsConfig names the outbound topics.
type TopicsConfig struct {
	Scan          string `yaml:"scan"`
	Notifications string `yaml:"notifications"`
	Email         string `yaml:"email"`
}

// RetentionConfig configures the scheduled cleanup jobs. Schedules are
// standard five-field cron expressions, evaluated in UTC.
type RetentionConfig struct {
	LogMaxAgeDays  int    `yaml:"log_max_age_days"`
	TaskMaxAgeDays int    `yaml:"task_max_age_days"`
	LogSchedule    string `yaml:"log_schedule"`
	TaskSchedule   string `yaml:"task_schedule"`
}

// ProvidersConfig holds REST credentials per provider.
type ProvidersConfig struct {
	GitHub    ProviderAPIConfig `yaml:"github"`
	GitLab    ProviderAPIConfig `yaml:"gitlab"`
	Bitbucket ProviderAPIConfig `yaml:"bitbucket"`
}

// ProviderAPIConfig is one provider's API access configuration.
type ProviderAPIConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// LoadConfig loads the application configuration from a YAML file. It expands
// environment variables and applies default values.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.IngestPath == "" {
		cfg.Server.IngestPath = "/hooks/ingest"
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Storage.Driver == "" && cfg.Storage.Dialect == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "scanhooks.db"
	}
	if cfg.Storage.Tables.Webhooks == "" {
		cfg.Storage.Tables.Webhooks = "webhooks"
	}
	if cfg.Storage.Tables.Rules == "" {
		cfg.Storage.Tables.Rules = "monitoring_rules"
	}
	if cfg.Storage.Tables.Logs == "" {
		cfg.Storage.Tables.Logs = "webhook_logs"
	}
	if cfg.Storage.Tables.Tasks == "" {
		cfg.Storage.Tables.Tasks = "webhook_tasks"
	}
	if cfg.Queue.Driver == "" && len(cfg.Queue.Drivers) == 0 {
		cfg.Queue.Driver = "gochannel"
	}
	if cfg.Queue.GoChannel.OutputChannelBuffer == 0 {
		cfg.Queue.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Queue.HTTP.Mode == "" {
		cfg.Queue.HTTP.Mode = "topic_url"
	}
	if cfg.Queue.River.Queue == "" {
		cfg.Queue.River.Queue = "default"
	}
	if cfg.Queue.River.Kind == "" {
		cfg.Queue.River.Kind = "scanhooks.dispatch"
	}
	if cfg.Queue.River.MaxAttempts == 0 {
		cfg.Queue.River.MaxAttempts = 25
	}
	if cfg.Queue.River.Priority == 0 {
		cfg.Queue.River.Priority = 1
	}
	if cfg.Topics.Scan == "" {
		cfg.Topics.Scan = "analysis.scan"
	}
	if cfg.Topics.Notifications == "" {
		cfg.Topics.Notifications = "notifications.user"
	}
	if cfg.Topics.Email == "" {
		cfg.Topics.Email = "notifications.email"
	}
	if cfg.Retention.LogMaxAgeDays == 0 {
		cfg.Retention.LogMaxAgeDays = 30
	}
	if cfg.Retention.TaskMaxAgeDays == 0 {
		cfg.Retention.TaskMaxAgeDays = 7
	}
	if cfg.Retention.LogSchedule == "" {
		cfg.Retention.LogSchedule = "0 0 * * *"
	}
	if cfg.Retention.TaskSchedule == "" {
		cfg.Retention.TaskSchedule = "0 1 * * *"
	}
}

func validate(cfg Config) error {
	if cfg.Retention.LogMaxAgeDays < 0 || cfg.Retention.TaskMaxAgeDays < 0 {
		return fmt.Errorf("retention ages must not be negative")
	}
	for _, driver := range cfg.Queue.Drivers {
		if strings.TrimSpace(driver) == "" {
			return fmt.Errorf("queue drivers must not contain empty entries")
		}
	}
	return nil
}
