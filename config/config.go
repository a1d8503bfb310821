package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	FulfillBox FulfillBoxConfig `yaml:"fulfillbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	LabelPurchasedTopicName string `yaml:"label_purchased_topic_name"`
	TrackingEventsTopicName string `yaml:"tracking_events_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FulfillBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	SwaggerPath        string `yaml:"swagger_path"`

	// Hex-encoded 32-byte key for the address cipher.
	PIIKeyHex string `yaml:"pii_key_hex"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int `yaml:"worker_batch_size"`
	LockStalenessSeconds      int `yaml:"lock_staleness_seconds"`

	// Automation thresholds. Zero values fall back to production defaults
	// in the cmd wiring: 3 items, 4999 cents, 7 days, 90 days retention.
	MaxAutoItemCount     int    `yaml:"max_auto_item_count"`
	MaxAutoValueCents    int64  `yaml:"max_auto_value_cents"`
	MaxAutoOrderAgeDays  int    `yaml:"max_auto_order_age_days"`
	AddressRetentionDays int    `yaml:"address_retention_days"`
	PurgeCronSpec        string `yaml:"purge_cron_spec"`

	OrderViewCacheTTLSeconds int `yaml:"order_view_cache_ttl_seconds"`

	PreferredCarrier string `yaml:"preferred_carrier"`
	GroundService    string `yaml:"ground_service"`
	SecondaryCarrier string `yaml:"secondary_carrier"`

	ProviderRateLimitPerMinute int `yaml:"provider_rate_limit_per_minute"`

	// Empty base URL selects the local fake provider.
	EasypostBaseURL string `yaml:"easypost_base_url"`
	EasypostAPIKey  string `yaml:"easypost_api_key"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
