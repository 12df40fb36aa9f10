// Package config provides configuration loading and validation for the
// notification engines.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultDispatchTimeout is the per-channel I/O timeout in seconds when a
// channel section does not set one.
const DefaultDispatchTimeout = 5

// Config holds all configuration parameters for the notification engines.
// One YAML file is shared by every engine process.
type Config struct {
	Kafka             KafkaConfig             `yaml:"kafka"`
	MySQL             MySQLConfig             `yaml:"mysql"`
	Processors        ProcessorsConfig        `yaml:"processors"`
	Retry             RetryConfig             `yaml:"retry"`
	Metrics           MetricsConfig           `yaml:"metrics"`
	NotificationTypes NotificationTypesConfig `yaml:"notification_types"`
}

// KafkaConfig names the brokers, consumer group and topics.
type KafkaConfig struct {
	URL                    string `yaml:"url"`
	Group                  string `yaml:"group"`
	AlarmTopic             string `yaml:"alarm_topic"`
	NotificationTopic      string `yaml:"notification_topic"`
	NotificationRetryTopic string `yaml:"notification_retry_topic"`
	// Periodic maps a period name (seconds, e.g. "60") to its topic.
	Periodic map[string]string `yaml:"periodic"`
}

// MySQLConfig describes the configuration-store connection.
type MySQLConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	User   string `yaml:"user"`
	Passwd string `yaml:"passwd"`
	DB     string `yaml:"db"`
	// SSL is passed through as the driver tls parameter, e.g. "true" or
	// "skip-verify". Empty disables TLS.
	SSL string `yaml:"ssl"`
}

// ProcessorsConfig carries per-processor tuning.
type ProcessorsConfig struct {
	Alarm AlarmProcessorConfig `yaml:"alarm"`
}

// AlarmProcessorConfig tunes the alarm transformer.
type AlarmProcessorConfig struct {
	// TTL is the maximum alarm age in seconds; nil disables the check.
	TTL *int `yaml:"ttl"`
}

// RetryConfig bounds the retry engine.
type RetryConfig struct {
	Interval    int `yaml:"interval"` // seconds between attempts
	MaxAttempts int `yaml:"max_attempts"`
}

// MetricsConfig points at the metrics sink. Empty disables reporting.
type MetricsConfig struct {
	RedisAddr string `yaml:"redis_addr"`
}

// NotificationTypesConfig enables and configures the channel dispatchers.
// A dispatcher is active only when its section is present and valid.
type NotificationTypesConfig struct {
	// Plugins names additional dispatcher kinds registered at build time.
	Plugins   []string         `yaml:"plugins"`
	Email     *EmailConfig     `yaml:"email"`
	Webhook   *WebhookConfig   `yaml:"webhook"`
	Slack     *SlackConfig     `yaml:"slack"`
	Pagerduty *PagerdutyConfig `yaml:"pagerduty"`
}

// TemplateConfig describes an optional channel template. Text and
// TemplateFile are mutually exclusive; TemplateFile is read once at
// configure time.
type TemplateConfig struct {
	Text         string `yaml:"text"`
	TemplateFile string `yaml:"template_file"`
	MimeType     string `yaml:"mime_type"`
	Subject      string `yaml:"subject"`
}

// EmailConfig configures the SMTP dispatcher.
type EmailConfig struct {
	Server   string          `yaml:"server"`
	Port     int             `yaml:"port"`
	User     string          `yaml:"user"`
	Password string          `yaml:"password"`
	FromAddr string          `yaml:"from_addr"`
	Timeout  int             `yaml:"timeout"`
	Template *TemplateConfig `yaml:"template"`
}

// WebhookConfig configures the webhook dispatcher.
type WebhookConfig struct {
	Timeout int `yaml:"timeout"`
}

// SlackConfig configures the chat-room dispatcher.
type SlackConfig struct {
	Timeout  int             `yaml:"timeout"`
	Insecure bool            `yaml:"insecure"`
	CACerts  string          `yaml:"ca_certs"`
	Proxy    string          `yaml:"proxy"`
	Template *TemplateConfig `yaml:"template"`
}

// PagerdutyConfig configures the paging dispatcher.
type PagerdutyConfig struct {
	Timeout int `yaml:"timeout"`
	// URL overrides the provider's event-trigger endpoint.
	URL string `yaml:"url"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.Retry.Interval == 0 {
		c.Retry.Interval = 30
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
}

// Validate checks that all required configuration fields are set and have
// valid values.
func (c *Config) Validate() error {
	if c.Kafka.URL == "" {
		return fmt.Errorf("kafka.url cannot be empty")
	}
	if c.Kafka.Group == "" {
		return fmt.Errorf("kafka.group cannot be empty")
	}
	if c.Kafka.AlarmTopic == "" {
		return fmt.Errorf("kafka.alarm_topic cannot be empty")
	}
	if c.Kafka.NotificationTopic == "" {
		return fmt.Errorf("kafka.notification_topic cannot be empty")
	}
	if c.Kafka.NotificationRetryTopic == "" {
		return fmt.Errorf("kafka.notification_retry_topic cannot be empty")
	}
	for name, topic := range c.Kafka.Periodic {
		if _, err := strconv.Atoi(name); err != nil {
			return fmt.Errorf("kafka.periodic key %q is not a period in seconds", name)
		}
		if topic == "" {
			return fmt.Errorf("kafka.periodic[%s] topic cannot be empty", name)
		}
	}
	if c.MySQL.Host == "" {
		return fmt.Errorf("mysql.host cannot be empty")
	}
	if c.MySQL.User == "" {
		return fmt.Errorf("mysql.user cannot be empty")
	}
	if c.MySQL.DB == "" {
		return fmt.Errorf("mysql.db cannot be empty")
	}
	if c.Retry.Interval < 0 {
		return fmt.Errorf("retry.interval cannot be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if ttl := c.Processors.Alarm.TTL; ttl != nil && *ttl < 0 {
		return fmt.Errorf("processors.alarm.ttl cannot be negative")
	}
	return nil
}

// PeriodSeconds resolves a periodic-topic name to its period in seconds.
func (c *Config) PeriodSeconds(name string) (int, error) {
	if _, ok := c.Kafka.Periodic[name]; !ok {
		return 0, fmt.Errorf("no periodic topic configured for period %q", name)
	}
	seconds, err := strconv.Atoi(name)
	if err != nil {
		return 0, fmt.Errorf("periodic name %q is not a period in seconds", name)
	}
	return seconds, nil
}
