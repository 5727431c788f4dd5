// internal/common/config/config.go
package config

import (
	"fmt"
	"net"
	"strconv"
)

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig               `mapstructure:"app"`
	Camunda      CamundaConfig           `mapstructure:"camunda"`
	APNs         APNsConfig              `mapstructure:"apns"`
	Database     DatabaseConfig          `mapstructure:"database"`
	Workers      map[string]WorkerConfig `mapstructure:"workers"`
	Integrations IntegrationConfig       `mapstructure:"integrations"`
	Logging      LoggingConfig           `mapstructure:"logging"`
	Metrics      MetricsConfig           `mapstructure:"metrics"`
	Registry     RegistryConfig          `mapstructure:"registry"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// APNs environments.
const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

const (
	GatewayPort  = 2195
	FeedbackPort = 2196
)

// APNsConfig holds the push gateway settings.
type APNsConfig struct {
	Environment string `mapstructure:"environment"` // "sandbox" or "production"
	CertFile    string `mapstructure:"cert_file"`
	KeyFile     string `mapstructure:"key_file"`

	// Overrides for the environment's default hosts, "host:port".
	GatewayAddress  string `mapstructure:"gateway_address"`
	FeedbackAddress string `mapstructure:"feedback_address"`

	DialTimeout       int  `mapstructure:"dial_timeout"` // milliseconds
	MaxPayloadLength  int  `mapstructure:"max_payload_length"`
	Truncate          bool `mapstructure:"truncate"`
	FeedbackReadSize  int  `mapstructure:"feedback_read_size"`
	InvalidTokenTTL   int  `mapstructure:"invalid_token_ttl"` // seconds
	NotificationTTL   int  `mapstructure:"notification_ttl"`  // seconds, 0 = no store-and-forward
	FeedbackBatchSize int  `mapstructure:"feedback_batch_size"`
}

// IsSandbox reports whether the sandbox hosts are used.
func (a APNsConfig) IsSandbox() bool {
	return a.Environment != EnvironmentProduction
}

// Gateway returns the notification gateway address.
func (a APNsConfig) Gateway() string {
	if a.GatewayAddress != "" {
		return a.GatewayAddress
	}
	host := "gateway.push.apple.com"
	if a.IsSandbox() {
		host = "gateway.sandbox.push.apple.com"
	}
	return net.JoinHostPort(host, strconv.Itoa(GatewayPort))
}

// Feedback returns the feedback service address.
func (a APNsConfig) Feedback() string {
	if a.FeedbackAddress != "" {
		return a.FeedbackAddress
	}
	host := "feedback.push.apple.com"
	if a.IsSandbox() {
		host = "feedback.sandbox.push.apple.com"
	}
	return net.JoinHostPort(host, strconv.Itoa(FeedbackPort))
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// IntegrationConfig holds settings for external services.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SNS    struct {
			Enabled               bool   `mapstructure:"enabled"`
			TokenInvalidatedTopic string `mapstructure:"token_invalidated_topic"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds the health/metrics HTTP listener settings.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// RegistryConfig points at the activity registry describing worker schemas.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}
