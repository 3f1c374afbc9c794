package config

import "time"

// ServerConfig is the root configuration for an InsightBoard server instance.
type ServerConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Broker   BrokerConfig   `yaml:"broker"`
	Relay    RelayConfig    `yaml:"relay"`
	Auth     AuthConfig     `yaml:"auth"`
	Ingest   IngestConfig   `yaml:"ingest"`
}

// InstanceConfig identifies this server.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the Postgres connection for metrics and relational data.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BrokerConfig holds the durable log settings shared by producer and consumer.
type BrokerConfig struct {
	Topic             string        `yaml:"topic"`
	Partitions        int           `yaml:"partitions"`
	ConsumerGroup     string        `yaml:"consumer_group"`
	ConnectRetries    int           `yaml:"connect_retries"`
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay"`
	FetchBatchSize    int           `yaml:"fetch_batch_size"`
}

// RelayConfig holds pub/sub fan-out settings.
type RelayConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// IngestConfig holds ingestion front-door limits.
type IngestConfig struct {
	MaxBatch int `yaml:"max_batch"`
}
