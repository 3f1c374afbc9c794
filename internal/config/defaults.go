package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHTTPAddr          = ":8000"
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultTopic             = "metrics-stream"
	DefaultPartitions        = 4
	DefaultConsumerGroup     = "insightboard-consumers"
	DefaultConnectRetries    = 3
	DefaultConnectRetryDelay = 5 * time.Second
	DefaultFetchBatchSize    = 100
	DefaultSubscriberBuffer  = 64
	DefaultTokenTTL          = 30 * time.Minute
	DefaultMaxBatch          = 1000
)

func (c *ServerConfig) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}

	applyDBDefaults(&c.Database.Postgres)

	if c.Broker.Topic == "" {
		c.Broker.Topic = DefaultTopic
	}
	if c.Broker.Partitions == 0 {
		c.Broker.Partitions = DefaultPartitions
	}
	if c.Broker.ConsumerGroup == "" {
		c.Broker.ConsumerGroup = DefaultConsumerGroup
	}
	if c.Broker.ConnectRetries == 0 {
		c.Broker.ConnectRetries = DefaultConnectRetries
	}
	if c.Broker.ConnectRetryDelay == 0 {
		c.Broker.ConnectRetryDelay = DefaultConnectRetryDelay
	}
	if c.Broker.FetchBatchSize == 0 {
		c.Broker.FetchBatchSize = DefaultFetchBatchSize
	}

	if c.Relay.SubscriberBuffer == 0 {
		c.Relay.SubscriberBuffer = DefaultSubscriberBuffer
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	if c.Ingest.MaxBatch == 0 {
		c.Ingest.MaxBatch = DefaultMaxBatch
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
