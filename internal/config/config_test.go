package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const validYAML = `
instance:
  id: test-server
database:
  postgres:
    host: localhost
    port: 5432
    name: test_db
    user: testuser
    password: testpass
auth:
  jwt_secret: test-secret
`

func TestLoad(t *testing.T) {
	path := writeTempFile(t, validYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-server" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-server")
	}
	if cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database.Postgres.Host = %q, want %q", cfg.Database.Postgres.Host, "localhost")
	}
	if cfg.Auth.JWTSecret != "test-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "test-secret")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-server
database:
  postgres:
    host: localhost
    name: test_db
    user: testuser
    password: ${TEST_DB_PASSWORD}
auth:
  jwt_secret: test-secret
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, validYAML)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.HTTP.Addr != DefaultHTTPAddr {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, DefaultHTTPAddr)
	}
	if cfg.Broker.Topic != DefaultTopic {
		t.Errorf("Broker.Topic = %q, want %q", cfg.Broker.Topic, DefaultTopic)
	}
	if cfg.Broker.Partitions != DefaultPartitions {
		t.Errorf("Broker.Partitions = %d, want %d", cfg.Broker.Partitions, DefaultPartitions)
	}
	if cfg.Broker.ConsumerGroup != DefaultConsumerGroup {
		t.Errorf("Broker.ConsumerGroup = %q, want %q", cfg.Broker.ConsumerGroup, DefaultConsumerGroup)
	}
	if cfg.Broker.ConnectRetryDelay != 5*time.Second {
		t.Errorf("Broker.ConnectRetryDelay = %v, want %v", cfg.Broker.ConnectRetryDelay, 5*time.Second)
	}
	if cfg.Database.Postgres.MaxConns != DefaultMaxConns {
		t.Errorf("Database.Postgres.MaxConns = %d, want %d", cfg.Database.Postgres.MaxConns, DefaultMaxConns)
	}
	if cfg.Auth.TokenTTL != DefaultTokenTTL {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, DefaultTokenTTL)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, validYAML)

	if _, err := LoadAndValidate(path); err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"missing instance id", func(c *ServerConfig) { c.Instance.ID = "" }},
		{"missing db host", func(c *ServerConfig) { c.Database.Postgres.Host = "" }},
		{"missing db password", func(c *ServerConfig) { c.Database.Postgres.Password = "" }},
		{"missing jwt secret", func(c *ServerConfig) { c.Auth.JWTSecret = "" }},
		{"zero partitions", func(c *ServerConfig) { c.Broker.Partitions = -1 }},
		{"min conns above max", func(c *ServerConfig) {
			c.Database.Postgres.MinConns = 20
			c.Database.Postgres.MaxConns = 10
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadWithDefaults(writeTempFile(t, validYAML))
			if err != nil {
				t.Fatalf("LoadWithDefaults failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate succeeded, want error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load succeeded on missing file, want error")
	}
}
