package main

import (
	"github.com/mahaj/community-chat/pkg/store"
)

// EnvConfig defines everything the server reads from the environment.
// KAFKA_BROKERS left empty disables the cross-node bridge; MEMORY_STORES
// runs without Scylla/Postgres/Redis for local development.
type EnvConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port uint16 `env:"PORT" envDefault:"8080"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"dev_secret_change_me"`
	NodeID    int64  `env:"NODE_ID" envDefault:"1"`

	MemoryStores bool `env:"MEMORY_STORES" envDefault:"false"`

	ScyllaHosts    []string `env:"SCYLLA_HOSTS" envSeparator:"," envDefault:"localhost:9042"`
	ScyllaKeyspace string   `env:"SCYLLA_KEYSPACE" envDefault:"chat"`

	Postgres store.PostgresConfig

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"chat-events"`
}
