// Command migrate creates the Scylla keyspace/table for the message log
// and the Postgres schema for groups and membership. Idempotent; run it
// before first server start and after schema changes.
package main

import (
	"context"
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/jackc/pgx/v4"

	"github.com/mahaj/community-chat/pkg/db"
	"github.com/mahaj/community-chat/pkg/store"
)

type envConfig struct {
	ScyllaHosts    []string `env:"SCYLLA_HOSTS" envSeparator:"," envDefault:"localhost:9042"`
	ScyllaKeyspace string   `env:"SCYLLA_KEYSPACE" envDefault:"chat"`

	Postgres store.PostgresConfig
}

func main() {
	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse env config: %v", err)
	}

	migrateScylla(cfg)
	migratePostgres(cfg)

	log.Println("migrations complete")
}

func migrateScylla(cfg envConfig) {
	sysSession, err := db.NewSession(cfg.ScyllaHosts, "system")
	if err != nil {
		log.Fatalf("connect to Scylla system keyspace: %v", err)
	}

	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS ` + cfg.ScyllaKeyspace +
		` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatalf("create keyspace: %v", err)
	}
	sysSession.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		log.Fatalf("connect to Scylla %s keyspace: %v", cfg.ScyllaKeyspace, err)
	}
	defer session.Close()

	err = session.Query(`CREATE TABLE IF NOT EXISTS messages (
		room_id text,
		id bigint,
		sender_id text,
		text text,
		client_token text,
		created_at timestamp,
		PRIMARY KEY (room_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`).Exec()
	if err != nil {
		log.Fatalf("create messages table: %v", err)
	}

	log.Println("scylla schema ready")
}

func migratePostgres(cfg envConfig) {
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, cfg.Postgres.DSN())
	if err != nil {
		log.Fatalf("connect to Postgres: %v", err)
	}
	defer conn.Close(ctx)

	statements := []string{
		`create table if not exists groups (
			id          text primary key,
			name        text not null,
			description text not null default '',
			owner_id    text not null,
			created_at  timestamptz not null
		)`,
		`create table if not exists group_members (
			group_id text not null references groups(id) on delete cascade,
			user_id  text not null,
			primary key (group_id, user_id)
		)`,
		`create index if not exists group_members_user_idx on group_members (user_id)`,
	}

	for _, stmt := range statements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			log.Fatalf("exec migration: %v", err)
		}
	}

	log.Println("postgres schema ready")
}
