package database

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type Database struct {
	conn *sql.DB
}

func New(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &Database{conn: db}, nil
}

func (d *Database) Conn() *sql.DB {
	return d.conn
}

func (d *Database) Close() error {
	return d.conn.Close()
}

func (d *Database) Ping() error {
	return d.conn.Ping()
}

func (d *Database) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name TEXT NOT NULL,
		password_policy_enabled BOOLEAN DEFAULT false,
		audit_logging_enabled BOOLEAN DEFAULT true,
		created_at TIMESTAMP DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id UUID REFERENCES workspaces(id) ON DELETE CASCADE,
		email TEXT UNIQUE NOT NULL,
		two_factor_enabled BOOLEAN DEFAULT false,
		created_at TIMESTAMP DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id UUID REFERENCES workspaces(id) ON DELETE CASCADE,
		user_id UUID REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		hashed_key TEXT UNIQUE NOT NULL,
		scope JSONB NOT NULL,
		expires_at TIMESTAMP,
		revoked_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_api_keys_workspace ON api_keys(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_api_keys_hashed ON api_keys(hashed_key);
	CREATE INDEX IF NOT EXISTS idx_users_workspace ON users(workspace_id);
	`
	_, err := d.conn.Exec(schema)
	return err
}
