// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a ConfigStore backed by a local SQLite database. Each
// record is stored as one JSON document so a Put is a single atomic
// statement.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and runs
// migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS integration_configs (
			tenant_id TEXT NOT NULL,
			integration_id TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, integration_id)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, tenantID, integrationID string) (*IntegrationConfig, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM integration_configs WHERE tenant_id = ? AND integration_id = ?`,
		tenantID, integrationID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(tenantID, integrationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return decode(data)
}

func (s *SQLiteStore) Put(ctx context.Context, cfg *IntegrationConfig) error {
	if err := validateKey(cfg); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO integration_configs (tenant_id, integration_id, data, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id, integration_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		cfg.TenantID, cfg.IntegrationID, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// UpdateTestStatus patches the lastTestStatus member of the stored JSON in a
// single statement, so a concurrent Put is never overwritten.
func (s *SQLiteStore) UpdateTestStatus(ctx context.Context, tenantID, integrationID string, status *TestStatus) error {
	query := `UPDATE integration_configs SET data = json_remove(data, '$.lastTestStatus')
		WHERE tenant_id = ? AND integration_id = ?`
	args := []any{tenantID, integrationID}
	if status != nil {
		encoded, err := json.Marshal(status)
		if err != nil {
			return fmt.Errorf("failed to encode test status: %w", err)
		}
		query = `UPDATE integration_configs SET data = json_set(data, '$.lastTestStatus', json(?))
			WHERE tenant_id = ? AND integration_id = ?`
		args = append([]any{string(encoded)}, args...)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update test status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update test status: %w", err)
	}
	if n == 0 {
		return notFound(tenantID, integrationID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, tenantID, integrationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM integration_configs WHERE tenant_id = ? AND integration_id = ?`,
		tenantID, integrationID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*IntegrationConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM integration_configs ORDER BY tenant_id, integration_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	defer rows.Close()

	var out []*IntegrationConfig
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		cfg, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decode(data string) (*IntegrationConfig, error) {
	var cfg IntegrationConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
