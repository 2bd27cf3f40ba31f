package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresDeviceStorageRepo はPostgreSQLを使用した端末ストレージリポジトリ。
type PostgresDeviceStorageRepo struct {
	db *sql.DB
}

// NewPostgresDeviceStorageRepo はPostgresDeviceStorageRepoを生成する。
func NewPostgresDeviceStorageRepo(db *sql.DB) *PostgresDeviceStorageRepo {
	return &PostgresDeviceStorageRepo{db: db}
}

// Get は値を取得する。未保存または空の場合はfound=falseを返す。
func (r *PostgresDeviceStorageRepo) Get(ctx context.Context, deviceID, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM device_storage WHERE device_id = $1 AND key = $2`,
		deviceID, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get device storage: %w", err)
	}
	return value, value != "", nil
}

// Put は値を保存する。
func (r *PostgresDeviceStorageRepo) Put(ctx context.Context, deviceID, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_storage (device_id, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (device_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		deviceID, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to put device storage: %w", err)
	}
	return nil
}

// Update は行ロック（FOR UPDATE）を取得してfnを適用する。
// 行が存在しない場合は空値で作成してからロックする。
func (r *PostgresDeviceStorageRepo) Update(ctx context.Context, deviceID, key string, fn UpdateFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO device_storage (device_id, key, value)
		 VALUES ($1, $2, '')
		 ON CONFLICT (device_id, key) DO NOTHING`,
		deviceID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure device storage row: %w", err)
	}

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM device_storage WHERE device_id = $1 AND key = $2 FOR UPDATE`,
		deviceID, key,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to lock device storage row: %w", err)
	}

	next, err := fn(current, current != "")
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE device_storage SET value = $3, updated_at = now()
		 WHERE device_id = $1 AND key = $2`,
		deviceID, key, next,
	)
	if err != nil {
		return fmt.Errorf("failed to update device storage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete は値を削除する。
func (r *PostgresDeviceStorageRepo) Delete(ctx context.Context, deviceID, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM device_storage WHERE device_id = $1 AND key = $2`,
		deviceID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete device storage: %w", err)
	}
	return nil
}

// compile-time interface check
var _ DeviceStorageRepository = (*PostgresDeviceStorageRepo)(nil)
