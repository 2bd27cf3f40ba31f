// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 有効期限を過ぎたログインセッションと、保持期間（デフォルト90日）を超えて
// 更新されていない端末ストレージを定期的に削除する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder は削除件数のメトリクス記録インターフェース。
type Recorder interface {
	RecordCleanup(table string, deleted int64)
}

// DefaultRetentionDays は端末ストレージの既定の保持日数。
const DefaultRetentionDays = 90

// target は1回の実行で削除する対象テーブルとクエリ。
type target struct {
	table string
	query string
	args  func(j *CleanupJob) []any
}

var targets = []target{
	{
		table: "sessions",
		query: `DELETE FROM sessions WHERE expires_at < now()`,
		args:  func(*CleanupJob) []any { return nil },
	},
	{
		table: "device_storage",
		query: `DELETE FROM device_storage WHERE updated_at < now() - $1::interval`,
		args: func(j *CleanupJob) []any {
			return []any{fmt.Sprintf("%d days", j.RetentionDays)}
		},
	},
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	recorder      Recorder
	RetentionDays int // 端末ストレージの保持日数
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db Executor, recorder Recorder, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		recorder:      recorder,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は全対象テーブルの削除を実行する。
// 1つのテーブルで失敗しても残りのテーブルは処理し、エラーはまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	var errs []error
	for _, t := range targets {
		if err := j.runTarget(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (j *CleanupJob) runTarget(ctx context.Context, t target) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, t.query, t.args(j)...)
	if err != nil {
		j.logger.Error("cleanup failed",
			slog.String("table", t.table),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to clean up %s: %w", t.table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to get deleted row count",
			slog.String("table", t.table),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to get deleted row count for %s: %w", t.table, err)
	}

	if j.recorder != nil {
		j.recorder.RecordCleanup(t.table, deleted)
	}
	j.logger.Info("cleanup completed",
		slog.String("table", t.table),
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はRunを起動直後に1回、その後interval毎に実行する。ctxの終了で戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
