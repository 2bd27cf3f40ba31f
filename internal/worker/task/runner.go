// Package task はリクエストから切り離したバックグラウンドタスクの実行を提供する。
// チャット応答の生成など、ページ遷移で中断されてはならない処理に使う。
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner はfire-and-forgetタスクを並列数の上限付きで実行する。
// 呼び出し元のコンテキストのキャンセルはタスクに伝播しない。
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup
}

// NewRunner はRunnerを生成する。
// maxConcurrencyが0以下の場合はデフォルト値16、timeoutが0以下の場合は1分を使用する。
func NewRunner(logger *slog.Logger, maxConcurrency int, timeout time.Duration) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 16
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger:  logger,
		timeout: timeout,
		sem:     make(chan struct{}, maxConcurrency),
	}
}

// Go はfnをバックグラウンドで実行する。
// fnには親コンテキストの値（Agentなど）を引き継ぎつつキャンセルを切り離し、
// タイムアウトを設定したコンテキストを渡す。
func (r *Runner) Go(parent context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		start := time.Now()
		err := r.run(ctx, fn)
		if err != nil {
			r.logger.Error("バックグラウンドタスクが失敗しました",
				slog.String("task", name),
				slog.String("error", err.Error()),
			)
			return
		}
		r.logger.Debug("バックグラウンドタスクが完了しました",
			slog.String("task", name),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}()
}

// run はpanicをエラーに変換してfnを実行する。
func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Wait は実行中のタスクがすべて終わるまで待つ。
// ctxが先に終了した場合はctxのエラーを返す。
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
