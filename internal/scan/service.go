// Package scan は食事画像のスキャンと栄養・気分の分析を提供する。
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/moodie/internal/model"
)

// StorageKey はアップロード済み画像を保持する端末ストレージのキー。
const StorageKey = "scanImage"

const defaultDelay = time.Second

// Backend はスキャンで使うバックエンド呼び出し。
type Backend interface {
	ScanImage(ctx context.Context, base64Image string) (string, error)
	Prompt(ctx context.Context, text string) (string, error)
}

// Storage は端末ストレージのインターフェース。
type Storage interface {
	Get(ctx context.Context, deviceID, key string) (string, bool, error)
	Put(ctx context.Context, deviceID, key, value string) error
	Delete(ctx context.Context, deviceID, key string) error
}

// Config はスキャンの設定。
type Config struct {
	Warmup        bool          // 本番の推論前に捨て呼び出しを行うか
	Delay         time.Duration // 捨て呼び出しと本番呼び出しの間隔
	MaxImageBytes int64
}

// Result はスキャン結果。
type Result struct {
	ScanText string // 画像から推論した食品・栄養の説明
	Analysis string // 栄養の解説と気分改善の提案
}

// Service はスキャン画面のコントローラー。
type Service struct {
	backend Backend
	storage Storage
	config  Config
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewService はServiceを生成する。
func NewService(backend Backend, storage Storage, config Config, logger *slog.Logger) *Service {
	if config.Delay < 0 {
		config.Delay = defaultDelay
	}
	if config.MaxImageBytes <= 0 {
		config.MaxImageBytes = DefaultMaxImageBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend: backend,
		storage: storage,
		config:  config,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// MaxImageBytes はアップロード画像の上限サイズを返す。
func (s *Service) MaxImageBytes() int64 {
	return s.config.MaxImageBytes
}

// StoreImage は画像を検証し、データURIとして端末ストレージに保存する。
// 検証に失敗した場合は保存済みの画像を変更しない。
func (s *Service) StoreImage(ctx context.Context, deviceID, declaredType string, data []byte) (string, error) {
	mimeType, err := ValidateImage(declaredType, data, s.config.MaxImageBytes)
	if err != nil {
		return "", err
	}
	uri := EncodeDataURI(mimeType, data)
	if err := s.storage.Put(ctx, deviceID, StorageKey, uri); err != nil {
		return "", fmt.Errorf("failed to store scan image: %w", err)
	}
	return uri, nil
}

// PendingImage は保存済みの画像のデータURIを返す。未保存の場合は空文字。
func (s *Service) PendingImage(ctx context.Context, deviceID string) (string, error) {
	uri, found, err := s.storage.Get(ctx, deviceID, StorageKey)
	if err != nil {
		return "", fmt.Errorf("failed to load scan image: %w", err)
	}
	if !found {
		return "", nil
	}
	return uri, nil
}

// ClearImage は保存済みの画像を削除する。
func (s *Service) ClearImage(ctx context.Context, deviceID string) error {
	return s.storage.Delete(ctx, deviceID, StorageKey)
}

// Scan は画像を推論し、その結果から栄養と気分の分析を得る。
// 途中で失敗した場合は部分的な結果を返さない。
func (s *Service) Scan(ctx context.Context, dataURI string) (*Result, error) {
	if dataURI == "" {
		return nil, model.NewValidationError(MsgNoImage)
	}

	if s.config.Warmup {
		if _, err := s.backend.ScanImage(ctx, dataURI); err != nil {
			return nil, s.failed("warmup", err)
		}
		if err := s.sleep(ctx, s.config.Delay); err != nil {
			return nil, s.failed("delay", err)
		}
	}

	scanText, err := s.backend.ScanImage(ctx, dataURI)
	if err != nil {
		return nil, s.failed("scanImage", err)
	}

	analysis, err := s.backend.Prompt(ctx, NutritionPrompt(scanText))
	if err != nil {
		return nil, s.failed("prompt", err)
	}

	return &Result{ScanText: scanText, Analysis: analysis}, nil
}

// NutritionPrompt は推論結果から栄養解説と気分改善提案を求めるプロンプトを作る。
func NutritionPrompt(scanText string) string {
	var b strings.Builder
	b.WriteString("Based on the following food data, explain its nutritional content and whether it is a healthy meal:\n")
	b.WriteString(scanText)
	b.WriteString("\n\nAlso analyze the user's mood and give suggestions to help the user feel better.\n")
	return b.String()
}

func (s *Service) failed(step string, err error) error {
	s.logger.Error("scan failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	if model.IsKind(err, model.ErrCodeBackendCall) {
		return err
	}
	return model.NewBackendCallError(step, err)
}

// sleepContext はdだけ待つ。ctxが先に終了した場合はそのエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
