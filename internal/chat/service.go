// Package chat はチャット画面の会話履歴管理とボット応答の生成を提供する。
// 会話履歴は端末ストレージにJSON配列として保存する。
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/repository"
)

const (
	// StorageKey は会話履歴を保存する端末ストレージのキー。
	StorageKey = "chatMessages"

	GreetingText = "Hi, how can I help you today?"
	TypingText   = "Moodie is typing..."
	ApologyText  = "Sorry, I couldn't respond at the moment."

	defaultHistoryLimit = 15
)

// Storage は端末ストレージの読み書きインターフェース。
type Storage interface {
	Get(ctx context.Context, deviceID, key string) (string, bool, error)
	Update(ctx context.Context, deviceID, key string, fn repository.UpdateFunc) error
}

// Prompter はボット応答を生成するバックエンド呼び出し。
type Prompter interface {
	Prompt(ctx context.Context, text string) (string, error)
}

// Notifier は会話履歴の変更を開いているページへ通知する。
type Notifier interface {
	Notify(deviceID string)
}

// Exchange は1回の送信で生成された、応答待ちのやりとり。
type Exchange struct {
	UserMessageID int
	PlaceholderID int
	Prompt        string
}

// Config はチャットサービスの設定。
type Config struct {
	HistoryLimit int // プロンプトに含める直近メッセージ数
}

// Service はチャット画面のコントローラー。
type Service struct {
	storage  Storage
	prompter Prompter
	notifier Notifier
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceを生成する。notifierはnilでもよい。
func NewService(storage Storage, prompter Prompter, notifier Notifier, config Config, logger *slog.Logger) *Service {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		storage:  storage,
		prompter: prompter,
		notifier: notifier,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// DefaultTranscript は初回表示用の挨拶メッセージを返す。
func DefaultTranscript(now time.Time) []model.ChatMessage {
	return []model.ChatMessage{
		{ID: 1, Sender: model.SenderBot, Text: GreetingText, Timestamp: now},
	}
}

// Load は保存済みの会話履歴を返す。
// 未保存の場合や壊れている場合は挨拶メッセージのみを返す。
func (s *Service) Load(ctx context.Context, deviceID string) ([]model.ChatMessage, error) {
	raw, found, err := s.storage.Get(ctx, deviceID, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat transcript: %w", err)
	}
	return s.decode(deviceID, raw, found), nil
}

// Send はユーザーメッセージと入力中プレースホルダーを追加し、
// ボット応答の生成に使うExchangeを返す。
func (s *Service) Send(ctx context.Context, deviceID, text string) (*Exchange, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.NewValidationError("Please enter a message.")
	}

	var ex Exchange
	err := s.storage.Update(ctx, deviceID, StorageKey, func(current string, found bool) (string, error) {
		messages := s.decode(deviceID, current, found)
		now := s.now()
		nextID := maxID(messages) + 1

		ex = Exchange{
			UserMessageID: nextID,
			PlaceholderID: nextID + 1,
			Prompt:        BuildPrompt(messages, text, s.config.HistoryLimit),
		}

		messages = append(messages,
			model.ChatMessage{ID: ex.UserMessageID, Sender: model.SenderUser, Text: text, Timestamp: now},
			model.ChatMessage{ID: ex.PlaceholderID, Sender: model.SenderBot, Text: TypingText, Timestamp: now, IsTyping: true},
		)
		return encode(messages)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save chat message: %w", err)
	}

	s.notify(deviceID)
	return &ex, nil
}

// Complete はボット応答を取得し、プレースホルダーを応答で置き換える。
// 応答の取得に失敗した場合は謝罪メッセージで置き換える。
func (s *Service) Complete(ctx context.Context, deviceID string, ex *Exchange) error {
	reply, err := s.prompter.Prompt(ctx, ex.Prompt)
	if err != nil {
		s.logger.Warn("chat reply failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()),
		)
		reply = ApologyText
	}

	err = s.storage.Update(ctx, deviceID, StorageKey, func(current string, found bool) (string, error) {
		messages := s.decode(deviceID, current, found)
		kept := messages[:0]
		for _, m := range messages {
			if m.IsTyping && m.ID == ex.PlaceholderID {
				continue
			}
			kept = append(kept, m)
		}
		kept = append(kept, model.ChatMessage{
			ID:        ex.PlaceholderID,
			Sender:    model.SenderBot,
			Text:      reply,
			Timestamp: s.now(),
		})
		return encode(kept)
	})
	if err != nil {
		return fmt.Errorf("failed to save chat reply: %w", err)
	}

	s.notify(deviceID)
	return nil
}

// BuildPrompt は直近limit件の確定済みメッセージと新しい発言からプロンプトを組み立てる。
func BuildPrompt(history []model.ChatMessage, text string, limit int) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		if m.IsTyping {
			continue
		}
		speaker := "Bot"
		if m.Sender == model.SenderUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+m.Text)
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return strings.Join(lines, "\n") + "\nUser: " + text
}

func (s *Service) decode(deviceID, raw string, found bool) []model.ChatMessage {
	if !found {
		return DefaultTranscript(s.now())
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		s.logger.Warn("discarding corrupt chat transcript",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()),
		)
		return DefaultTranscript(s.now())
	}
	return messages
}

func (s *Service) notify(deviceID string) {
	if s.notifier != nil {
		s.notifier.Notify(deviceID)
	}
}

func encode(messages []model.ChatMessage) (string, error) {
	data, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("failed to encode chat transcript: %w", err)
	}
	return string(data), nil
}

func maxID(messages []model.ChatMessage) int {
	id := 0
	for _, m := range messages {
		if m.ID > id {
			id = m.ID
		}
	}
	return id
}
