// Package journal はジャーナル画面の一覧取得・追加・削除を提供する。
package journal

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/moodie/internal/backend"
	"github.com/hitoshi/moodie/internal/localstate"
	"github.com/hitoshi/moodie/internal/model"
)

// MsgMissingFields はタイトルまたは本文が空の場合のエラーメッセージ。
const MsgMissingFields = "Please enter both a title and content."

// Backend はジャーナル関連のバックエンド呼び出しインターフェース。
type Backend interface {
	GetJournals(ctx context.Context, userID string) ([]model.JournalEntry, error)
	AddJournalEntry(ctx context.Context, entry model.JournalEntry) (backend.Result, error)
	DeleteJournalEntry(ctx context.Context, id string) (backend.Result, error)
}

// Service はジャーナル画面のコントローラー。
// 取得した一覧はユーザー単位のローカル状態として保持する。
type Service struct {
	backend Backend
	state   *localstate.Store[[]model.JournalEntry]
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewService はServiceを生成する。
func NewService(b Backend, state *localstate.Store[[]model.JournalEntry], logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend: b,
		state:   state,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Fetch はバックエンドから一覧を取得してローカル状態を置き換える。
func (s *Service) Fetch(ctx context.Context, userID string) ([]model.JournalEntry, error) {
	entries, err := s.backend.GetJournals(ctx, userID)
	if err != nil {
		s.logger.Error("failed to fetch journals",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.state.Set(userID, entries)
	return entries, nil
}

// Entries はローカル状態の一覧を返す。未取得の場合はFetchする。
func (s *Service) Entries(ctx context.Context, userID string) ([]model.JournalEntry, error) {
	if entries, ok := s.state.Get(userID); ok {
		return entries, nil
	}
	return s.Fetch(ctx, userID)
}

// Add はエントリを追加し、成功時は一覧を再取得する。
// タイトルか本文が空の場合はバックエンドを呼ばずにValidationErrorを返す。
func (s *Service) Add(ctx context.Context, userID, title, content string) error {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" || content == "" {
		return model.NewValidationError(MsgMissingFields)
	}

	now := s.now().UnixMilli()
	entry := model.JournalEntry{
		ID:        s.newID(),
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := s.backend.AddJournalEntry(ctx, entry)
	if err != nil {
		return err
	}
	if !result.Ok {
		s.logger.Error("add journal entry rejected",
			slog.String("user_id", userID),
			slog.String("error", result.Err),
		)
		return model.NewBackendCallError("addJournalEntry", errors.New(result.Err))
	}

	_, err = s.Fetch(ctx, userID)
	return err
}

// Delete はエントリを削除し、成功時はローカル状態からそのIDだけを取り除く。
// 一覧の再取得は行わない。
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	result, err := s.backend.DeleteJournalEntry(ctx, id)
	if err != nil {
		return err
	}
	if !result.Ok {
		s.logger.Error("delete journal entry rejected",
			slog.String("user_id", userID),
			slog.String("entry_id", id),
			slog.String("error", result.Err),
		)
		return model.NewBackendCallError("deleteJournalEntry", errors.New(result.Err))
	}

	s.state.Update(userID, func(current []model.JournalEntry, found bool) ([]model.JournalEntry, bool) {
		if !found {
			return nil, false
		}
		return slices.DeleteFunc(slices.Clone(current), func(e model.JournalEntry) bool {
			return e.ID == id
		}), true
	})
	return nil
}

// Sorted は作成日時の新しい順に並べたコピーを返す。
func Sorted(entries []model.JournalEntry) []model.JournalEntry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b model.JournalEntry) int {
		return cmp.Compare(b.CreatedAt, a.CreatedAt)
	})
	return sorted
}

// MoodClass は気分ラベルに対応するバッジのCSSクラスを返す。
func MoodClass(mood string) string {
	m := strings.ToLower(mood)
	switch {
	case m == "":
		return ""
	case strings.Contains(m, "happy"):
		return "mood-happy"
	case strings.Contains(m, "sad"):
		return "mood-sad"
	case strings.Contains(m, "angry"):
		return "mood-angry"
	case strings.Contains(m, "relaxed"):
		return "mood-relaxed"
	case strings.Contains(m, "neutral"):
		return "mood-neutral"
	default:
		return "mood-default"
	}
}
