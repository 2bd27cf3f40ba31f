package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/moodie/internal/journal"
	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/web"
)

const (
	msgJournalLoadFailed   = "Failed to load journal entries."
	msgJournalAddFailed    = "Failed to add the journal entry."
	msgJournalDeleteFailed = "Failed to delete the journal entry."
)

// JournalServiceInterface はジャーナルサービスのインターフェース。
type JournalServiceInterface interface {
	Fetch(ctx context.Context, userID string) ([]model.JournalEntry, error)
	Entries(ctx context.Context, userID string) ([]model.JournalEntry, error)
	Add(ctx context.Context, userID, title, content string) error
	Delete(ctx context.Context, userID, id string) error
}

// JournalHandler はジャーナル画面のHTTPハンドラー。
type JournalHandler struct {
	service JournalServiceInterface
	pages   *pages
	logger  *slog.Logger
}

// NewJournalHandler はJournalHandlerを生成する。
func NewJournalHandler(service JournalServiceInterface, p *pages) *JournalHandler {
	return &JournalHandler{service: service, pages: p, logger: p.logger}
}

// Show はバックエンドから一覧を取得し、新しい順に表示する。
// GET /journal
func (h *JournalHandler) Show(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/journal", "Journal")
	if !h.pages.protect(w, page, web.PageJournal, web.JournalContent{}) || !h.requireUser(w, page) {
		return
	}

	content := web.JournalContent{}
	status := http.StatusOK
	entries, err := h.service.Fetch(r.Context(), userID(page))
	if err != nil {
		content.Error = msgJournalLoadFailed
		status = statusFor(err)
	}
	content.Entries = journal.Sorted(entries)
	h.pages.render(w, status, web.PageJournal, page, content)
}

// Add はエントリを追加する。エラー時は入力内容を残して再表示する。
// POST /journal
func (h *JournalHandler) Add(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/journal", "Journal")
	if !h.pages.protect(w, page, web.PageJournal, web.JournalContent{}) || !h.requireUser(w, page) {
		return
	}

	title := r.PostFormValue("title")
	body := r.PostFormValue("content")
	if err := h.service.Add(r.Context(), userID(page), title, body); err != nil {
		h.render(w, r, page, statusFor(err), web.JournalContent{
			Title: title,
			Body:  body,
			Error: errorMessage(err, msgJournalAddFailed),
		})
		return
	}
	h.render(w, r, page, http.StatusOK, web.JournalContent{})
}

// Delete はエントリを削除する。
// POST /journal/{id}/delete
func (h *JournalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/journal", "Journal")
	if !h.pages.protect(w, page, web.PageJournal, web.JournalContent{}) || !h.requireUser(w, page) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), userID(page), id); err != nil {
		h.render(w, r, page, statusFor(err), web.JournalContent{Error: errorMessage(err, msgJournalDeleteFailed)})
		return
	}
	h.render(w, r, page, http.StatusOK, web.JournalContent{})
}

// render はローカルの一覧で画面を描画する。
func (h *JournalHandler) render(w http.ResponseWriter, r *http.Request, page *web.Page, status int, content web.JournalContent) {
	entries, err := h.service.Entries(r.Context(), userID(page))
	if err != nil {
		h.logger.Warn("failed to load journal entries", slog.String("error", err.Error()))
		if content.Error == "" {
			content.Error = msgJournalLoadFailed
		}
	}
	content.Entries = journal.Sorted(entries)
	h.pages.render(w, status, web.PageJournal, page, content)
}

// userID はジャーナルの所有者IDを返す。ユーザーを読み込めていなければ空文字。
func userID(page *web.Page) string {
	if page.User == nil {
		return ""
	}
	return page.User.ID
}

// requireUser はユーザーを読み込めていない場合にエラーを表示し、falseを返す。
func (h *JournalHandler) requireUser(w http.ResponseWriter, page *web.Page) bool {
	if userID(page) != "" {
		return true
	}
	h.pages.render(w, http.StatusBadGateway, web.PageJournal, page, web.JournalContent{Error: msgJournalLoadFailed})
	return false
}
