package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hitoshi/moodie/internal/chat"
	"github.com/hitoshi/moodie/internal/middleware"
	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/web"
)

const (
	msgChatLoadFailed = "Failed to load the conversation."
	msgChatSendFailed = "Failed to send the message."

	eventWriteTimeout = 5 * time.Second
)

// ChatServiceInterface はチャットサービスのインターフェース。
type ChatServiceInterface interface {
	Load(ctx context.Context, deviceID string) ([]model.ChatMessage, error)
	Send(ctx context.Context, deviceID, text string) (*chat.Exchange, error)
	Complete(ctx context.Context, deviceID string, ex *chat.Exchange) error
}

// ChatEventSource は会話履歴の変更通知の購読インターフェース。
type ChatEventSource interface {
	Subscribe(deviceID string) (<-chan struct{}, func())
}

// TaskRunner はリクエストの完了後も続くバックグラウンド処理の実行インターフェース。
type TaskRunner interface {
	Go(parent context.Context, name string, fn func(ctx context.Context) error)
}

// transcriptEvent は会話履歴が更新されたことをブラウザに伝えるメッセージ。
type transcriptEvent struct {
	Type string `json:"type"`
}

// ChatHandler はチャット画面のHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
	events  ChatEventSource
	runner  TaskRunner
	pages   *pages
	logger  *slog.Logger
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface, events ChatEventSource, runner TaskRunner, p *pages) *ChatHandler {
	return &ChatHandler{service: service, events: events, runner: runner, pages: p, logger: p.logger}
}

// Show は会話履歴を表示する。
// GET /chat
func (h *ChatHandler) Show(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/chat", "Chat")
	if !h.pages.protect(w, page, web.PageChat, web.ChatContent{}) {
		return
	}
	h.renderTranscript(w, r, page, http.StatusOK, web.ChatContent{})
}

// Send はユーザーメッセージを保存し、ボット応答の生成をバックグラウンドで開始する。
// POST /chat/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	page := h.pages.build(r, "/chat", "Chat")
	if !h.pages.protect(w, page, web.PageChat, web.ChatContent{}) {
		return
	}

	deviceID := middleware.DeviceIDFromContext(r.Context())
	text := r.PostFormValue("text")
	ex, err := h.service.Send(r.Context(), deviceID, text)
	if err != nil {
		h.logger.Warn("chat send failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()),
		)
		h.renderTranscript(w, r, page, statusFor(err), web.ChatContent{
			Draft: text,
			Error: errorMessage(err, msgChatSendFailed),
		})
		return
	}

	h.runner.Go(r.Context(), "chat reply", func(ctx context.Context) error {
		return h.service.Complete(ctx, deviceID, ex)
	})
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

// Events は会話履歴の更新をWebSocketで通知する。
// GET /chat/events
func (h *ChatHandler) Events(w http.ResponseWriter, r *http.Request) {
	if principal(r) == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	deviceID := middleware.DeviceIDFromContext(r.Context())
	updates, unsubscribe := h.events.Subscribe(deviceID)
	defer unsubscribe()

	// クライアントからのメッセージは読まない。切断はctxの終了で検知する。
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := h.writeEvent(ctx, conn); err != nil {
				return
			}
		}
	}
}

func (h *ChatHandler) writeEvent(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, transcriptEvent{Type: "transcript"})
}

func (h *ChatHandler) renderTranscript(w http.ResponseWriter, r *http.Request, page *web.Page, status int, content web.ChatContent) {
	deviceID := middleware.DeviceIDFromContext(r.Context())
	messages, err := h.service.Load(r.Context(), deviceID)
	if err != nil {
		h.logger.Error("chat load failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()),
		)
		if content.Error == "" {
			content.Error = msgChatLoadFailed
		}
		if status == http.StatusOK {
			status = http.StatusInternalServerError
		}
	}
	content.Messages = messages
	for _, m := range messages {
		if m.IsTyping {
			content.Pending = true
			break
		}
	}
	h.pages.render(w, status, web.PageChat, page, content)
}
