// Package backend はMoodieバックエンド（リモートアクター）のクライアントを提供する。
// ユーザー登録・参照、ジャーナルCRUD、画像スキャン推論、プロンプト推論の呼び出しを含む。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/moodie/internal/actor"
	"github.com/hitoshi/moodie/internal/model"
)

const (
	// principalHeader は呼び出し元プリンシパルを通知するヘッダー。
	principalHeader = "X-Moodie-Principal"
	// maxResponseSize はレスポンスボディの上限。
	maxResponseSize = 10 << 20
)

// 呼び出し結果の分類（メトリクスのラベル）。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// CallRecorder はバックエンド呼び出しのメトリクス記録インターフェース。
type CallRecorder interface {
	RecordBackendCall(method, outcome string, duration time.Duration)
}

// Config はバックエンドクライアントの設定。
type Config struct {
	BaseURL    string // 例: https://backend.example.com
	CanisterID string
}

// Client はバックエンドアクターのHTTP RPCクライアント。
// 呼び出しごとにコンテキストのactor.Agentで署名する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   CallRecorder
	endpoint   string
	now        func() time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
// recorderはnilでもよい。
func NewClient(cfg Config, httpClient *http.Client, recorder CallRecorder, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		recorder:   recorder,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/canister/" + url.PathEscape(cfg.CanisterID),
		now:        time.Now,
	}
}

// GetUserByPrincipal はプリンシパルに紐づくユーザーを取得する。見つからない場合はnilを返す。
func (c *Client) GetUserByPrincipal(ctx context.Context, principal string) (*model.User, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "getUserByPrincipal", []any{principal}, &raw); err != nil {
		return nil, err
	}
	user, err := decodeOptionalUser(raw)
	if err != nil {
		return nil, model.NewBackendCallError("getUserByPrincipal", err)
	}
	return user, nil
}

// AuthenticateUser はプリンシパルのユーザーを新規登録する。
func (c *Client) AuthenticateUser(ctx context.Context, principalText string) error {
	return c.call(ctx, "authenticateUser", []any{principalText}, nil)
}

// UpdateUserProfile はプロフィールを部分更新する。
// 未指定のフィールドは空配列として送り、サーバー側の既存値を維持させる。
func (c *Client) UpdateUserProfile(ctx context.Context, update model.ProfileUpdate) error {
	args := profileUpdateArgs{
		Username:       OptTextOf(update.Username),
		Name:           OptTextOf(update.Name),
		ProfilePicture: OptTextOf(update.ProfilePicture),
	}
	return c.call(ctx, "updateUserProfile", []any{args}, nil)
}

// GetJournals はユーザーのジャーナル一覧を取得する。
func (c *Client) GetJournals(ctx context.Context, userID string) ([]model.JournalEntry, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "getJournals", []any{userID}, &raw); err != nil {
		return nil, err
	}
	entries, err := decodeJournals(raw)
	if err != nil {
		return nil, model.NewBackendCallError("getJournals", err)
	}
	return entries, nil
}

// AddJournalEntry はジャーナルエントリを追加し、タグ付き結果を返す。
func (c *Client) AddJournalEntry(ctx context.Context, entry model.JournalEntry) (Result, error) {
	args := journalArgs{
		ID:         entry.ID,
		Title:      entry.Title,
		Content:    entry.Content,
		CreatedAt:  entry.CreatedAt,
		UpdatedAt:  entry.UpdatedAt,
		Mood:       entry.Mood,
		Reflection: entry.Reflection,
	}
	var result Result
	if err := c.call(ctx, "addJournalEntry", []any{args}, &result); err != nil {
		return Result{}, err
	}
	return result, nil
}

// DeleteJournalEntry はジャーナルエントリを削除し、タグ付き結果を返す。
func (c *Client) DeleteJournalEntry(ctx context.Context, id string) (Result, error) {
	var result Result
	if err := c.call(ctx, "deleteJournalEntry", []any{id}, &result); err != nil {
		return Result{}, err
	}
	return result, nil
}

// ScanImage はbase64画像（data URI）の栄養情報を推論する。
func (c *Client) ScanImage(ctx context.Context, base64Image string) (string, error) {
	var text string
	if err := c.call(ctx, "scanImage", []any{base64Image}, &text); err != nil {
		return "", err
	}
	return text, nil
}

// Prompt は自由形式のプロンプトに対する応答を返す。
func (c *Client) Prompt(ctx context.Context, text string) (string, error) {
	var reply string
	if err := c.call(ctx, "prompt", []any{text}, &reply); err != nil {
		return "", err
	}
	return reply, nil
}

// callRequest はRPC呼び出しのリクエストボディ。
type callRequest struct {
	Args []any `json:"args"`
}

// callResponse はRPC呼び出しのレスポンスボディ。
type callResponse struct {
	Reply         json.RawMessage `json:"reply"`
	RejectCode    int             `json:"reject_code,omitempty"`
	RejectMessage string          `json:"reject_message,omitempty"`
}

// call はメソッドを呼び出し、replyにデコードする。
// エラーはすべてBackendCallErrorとして返す。
func (c *Client) call(ctx context.Context, method string, args []any, reply any) error {
	start := c.now()
	err := c.doCall(ctx, method, args, reply)
	duration := c.now().Sub(start)

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
		c.logger.Error("backend call failed",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
	}
	if c.recorder != nil {
		c.recorder.RecordBackendCall(method, outcome, duration)
	}

	if err != nil {
		return model.NewBackendCallError(method, err)
	}
	return nil
}

func (c *Client) doCall(ctx context.Context, method string, args []any, reply any) error {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(callRequest{Args: args})
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Moodie/1.0")

	if err := c.sign(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope callResponse
	decodeErr := json.Unmarshal(data, &envelope)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && envelope.RejectMessage != "" {
			return fmt.Errorf("rejected with status %d: %s", resp.StatusCode, envelope.RejectMessage)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if envelope.RejectMessage != "" {
		return fmt.Errorf("rejected (code %d): %s", envelope.RejectCode, envelope.RejectMessage)
	}

	if reply == nil {
		return nil
	}
	if raw, ok := reply.(*json.RawMessage); ok {
		*raw = envelope.Reply
		return nil
	}
	if err := json.Unmarshal(envelope.Reply, reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// sign はコンテキストのAgentが保持するIdentityでリクエストに署名する。
// Agentがない、またはIdentity未設定の場合は匿名で呼び出す。
func (c *Client) sign(ctx context.Context, req *http.Request) error {
	agent := actor.AgentFromContext(ctx)
	id := agent.Identity()
	if id == nil {
		req.Header.Set(principalHeader, actor.AnonymousPrincipal)
		return nil
	}

	token, err := id.Sign(c.now())
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(principalHeader, id.Principal())
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
