package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hitoshi/moodie/internal/model"
)

// OptText はバックエンドのオプショナル値の表現。
// 未設定は空配列 []、設定ありは要素1つの配列 ["v"] としてエンコードする。
// デコード時はnull、素の文字列、配列のいずれも受け付ける。
type OptText []string

// OptTextOf はポインタからOptTextを生成する。nilまたは空文字は未設定になる。
func OptTextOf(p *string) OptText {
	if v := model.Present(p); v != nil {
		return OptText{*v}
	}
	return OptText{}
}

// Value は設定値のポインタを返す。未設定の場合はnil。
func (o OptText) Value() *string {
	if len(o) == 0 || o[0] == "" {
		return nil
	}
	v := o[0]
	return &v
}

// MarshalJSON は常に配列としてエンコードする。
func (o OptText) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(o))
}

// UnmarshalJSON はnull・文字列・配列を受け付ける。
func (o *OptText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*o = OptText{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*o = OptText{}
		} else {
			*o = OptText{s}
		}
		return nil
	case data[0] == '[':
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("decode optional text: %w", err)
		}
		if len(values) > 1 {
			return fmt.Errorf("optional text has %d values", len(values))
		}
		*o = OptText(values)
		return nil
	default:
		return fmt.Errorf("unexpected optional text: %s", data)
	}
}

// Nat は精度を失わないよう文字列で届くこともある整数値。
// JSON数値と10進文字列の両方を受け付ける。
type Nat int64

// UnmarshalJSON は数値または10進文字列をint64に変換する。
func (n *Nat) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*n = Nat(i)
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f >= 1<<63 || f < -1<<63 {
		return fmt.Errorf("invalid integer value: %s", raw)
	}
	*n = Nat(int64(f))
	return nil
}

// Result はバックエンドのタグ付き結果 {"ok": ...} / {"err": "..."}。
type Result struct {
	Ok  bool
	Err string
}

// UnmarshalJSON はokまたはerrのいずれかのタグを要求する。
func (r *Result) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("decode tagged result: %w", err)
	}
	if _, ok := tagged["ok"]; ok {
		*r = Result{Ok: true}
		return nil
	}
	if raw, ok := tagged["err"]; ok {
		var msg string
		if err := json.Unmarshal(raw, &msg); err != nil {
			msg = string(raw)
		}
		*r = Result{Err: msg}
		return nil
	}
	return fmt.Errorf("tagged result has neither ok nor err: %s", data)
}

// userRecord はバックエンドのユーザーレコード。
type userRecord struct {
	ID             string  `json:"id"`
	Username       OptText `json:"username"`
	Name           OptText `json:"name"`
	ProfilePicture OptText `json:"profilePicture"`
}

func (u userRecord) toModel() *model.User {
	return &model.User{
		ID:             u.ID,
		Username:       u.Username.Value(),
		Name:           u.Name.Value(),
		ProfilePicture: u.ProfilePicture.Value(),
	}
}

// profileUpdateArgs はupdateUserProfileの引数。
type profileUpdateArgs struct {
	Username       OptText `json:"username"`
	Name           OptText `json:"name"`
	ProfilePicture OptText `json:"profilePicture"`
}

// journalRecord はバックエンドのジャーナルエントリ（受信側）。
type journalRecord struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	CreatedAt  Nat     `json:"createdAt"`
	UpdatedAt  Nat     `json:"updatedAt"`
	Mood       OptText `json:"mood"`
	Reflection OptText `json:"reflection"`
}

func (j journalRecord) toModel() model.JournalEntry {
	return model.JournalEntry{
		ID:         j.ID,
		Title:      j.Title,
		Content:    j.Content,
		CreatedAt:  int64(j.CreatedAt),
		UpdatedAt:  int64(j.UpdatedAt),
		Mood:       model.Deref(j.Mood.Value(), ""),
		Reflection: model.Deref(j.Reflection.Value(), ""),
	}
}

// journalArgs はaddJournalEntryの引数（送信側）。
type journalArgs struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
	Mood       string `json:"mood"`
	Reflection string `json:"reflection"`
}

// decodeOptionalUser はオプショナル包装されたレコードと直接のレコードの両方を
// 単一のnullable値に正規化する。
func decodeOptionalUser(raw json.RawMessage) (*model.User, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var rec userRecord
	switch raw[0] {
	case '[':
		var wrapped []json.RawMessage
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("decode optional user: %w", err)
		}
		if len(wrapped) == 0 {
			return nil, nil
		}
		return decodeOptionalUser(wrapped[0])
	case '{':
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		return rec.toModel(), nil
	default:
		return nil, fmt.Errorf("unexpected user payload: %s", raw)
	}
}

// decodeJournals はオプショナル包装された配列 [[...]] と直接の配列 [...] を正規化する。
func decodeJournals(raw json.RawMessage) ([]model.JournalEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []model.JournalEntry{}, nil
	}

	var outer []json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("decode journals: %w", err)
	}
	if len(outer) == 0 {
		return []model.JournalEntry{}, nil
	}
	if first := bytes.TrimSpace(outer[0]); len(first) > 0 && first[0] == '[' {
		return decodeJournals(first)
	}

	entries := make([]model.JournalEntry, 0, len(outer))
	for _, item := range outer {
		var rec journalRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		entries = append(entries, rec.toModel())
	}
	return entries, nil
}
