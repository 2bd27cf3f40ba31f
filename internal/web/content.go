package web

import "github.com/hitoshi/moodie/internal/model"

// HomeContent はホーム画面のデータ。
type HomeContent struct {
	ShowOnboarding bool
	Name           string
	Error          string
	Notice         string
}

// ChatContent はチャット画面のデータ。
type ChatContent struct {
	Messages []model.ChatMessage
	Draft    string
	Error    string
	Pending  bool // 応答待ちのプレースホルダーがある
}

// ScanContent はスキャン画面のデータ。
type ScanContent struct {
	Preview  *string // アップロード済み画像のdata URI
	ScanText string
	Analysis string
	Error    string
}

// JournalContent はジャーナル画面のデータ。
type JournalContent struct {
	Entries []model.JournalEntry
	Title   string
	Body    string
	Error   string
}

// ProfileContent はプロフィール画面のデータ。
type ProfileContent struct {
	Username   string
	Name       string
	PictureURL string
	Error      string
	Notice     string
}
