package model

// JournalEntry はジャーナルの1エントリ。
// CreatedAt・UpdatedAtはエポックミリ秒。
type JournalEntry struct {
	ID         string
	Title      string
	Content    string
	CreatedAt  int64
	UpdatedAt  int64
	Mood       string
	Reflection string
}
