package model

import "time"

// Sender はチャットメッセージの送信者を表す。
type Sender string

const (
	// SenderUser はユーザーが送信したメッセージ。
	SenderUser Sender = "user"
	// SenderBot はMoodie（ボット）のメッセージ。
	SenderBot Sender = "bot"
)

// ChatMessage はチャットのトランスクリプトを構成する1メッセージ。
// IDはデバイスのトランスクリプト内でのみ一意。
type ChatMessage struct {
	ID        int       `json:"id"`
	Sender    Sender    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsTyping  bool      `json:"typing,omitempty"`
}
