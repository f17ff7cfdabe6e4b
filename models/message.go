package models

import (
	"time"
)

// MessageType 定義消息類型
type MessageType string

const (
	MessageTypeNormal MessageType = "normal" // 普通消息
	MessageTypeSystem MessageType = "system" // 系統消息（邀請、離開、改名）
)

// SystemSender 是系統消息的發送者 ID
const SystemSender = "system"

// Message 代表一個聊天訊息，建立後不可修改
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"roomId"`
	Type       MessageType `json:"type"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Content    string      `json:"content"`
	CreatedAt  *time.Time  `json:"createdAt"` // 伺服器時間
}

// IsSystem 回傳是否為系統消息
func (m Message) IsSystem() bool {
	return m.Type == MessageTypeSystem || m.SenderID == SystemSender
}
