package websocket

import (
	"go-chat/roomsync/chat"
	"go-chat/roomsync/models"
)

// command 是用戶端送來的指令
type command struct {
	Type    string `json:"type"` // send, retry, discard, read
	LocalID string `json:"localId,omitempty"`
	Content string `json:"content,omitempty"`
}

type roomsFrame struct {
	Type    string            `json:"type"`
	Rooms   []models.ChatRoom `json:"rooms"`
	Removed []string          `json:"removed,omitempty"`
}

type messagesFrame struct {
	Type     string           `json:"type"`
	Messages []models.Message `json:"messages"`
	Changed  []models.Message `json:"changed"`
}

type roomFrame struct {
	Type string           `json:"type"`
	Room *models.ChatRoom `json:"room"`
}

// roomClosedFrame 是串流的最後一個 frame：room_deleted 或 left
type roomClosedFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type outboxFrame struct {
	Type string               `json:"type"`
	Item chat.OutboundMessage `json:"item"`
}

type discardedFrame struct {
	Type    string `json:"type"`
	LocalID string `json:"localId"`
}

type errorFrame struct {
	Type    string `json:"type"`
	LocalID string `json:"localId,omitempty"`
	Error   string `json:"error"`
}
