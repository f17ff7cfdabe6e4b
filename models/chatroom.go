package models

import (
	"time"
)

// ChatRoom 代表一個聊天室文件的快照
type ChatRoom struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	CreatorID           string           `json:"creatorId"`
	Participants        []string         `json:"participants"`        // 參與者 ID，視為集合
	LastMessage         string           `json:"lastMessage"`         // 最後一則訊息摘要
	LastMessageAt       *time.Time       `json:"lastMessageAt"`       // 伺服器時間，尚無活動時為 nil
	LastMessageSenderID string           `json:"lastMessageSenderId"` // 最後發送者
	UnreadCounts        map[string]int64 `json:"unreadCounts"`        // 參與者 ID -> 未讀數
	MutedBy             []string         `json:"mutedBy"`             // 關閉通知的參與者
	CreatedAt           *time.Time       `json:"createdAt,omitempty"`
	Version             int64            `json:"-"`
}

// HasParticipant 檢查使用者是否為聊天室成員
func (r ChatRoom) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

func (r ChatRoom) IsMutedBy(userID string) bool {
	for _, p := range r.MutedBy {
		if p == userID {
			return true
		}
	}
	return false
}

// UnreadFor 回傳某位參與者的未讀數；已離開者的殘留值不會被讀取
func (r ChatRoom) UnreadFor(userID string) int64 {
	if !r.HasParticipant(userID) {
		return 0
	}
	return r.UnreadCounts[userID]
}
