package chat

import (
	"fmt"
	"strings"
	"time"

	"go-chat/roomsync/models"
	"go-chat/roomsync/store"
)

// 集合名稱
const (
	RoomsCollection    = "chatrooms"
	MessagesCollection = "messages"
)

// 聊天室文件欄位
const (
	fieldName                = "name"
	fieldCreatorID           = "creatorId"
	fieldParticipants        = "participants"
	fieldLastMessage         = "lastMessage"
	fieldLastMessageAt       = "lastMessageAt"
	fieldLastMessageSenderID = "lastMessageSenderId"
	fieldUnreadCounts        = "unreadCounts"
	fieldMutedBy             = "mutedBy"
	fieldCreatedAt           = "createdAt"
)

// 訊息文件欄位
const (
	fieldRoomID     = "roomId"
	fieldType       = "type"
	fieldSenderID   = "senderId"
	fieldSenderName = "senderName"
	fieldContent    = "content"
)

// Partitions 讓訊息的變更通知依聊天室切分
func Partitions() store.Partitions {
	return store.Partitions{MessagesCollection: fieldRoomID}
}

// unreadPath 回傳某位參與者未讀數的欄位路徑；只寫這個 key，不碰其他人的計數
func unreadPath(userID string) string {
	return fieldUnreadCounts + "." + userID
}

// memberOnly 是只有成員能寫入自己欄位時使用的條件
func memberOnly(userID string) []store.Filter {
	return []store.Filter{store.ArrayContains(fieldParticipants, userID)}
}

// validateID 參與者 ID 會被當成欄位路徑的一段，不能含 "." 或以 "$" 開頭
func validateID(id string) error {
	if id == "" || id == models.SystemSender || strings.Contains(id, ".") || strings.HasPrefix(id, "$") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if err := validateID(id); err != nil {
			return err
		}
	}
	return nil
}

func roomFromDocument(doc store.Document) models.ChatRoom {
	f := doc.Fields
	return models.ChatRoom{
		ID:                  doc.ID,
		Name:                getString(f, fieldName),
		CreatorID:           getString(f, fieldCreatorID),
		Participants:        getStrings(f, fieldParticipants),
		LastMessage:         getString(f, fieldLastMessage),
		LastMessageAt:       getTime(f, fieldLastMessageAt),
		LastMessageSenderID: getString(f, fieldLastMessageSenderID),
		UnreadCounts:        getCounts(f, fieldUnreadCounts),
		MutedBy:             getStrings(f, fieldMutedBy),
		CreatedAt:           getTime(f, fieldCreatedAt),
		Version:             doc.Version,
	}
}

func messageFromDocument(doc store.Document) models.Message {
	f := doc.Fields
	return models.Message{
		ID:         doc.ID,
		RoomID:     getString(f, fieldRoomID),
		Type:       models.MessageType(getString(f, fieldType)),
		SenderID:   getString(f, fieldSenderID),
		SenderName: getString(f, fieldSenderName),
		Content:    getString(f, fieldContent),
		CreatedAt:  getTime(f, fieldCreatedAt),
	}
}

func getString(f map[string]any, key string) string {
	s, _ := f[key].(string)
	return s
}

func getStrings(f map[string]any, key string) []string {
	arr, _ := f[key].([]any)
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getTime(f map[string]any, key string) *time.Time {
	t, ok := f[key].(time.Time)
	if !ok {
		return nil
	}
	return &t
}

func getCounts(f map[string]any, key string) map[string]int64 {
	m, _ := f[key].(map[string]any)
	out := make(map[string]int64, len(m))
	for k, v := range m {
		switch n := v.(type) {
		case int64:
			out[k] = n
		case int:
			out[k] = int64(n)
		case float64:
			out[k] = int64(n)
		}
	}
	return out
}
