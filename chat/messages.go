package chat

import (
	"context"
	"fmt"
	"strings"

	"go-chat/roomsync/models"
	"go-chat/roomsync/store"
)

// SystemSenderName 是系統訊息顯示的發送者名稱
const SystemSenderName = "系統訊息"

func roomMessagesQuery(roomID string) store.Query {
	return store.Query{
		Collection: MessagesCollection,
		Filters:    []store.Filter{store.Where(fieldRoomID, roomID)},
		OrderBy:    fieldCreatedAt,
	}
}

func messageOps(roomID string, typ models.MessageType, senderID, senderName, body string) []store.FieldOp {
	return []store.FieldOp{
		store.Set(fieldRoomID, roomID),
		store.Set(fieldType, string(typ)),
		store.Set(fieldSenderID, senderID),
		store.Set(fieldSenderName, senderName),
		store.Set(fieldContent, body),
		store.ServerTimestamp(fieldCreatedAt),
	}
}

// SendMessage 追加一則訊息，並在同一次合併寫入中更新摘要與其他參與者的未讀數。
//
// 兩次寫入之間沒有交易：訊息寫入成功但聊天室更新失敗時，回傳帶有 ID 的訊息與錯誤，
// 呼叫端應視為已送出，不要重送。
func (s *Service) SendMessage(ctx context.Context, roomID, senderID, body string) (models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if err := validateID(senderID); err != nil {
		return models.Message{}, err
	}
	room, err := s.RequireParticipant(ctx, roomID, senderID)
	if err != nil {
		return models.Message{}, err
	}

	senderName := s.displayName(ctx, senderID)
	id, err := s.store.Append(ctx, MessagesCollection, messageOps(roomID, models.MessageTypeNormal, senderID, senderName, body)...)
	if err != nil {
		return models.Message{}, &WriteError{Op: "append message", Err: err}
	}
	msg := models.Message{
		ID:         id,
		RoomID:     roomID,
		Type:       models.MessageTypeNormal,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    body,
	}
	if doc, err := s.store.Get(ctx, MessagesCollection, id); err == nil {
		msg = messageFromDocument(doc)
	}

	if err := s.OnSend(ctx, roomID, senderID, room.Participants, body); err != nil {
		s.log.Warn("message stored but room summary not updated", "room", roomID, "message", id, "err", err)
		return msg, err
	}
	s.log.Debug("message sent", "room", roomID, "message", id, "sender", senderID)
	return msg, nil
}

// SendDirectMessage 找出或建立兩人之間的聊天室後發送訊息
func (s *Service) SendDirectMessage(ctx context.Context, senderID, recipientID, body string) (models.ChatRoom, models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return models.ChatRoom{}, models.Message{}, ErrEmptyMessage
	}
	room, _, err := s.OpenDirectRoom(ctx, senderID, recipientID)
	if err != nil {
		return models.ChatRoom{}, models.Message{}, err
	}
	msg, err := s.SendMessage(ctx, room.ID, senderID, body)
	return room, msg, err
}

// AppendSystemMessage 追加系統訊息。系統訊息不更新摘要也不影響未讀數。
func (s *Service) AppendSystemMessage(ctx context.Context, roomID, body string) (models.Message, error) {
	id, err := s.store.Append(ctx, MessagesCollection, messageOps(roomID, models.MessageTypeSystem, models.SystemSender, SystemSenderName, body)...)
	if err != nil {
		return models.Message{}, &WriteError{Op: "append system message", Err: err}
	}
	return models.Message{
		ID:         id,
		RoomID:     roomID,
		Type:       models.MessageTypeSystem,
		SenderID:   models.SystemSender,
		SenderName: SystemSenderName,
		Content:    body,
	}, nil
}

// SubscribeMessages 依 createdAt 由舊到新訂閱聊天室的訊息
func (s *Service) SubscribeMessages(ctx context.Context, roomID string) (*Feed[Batch[models.Message]], error) {
	sub, err := s.store.Subscribe(ctx, roomMessagesQuery(roomID))
	if err != nil {
		return nil, &SubscriptionError{Err: err}
	}
	return startFeed(sub, batchOf(messageFromDocument)), nil
}

// History 回傳最近 limit 則訊息，由舊到新排列。limit <= 0 時使用預設值。
func (s *Service) History(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = s.opts.HistoryLimit
	}
	q := roomMessagesQuery(roomID)
	q.Descending = true
	q.Limit = limit
	docs, err := s.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %s: %w", roomID, err)
	}
	out := make([]models.Message, len(docs))
	for i, d := range docs {
		out[len(docs)-1-i] = messageFromDocument(d)
	}
	return out, nil
}
