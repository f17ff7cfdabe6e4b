package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-chat/roomsync/models"
	"go-chat/roomsync/store"
)

// PlaceholderLastMessage 是新聊天室在第一則訊息前顯示的摘要
const PlaceholderLastMessage = "新聊天室已建立。"

func participantRoomsQuery(participantID string) store.Query {
	return store.Query{
		Collection: RoomsCollection,
		Filters:    []store.Filter{store.ArrayContains(fieldParticipants, participantID)},
		OrderBy:    fieldLastMessageAt,
		Descending: true,
	}
}

// ListRoomsForParticipant 訂閱某位參與者所在的聊天室，依最後活動時間由新到舊排序，
// 尚無活動的聊天室排在最後。重新訂閱會先拿到一份完整快照。
func (s *Service) ListRoomsForParticipant(ctx context.Context, participantID string) (*Feed[Batch[models.ChatRoom]], error) {
	if err := validateID(participantID); err != nil {
		return nil, err
	}
	sub, err := s.store.Subscribe(ctx, participantRoomsQuery(participantID))
	if err != nil {
		return nil, &SubscriptionError{Err: err}
	}
	return startFeed(sub, batchOf(roomFromDocument)), nil
}

// RoomsForParticipant 是 ListRoomsForParticipant 的一次性版本
func (s *Service) RoomsForParticipant(ctx context.Context, participantID string) ([]models.ChatRoom, error) {
	if err := validateID(participantID); err != nil {
		return nil, err
	}
	docs, err := s.store.Find(ctx, participantRoomsQuery(participantID))
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms for %s: %w", participantID, err)
	}
	rooms := make([]models.ChatRoom, 0, len(docs))
	for _, d := range docs {
		rooms = append(rooms, roomFromDocument(d))
	}
	return rooms, nil
}

// WatchRoom 訂閱單一聊天室；聊天室被刪除時送出 Deleted 事件
func (s *Service) WatchRoom(ctx context.Context, roomID string) (*Feed[RoomEvent], error) {
	sub, err := s.store.Subscribe(ctx, store.Query{
		Collection: RoomsCollection,
		Filters:    []store.Filter{store.Where(store.DocumentID, roomID)},
	})
	if err != nil {
		return nil, &SubscriptionError{Err: err}
	}
	return startFeed(sub, roomEventOf), nil
}

// CreateRoom 建立新聊天室。建立者一定在參與者中，每位參與者的未讀數初始化為 0。
// name 為空時以參與者名稱自動命名。
func (s *Service) CreateRoom(ctx context.Context, name, creatorID string, participantIDs []string) (models.ChatRoom, error) {
	participants := uniqueIDs(append([]string{creatorID}, participantIDs...)...)
	if err := validateIDs(participants...); err != nil {
		return models.ChatRoom{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		names := s.displayNames(ctx, participants...)
		usernames := make([]string, 0, len(participants))
		for _, p := range participants {
			usernames = append(usernames, names[p])
		}
		name = generateRoomName(usernames)
	}

	unread := make(map[string]any, len(participants))
	for _, p := range participants {
		unread[p] = int64(0)
	}

	id, err := s.store.Append(ctx, RoomsCollection,
		store.Set(fieldName, name),
		store.Set(fieldCreatorID, creatorID),
		store.Set(fieldParticipants, participants),
		store.Set(fieldLastMessage, PlaceholderLastMessage),
		store.ServerTimestamp(fieldLastMessageAt),
		store.Set(fieldLastMessageSenderID, ""),
		store.Set(fieldUnreadCounts, unread),
		store.Set(fieldMutedBy, []any{}),
		store.ServerTimestamp(fieldCreatedAt),
	)
	if err != nil {
		return models.ChatRoom{}, &WriteError{Op: "create room", Err: err}
	}
	s.log.Info("room created", "room", id, "creator", creatorID, "participants", len(participants))
	return s.Room(ctx, id)
}

// FindExistingRoom 在 a 所在的聊天室中找出第一個也包含 b 的聊天室，沒有則回傳 nil。
// 儲存層沒有「陣列同時包含 X 與 Y」的查詢，所以第二個 ID 在取回後才比對。
// 掃描順序是全序（最後活動時間、文件 ID），因此 (a, b) 與 (b, a) 會得到同一個聊天室。
func (s *Service) FindExistingRoom(ctx context.Context, a, b string) (*models.ChatRoom, error) {
	rooms, err := s.RoomsForParticipant(ctx, a)
	if err != nil {
		return nil, err
	}
	for _, r := range rooms {
		if r.HasParticipant(b) {
			room := r
			return &room, nil
		}
	}
	return nil, nil
}

// OpenDirectRoom 找出 a 與 b 之間既有的聊天室，沒有就建立一個
func (s *Service) OpenDirectRoom(ctx context.Context, a, b string) (models.ChatRoom, bool, error) {
	if err := validateIDs(a, b); err != nil {
		return models.ChatRoom{}, false, err
	}
	existing, err := s.FindExistingRoom(ctx, a, b)
	if err != nil {
		return models.ChatRoom{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}
	room, err := s.CreateRoom(ctx, "", a, []string{b})
	if err != nil {
		return models.ChatRoom{}, false, err
	}
	return room, true, nil
}

// RenameRoom 合併寫入名稱並追加系統訊息。聊天室已被刪除時只記錄，不回傳錯誤。
func (s *Service) RenameRoom(ctx context.Context, roomID, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return ErrInvalidName
	}
	err := s.store.Update(ctx, RoomsCollection, roomID, store.Set(fieldName, newName))
	if errors.Is(err, store.ErrNotFound) {
		s.log.Info("rename on deleted room ignored", "room", roomID)
		return nil
	}
	if err != nil {
		return &WriteError{Op: "rename room", Err: err}
	}
	_, err = s.AppendSystemMessage(ctx, roomID, fmt.Sprintf("聊天室名稱已變更為「%s」。", newName))
	return err
}

// SetMuted 以陣列聯集/移除切換通知狀態，重複呼叫不會改變資料。非成員回傳 ErrNotParticipant。
func (s *Service) SetMuted(ctx context.Context, roomID, participantID string, muted bool) error {
	if err := validateID(participantID); err != nil {
		return err
	}
	op := store.ArrayRemove(fieldMutedBy, participantID)
	if muted {
		op = store.ArrayUnion(fieldMutedBy, participantID)
	}
	err := s.store.UpdateWhere(ctx, RoomsCollection, roomID, memberOnly(participantID), op)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Info("mute toggle on deleted room ignored", "room", roomID, "user", participantID)
		return nil
	}
	if errors.Is(err, store.ErrConflict) {
		return ErrNotParticipant
	}
	if err != nil {
		return &WriteError{Op: "set muted", Err: err}
	}
	return nil
}

// Participants 回傳聊天室成員的個人資料，查不到資料的成員只帶 ID
func (s *Service) Participants(ctx context.Context, roomID string) ([]models.Profile, error) {
	room, err := s.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	profiles := map[string]models.Profile{}
	if s.dir != nil && len(room.Participants) > 0 {
		profiles, err = s.dir.Profiles(ctx, room.Participants)
		if err != nil {
			return nil, fmt.Errorf("failed to load participants of %s: %w", roomID, err)
		}
	}
	out := make([]models.Profile, 0, len(room.Participants))
	for _, id := range room.Participants {
		p, ok := profiles[id]
		if !ok {
			p = models.Profile{ID: id, DisplayName: id}
		}
		out = append(out, p)
	}
	return out, nil
}
