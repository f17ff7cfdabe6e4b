package chat

import (
	"context"
	"errors"

	"go-chat/roomsync/store"
)

// summaryMaxRunes 是聊天室列表摘要的最大長度
const summaryMaxRunes = 200

func summarize(body string) string {
	r := []rune(body)
	if len(r) <= summaryMaxRunes {
		return body
	}
	return string(r[:summaryMaxRunes]) + "…"
}

// sendOps 組出一次發送要合併寫入聊天室的欄位操作。
// 除發送者外每位參與者的未讀數各自 +1，使用原子增量而不是讀出整個計數表再寫回，
// 同時發送的多個人與同時歸零的讀者都不會互相覆蓋。
func sendOps(senderID, body string, participants []string) []store.FieldOp {
	ops := []store.FieldOp{
		store.Set(fieldLastMessage, summarize(body)),
		store.ServerTimestamp(fieldLastMessageAt),
		store.Set(fieldLastMessageSenderID, senderID),
	}
	for _, p := range uniqueIDs(participants...) {
		if p == senderID || validateID(p) != nil {
			continue
		}
		ops = append(ops, store.Increment(unreadPath(p), 1))
	}
	return ops
}

// OnSend 在同一次寫入中更新摘要欄位並為其他參與者的未讀數 +1。
// 聊天室已被刪除時回傳 ErrRoomNotFound，不會重新建立。
func (s *Service) OnSend(ctx context.Context, roomID, senderID string, participants []string, body string) error {
	if err := validateID(senderID); err != nil {
		return err
	}
	err := s.store.Update(ctx, RoomsCollection, roomID, sendOps(senderID, body, participants)...)
	return writeErr("update room summary", err)
}

// OnRoomOpened 把讀者自己的未讀數歸零，只寫 unreadCounts.<viewer> 這一個 key。
// 寫入以「讀者仍是成員」為條件，已離開的人回傳 ErrNotParticipant，不會把計數寫回去。
// 聊天室已不存在時視為已完成。
func (s *Service) OnRoomOpened(ctx context.Context, roomID, viewerID string) error {
	if err := validateID(viewerID); err != nil {
		return err
	}
	err := s.store.UpdateWhere(ctx, RoomsCollection, roomID, memberOnly(viewerID), store.Set(unreadPath(viewerID), int64(0)))
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.log.Info("reset unread on deleted room ignored", "room", roomID, "user", viewerID)
		return nil
	case errors.Is(err, store.ErrConflict):
		return ErrNotParticipant
	}
	return writeErr("reset unread count", err)
}
