package chat

import (
	"context"
	"errors"
	"fmt"

	"go-chat/roomsync/store"
)

// LeaveResult 描述離開後聊天室的狀態
type LeaveResult struct {
	Deleted   bool
	Remaining []string
}

// InviteParticipant 將 targetID 加入聊天室並初始化其未讀數為 0。
// 對象已是成員時不做任何事。以版本條件寫入，同一位對象同時被多人邀請也只會產生一則系統訊息。
func (s *Service) InviteParticipant(ctx context.Context, roomID, inviterID, targetID string) error {
	if err := validateIDs(inviterID, targetID); err != nil {
		return err
	}
	for attempt := 0; attempt < s.opts.MaxCASRetries; attempt++ {
		room, err := s.RequireParticipant(ctx, roomID, inviterID)
		if err != nil {
			return err
		}
		if room.HasParticipant(targetID) {
			return nil
		}
		err = s.store.UpdateIf(ctx, RoomsCollection, roomID, room.Version,
			store.ArrayUnion(fieldParticipants, targetID),
			store.Set(unreadPath(targetID), int64(0)),
		)
		if errors.Is(err, store.ErrConflict) {
			s.log.Debug("invite conflict, retrying", "room", roomID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return writeErr("invite participant", err)
		}

		names := s.displayNames(ctx, inviterID, targetID)
		s.log.Info("participant invited", "room", roomID, "inviter", inviterID, "target", targetID)
		_, err = s.AppendSystemMessage(ctx, roomID, fmt.Sprintf("%s 已邀請 %s 加入群組。", names[inviterID], names[targetID]))
		return err
	}
	return ErrConflict
}

// InviteParticipants 依序邀請多位對象。所有 ID 與邀請者的成員身分會在第一次寫入前驗證；
// 中途失敗時回傳已成功加入的對象與錯誤。已是成員的對象不算在 applied 內。
func (s *Service) InviteParticipants(ctx context.Context, roomID, inviterID string, targetIDs []string) ([]string, error) {
	targets := uniqueIDs(targetIDs...)
	if err := validateIDs(append([]string{inviterID}, targets...)...); err != nil {
		return nil, err
	}
	room, err := s.RequireParticipant(ctx, roomID, inviterID)
	if err != nil {
		return nil, err
	}
	applied := make([]string, 0, len(targets))
	for _, target := range targets {
		if room.HasParticipant(target) {
			continue
		}
		if err := s.InviteParticipant(ctx, roomID, inviterID, target); err != nil {
			return applied, err
		}
		applied = append(applied, target)
	}
	return applied, nil
}

// LeaveRoom 將 participantID 移出聊天室。剩餘人數低於保留門檻時刪除聊天室與其訊息，
// 否則追加一則離開的系統訊息。聊天室已不存在或對象早已離開時視為完成。
func (s *Service) LeaveRoom(ctx context.Context, roomID, participantID string) (LeaveResult, error) {
	if err := validateID(participantID); err != nil {
		return LeaveResult{}, err
	}
	for attempt := 0; attempt < s.opts.MaxCASRetries; attempt++ {
		room, err := s.Room(ctx, roomID)
		if errors.Is(err, ErrRoomNotFound) {
			return LeaveResult{Deleted: true}, nil
		}
		if err != nil {
			return LeaveResult{}, err
		}
		if !room.HasParticipant(participantID) {
			return LeaveResult{Remaining: room.Participants}, nil
		}

		remaining := without(room.Participants, participantID)
		if len(remaining) < s.opts.LeavePolicy.MinRemaining() {
			err = s.store.DeleteIf(ctx, RoomsCollection, roomID, room.Version)
		} else {
			err = s.store.UpdateIf(ctx, RoomsCollection, roomID, room.Version,
				store.ArrayRemove(fieldParticipants, participantID),
				store.ArrayRemove(fieldMutedBy, participantID),
			)
		}
		switch {
		case errors.Is(err, store.ErrConflict):
			s.log.Debug("leave conflict, retrying", "room", roomID, "attempt", attempt+1)
			continue
		case errors.Is(err, store.ErrNotFound):
			return LeaveResult{Deleted: true}, nil
		case err != nil:
			return LeaveResult{}, &WriteError{Op: "leave room", Err: err}
		}

		if len(remaining) < s.opts.LeavePolicy.MinRemaining() {
			s.purgeMessages(ctx, roomID)
			s.log.Info("room deleted after leave", "room", roomID, "user", participantID, "policy", s.opts.LeavePolicy.String())
			return LeaveResult{Deleted: true, Remaining: remaining}, nil
		}
		s.log.Info("participant left", "room", roomID, "user", participantID)
		if _, err := s.AppendSystemMessage(ctx, roomID, fmt.Sprintf("%s 已離開聊天室", s.displayName(ctx, participantID))); err != nil {
			return LeaveResult{Remaining: remaining}, err
		}
		return LeaveResult{Remaining: remaining}, nil
	}
	return LeaveResult{}, ErrConflict
}

// purgeMessages 刪除聊天室的所有訊息；失敗只記錄，訊息會成為無法再被讀取的孤兒資料
func (s *Service) purgeMessages(ctx context.Context, roomID string) {
	n, err := s.store.DeleteMatching(ctx, store.Query{
		Collection: MessagesCollection,
		Filters:    []store.Filter{store.Where(fieldRoomID, roomID)},
	})
	if err != nil {
		s.log.Error("failed to delete messages of removed room", "room", roomID, "err", err)
		return
	}
	s.log.Debug("messages deleted", "room", roomID, "count", n)
}
