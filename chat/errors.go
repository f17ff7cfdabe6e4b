package chat

import (
	"errors"
	"fmt"

	"go-chat/roomsync/store"
)

var (
	// ErrRoomNotFound 表示聊天室已不存在（可能在操作途中被刪除）
	ErrRoomNotFound   = errors.New("chat room not found")
	ErrNotParticipant = errors.New("user is not a participant of this room")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrInvalidName    = errors.New("room name is empty")
	ErrInvalidID      = errors.New("invalid participant id")
	// ErrConflict 表示條件式寫入在重試上限內仍持續衝突
	ErrConflict = errors.New("room changed concurrently")
)

// WriteError 包裝儲存層寫入失敗（網路、權限等），不會在內部重試
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SubscriptionError 表示訂閱串流中斷，只會送出一次，由呼叫端決定是否重新訂閱
type SubscriptionError struct {
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription failed: %v", e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// writeErr 將儲存層錯誤轉成呼叫端可判斷的錯誤
func writeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrRoomNotFound)
	}
	return &WriteError{Op: op, Err: err}
}
