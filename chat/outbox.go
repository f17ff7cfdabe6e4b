package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-chat/roomsync/models"
)

// DeliveryState 是待送訊息的狀態
type DeliveryState string

const (
	StatePending DeliveryState = "pending"
	StateSent    DeliveryState = "sent"
	StateFailed  DeliveryState = "failed"
)

var (
	ErrUnknownLocalID = errors.New("unknown local message id")
	ErrNotRetryable   = errors.New("message is not in failed state")
)

// MessageSender 是 Outbox 送出訊息的對象，*Service 即符合
type MessageSender interface {
	SendMessage(ctx context.Context, roomID, senderID, body string) (models.Message, error)
}

// OutboundMessage 是發送者本地的一則待送訊息
type OutboundMessage struct {
	LocalID   string        `json:"localId"`
	RoomID    string        `json:"roomId"`
	Body      string        `json:"body"`
	State     DeliveryState `json:"state"`
	MessageID string        `json:"messageId,omitempty"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	QueuedAt  time.Time     `json:"queuedAt"`
}

// Outbox 追蹤單一發送者的訊息送出狀態：pending -> sent 或 pending -> failed，
// failed 可以 Retry 回到 pending 或被 Discard。
// 已送出的 localID 再次送出不會重複寫入。
type Outbox struct {
	sender   MessageSender
	senderID string
	now      func() time.Time

	mu    sync.Mutex
	items map[string]*OutboundMessage
}

func NewOutbox(sender MessageSender, senderID string) *Outbox {
	return &Outbox{
		sender:   sender,
		senderID: senderID,
		now:      time.Now,
		items:    make(map[string]*OutboundMessage),
	}
}

// Send 送出一則訊息。localID 為空時自動產生。空白內容直接回傳 ErrEmptyMessage，不會進入佇列。
func (o *Outbox) Send(ctx context.Context, roomID, localID, body string) (OutboundMessage, error) {
	if strings.TrimSpace(body) == "" {
		return OutboundMessage{}, ErrEmptyMessage
	}
	if localID == "" {
		localID = uuid.NewString()
	}

	o.mu.Lock()
	if item, ok := o.items[localID]; ok {
		o.mu.Unlock()
		return *item, nil
	}
	item := &OutboundMessage{
		LocalID:  localID,
		RoomID:   roomID,
		Body:     body,
		State:    StatePending,
		QueuedAt: o.now(),
	}
	o.items[localID] = item
	o.mu.Unlock()

	return o.deliver(ctx, item)
}

// Retry 重新送出一則 failed 的訊息
func (o *Outbox) Retry(ctx context.Context, localID string) (OutboundMessage, error) {
	o.mu.Lock()
	item, ok := o.items[localID]
	if !ok {
		o.mu.Unlock()
		return OutboundMessage{}, ErrUnknownLocalID
	}
	if item.State != StateFailed {
		o.mu.Unlock()
		return *item, ErrNotRetryable
	}
	item.State = StatePending
	item.Error = ""
	o.mu.Unlock()

	return o.deliver(ctx, item)
}

// Discard 移除尚未送出的訊息；已送出的訊息無法撤回
func (o *Outbox) Discard(localID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[localID]
	if !ok {
		return ErrUnknownLocalID
	}
	if item.State != StateFailed {
		return ErrNotRetryable
	}
	delete(o.items, localID)
	return nil
}

// Items 依排入時間回傳所有訊息的快照
func (o *Outbox) Items() []OutboundMessage {
	o.mu.Lock()
	out := make([]OutboundMessage, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, *item)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].LocalID < out[j].LocalID
	})
	return out
}

func (o *Outbox) deliver(ctx context.Context, item *OutboundMessage) (OutboundMessage, error) {
	msg, err := o.sender.SendMessage(ctx, item.RoomID, o.senderID, item.Body)

	o.mu.Lock()
	defer o.mu.Unlock()
	item.Attempts++
	switch {
	case msg.ID != "":
		// 訊息已寫入，即使摘要更新失敗也不能重送
		item.State = StateSent
		item.MessageID = msg.ID
	case err != nil:
		item.State = StateFailed
		item.Error = err.Error()
	default:
		item.State = StateSent
	}
	return *item, err
}
