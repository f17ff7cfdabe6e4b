package chat

import (
	"sync"

	"go-chat/roomsync/models"
	"go-chat/roomsync/store"
)

// Batch 是一次訂閱更新：Items 是完整且已排序的結果，
// Changed 是這次新增或變動的項目，Removed 是消失的文件 ID。
// 第一個 Batch 的 Changed 等於全部 Items。
type Batch[T any] struct {
	Items   []T
	Changed []T
	Removed []string
	Err     error
}

// RoomEvent 是單一聊天室的狀態更新。Deleted 為 true 時聊天室已不存在，用戶端應離開畫面。
type RoomEvent struct {
	Room    models.ChatRoom
	Deleted bool
	Err     error
}

// Feed 是呼叫端持有的訂閱控制代碼，用完必須 Close
type Feed[E any] struct {
	C <-chan E

	sub  *store.Subscription
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// startFeed 把儲存層快照轉成領域事件。訂閱失敗時送出一次錯誤事件後關閉 C。
func startFeed[E any](sub *store.Subscription, translate func(store.Snapshot) E) *Feed[E] {
	out := make(chan E)
	f := &Feed[E]{C: out, sub: sub, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer close(out)
		for snap := range sub.C {
			select {
			case out <- translate(snap):
			case <-f.stop:
				return
			}
			if snap.Err != nil {
				return
			}
		}
	}()
	return f
}

// Close 停止送出事件並釋放底層訂閱，可重複呼叫
func (f *Feed[E]) Close() {
	f.once.Do(func() {
		close(f.stop)
		f.sub.Close()
	})
	<-f.done
}

func batchOf[T any](decode func(store.Document) T) func(store.Snapshot) Batch[T] {
	return func(snap store.Snapshot) Batch[T] {
		if snap.Err != nil {
			return Batch[T]{Err: &SubscriptionError{Err: snap.Err}}
		}
		b := Batch[T]{Items: make([]T, 0, len(snap.Docs))}
		for _, d := range snap.Docs {
			b.Items = append(b.Items, decode(d))
		}
		for _, c := range snap.Changes {
			if c.Kind == store.Removed {
				b.Removed = append(b.Removed, c.Doc.ID)
				continue
			}
			b.Changed = append(b.Changed, decode(c.Doc))
		}
		return b
	}
}

func roomEventOf(snap store.Snapshot) RoomEvent {
	if snap.Err != nil {
		return RoomEvent{Err: &SubscriptionError{Err: snap.Err}}
	}
	if len(snap.Docs) == 0 {
		return RoomEvent{Deleted: true}
	}
	return RoomEvent{Room: roomFromDocument(snap.Docs[0])}
}
