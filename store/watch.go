package store

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriptionClosed 表示變更通知來源已中斷
var ErrSubscriptionClosed = errors.New("change feed closed")

type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Change 描述兩次快照之間單一文件的變化；Removed 時 Doc 為最後一次看到的內容
type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Snapshot 是查詢結果在某個時間點的完整、已排序內容
type Snapshot struct {
	Docs    []Document
	Changes []Change
	Err     error
}

// Subscription 是呼叫端持有的訂閱控制代碼。
// Close 之後 C 會被關閉，不再送出任何快照。
type Subscription struct {
	C <-chan Snapshot

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close 取消訂閱並等待背景 goroutine 結束，可重複呼叫
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done 在訂閱結束時關閉（被取消或發生錯誤）
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Watch 是各儲存實作共用的快照監聽引擎：
// 先送出一次完整結果，之後每收到一個 signal 就重新查詢，結果有變化才送出。
// 消費端較慢時，多個 signal 會被合併，永遠只拿到最新狀態。
// run 失敗時送出一次帶 Err 的快照後結束。release 在結束時呼叫，用於釋放通知訂閱。
func Watch(ctx context.Context, run func(context.Context) ([]Document, error), signals <-chan struct{}, release func()) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Snapshot)
	sub := &Subscription{C: out, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer close(out)
		defer func() {
			if release != nil {
				release()
			}
		}()

		send := func(s Snapshot) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var prev []Document
		first := true
		for {
			docs, err := run(ctx)
			if err != nil {
				if ctx.Err() == nil {
					send(Snapshot{Err: err})
				}
				return
			}
			changes := Diff(prev, docs)
			if first || len(changes) > 0 {
				if !send(Snapshot{Docs: docs, Changes: changes}) {
					return
				}
				first = false
			}
			prev = docs

			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					send(Snapshot{Err: ErrSubscriptionClosed})
					return
				}
			}
		}
	}()
	return sub
}

// Diff 以文件 ID 與版本比較兩次結果。
// 變化依 next 的順序列出，被移除的文件排在最後。
func Diff(prev, next []Document) []Change {
	old := make(map[string]Document, len(prev))
	for _, d := range prev {
		old[d.ID] = d
	}
	var changes []Change
	seen := make(map[string]struct{}, len(next))
	for _, d := range next {
		seen[d.ID] = struct{}{}
		p, ok := old[d.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Added, Doc: d})
		case p.Version != d.Version:
			changes = append(changes, Change{Kind: Modified, Doc: d})
		}
	}
	for _, d := range prev {
		if _, ok := seen[d.ID]; !ok {
			changes = append(changes, Change{Kind: Removed, Doc: d})
		}
	}
	return changes
}
