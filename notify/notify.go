// Package notify 負責把「某個集合有寫入」的訊號送給所有監聽者。
//
// 訊號本身不帶資料，監聽者收到後自行重新查詢，因此重複或合併的訊號都是安全的。
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier 發佈與訂閱變更訊號
type Notifier interface {
	Publish(ctx context.Context, topic string) error
	// Subscribe 回傳一個容量為 1 的訊號通道與釋放函式
	Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error)
	Close() error
}

// signal 以非阻塞方式送出訊號；通道已有未讀訊號時直接合併
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Local 是單一行程內的 Notifier
type Local struct {
	mu     sync.Mutex
	topics map[string]map[chan struct{}]struct{}
	closed bool
}

func NewLocal() *Local {
	return &Local{topics: make(map[string]map[chan struct{}]struct{})}
}

func (l *Local) Publish(_ context.Context, topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.topics[topic] {
		signal(ch)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, topic string) (<-chan struct{}, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan struct{}, 1)
	if l.closed {
		close(ch)
		return ch, func() {}, nil
	}
	if _, ok := l.topics[topic]; !ok {
		l.topics[topic] = make(map[chan struct{}]struct{})
	}
	l.topics[topic][ch] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if subs, ok := l.topics[topic]; ok {
				if _, ok := subs[ch]; ok {
					delete(subs, ch)
					close(ch)
				}
				if len(subs) == 0 {
					delete(l.topics, topic)
				}
			}
		})
	}
	return ch, release, nil
}

// Close 關閉所有訂閱通道，監聽者會收到訂閱中斷
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for topic, subs := range l.topics {
		for ch := range subs {
			close(ch)
		}
		delete(l.topics, topic)
	}
	slog.Debug("local notifier closed")
	return nil
}
