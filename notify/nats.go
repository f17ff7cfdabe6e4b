package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSNotifier 以 NATS core subject 傳遞變更訊號。
// 主題 "messages.<roomId>" 會對應到 subject "<prefix>.messages.<roomId>"。
type NATSNotifier struct {
	nc     *nats.Conn
	prefix string
	log    *slog.Logger
}

func NewNATSNotifier(url, prefix string, logger *slog.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("roomsync"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("connected to nats", "url", url)
	return &NATSNotifier{nc: nc, prefix: prefix, log: logger}, nil
}

func (n *NATSNotifier) subject(topic string) string {
	return fmt.Sprintf("%s.%s", n.prefix, topic)
}

func (n *NATSNotifier) Publish(_ context.Context, topic string) error {
	if err := n.nc.Publish(n.subject(topic), nil); err != nil {
		return fmt.Errorf("failed to publish to subject '%s': %w", n.subject(topic), err)
	}
	return nil
}

func (n *NATSNotifier) Subscribe(_ context.Context, topic string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	var mu sync.Mutex
	closed := false

	sub, err := n.nc.Subscribe(n.subject(topic), func(*nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			signal(ch)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to subject '%s': %w", n.subject(topic), err)
	}
	// 確保 SUBSCRIBE 已送到伺服器
	if err := n.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, nil, fmt.Errorf("failed to flush subscription '%s': %w", n.subject(topic), err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				n.log.Warn("failed to unsubscribe", "subject", n.subject(topic), "err", err)
			}
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, release, nil
}

func (n *NATSNotifier) Close() error {
	n.nc.Close()
	return nil
}
