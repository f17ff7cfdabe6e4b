package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier 透過 Redis PUBLISH/SUBSCRIBE 在多個伺服器實例間傳遞變更訊號
type RedisNotifier struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

// NewRedisNotifier 建立連線並以 PING 驗證
func NewRedisNotifier(ctx context.Context, addr, password, prefix string, logger *slog.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connected to redis", "addr", addr)
	return &RedisNotifier{client: client, prefix: prefix, log: logger}, nil
}

func (r *RedisNotifier) channel(topic string) string {
	return r.prefix + topic
}

func (r *RedisNotifier) Publish(ctx context.Context, topic string) error {
	if err := r.client.Publish(ctx, r.channel(topic), "1").Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel(topic), err)
	}
	return nil
}

func (r *RedisNotifier) Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error) {
	pubsub := r.client.Subscribe(ctx, r.channel(topic))
	// 等待 SUBSCRIBE 確認，之後的 PUBLISH 才保證會收到
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel(topic), err)
	}

	ch := make(chan struct{}, 1)
	msgs := pubsub.Channel()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(ch)
		for {
			select {
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(ch)
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			if err := pubsub.Close(); err != nil {
				r.log.Warn("failed to close redis subscription", "topic", topic, "err", err)
			}
			wg.Wait()
		})
	}
	return ch, release, nil
}

func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
