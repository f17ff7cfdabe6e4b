// Package memstore 是 store.Store 的記憶體實作。
// 每個集合一把鎖下的 map，寫入後透過 notify.Notifier 喚醒監聽者。
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-chat/roomsync/notify"
	"go-chat/roomsync/store"

	"github.com/google/uuid"
)

type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]store.Document
	lastCommit  time.Time

	notifier   notify.Notifier
	partitions store.Partitions
	log        *slog.Logger
	now        func() time.Time
}

type Option func(*Store)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithPartitions(p store.Partitions) Option {
	return func(s *Store) { s.partitions = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock 替換時鐘（測試用）
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]store.Document),
		notifier:    notify.NewLocal(),
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// commitTime 回傳單調遞增的伺服器時間，同一個 store 內不會有兩次提交拿到相同時間
func (s *Store) commitTime() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastCommit) {
		t = s.lastCommit.Add(time.Microsecond)
	}
	s.lastCommit = t
	return t
}

func (s *Store) collection(name string) map[string]store.Document {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]store.Document)
		s.collections[name] = c
	}
	return c
}

func (s *Store) publish(ctx context.Context, topics []string) {
	for _, t := range topics {
		if err := s.notifier.Publish(ctx, t); err != nil {
			s.log.Warn("failed to publish change", "topic", t, "err", err)
		}
	}
}

func (s *Store) Get(_ context.Context, collection, id string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	return doc.Clone(), nil
}

// write 是 Merge/Update/UpdateIf/UpdateWhere 的共同路徑。version < 0 表示不檢查版本。
func (s *Store) write(ctx context.Context, collection, id string, create bool, version int64, where []store.Filter, ops []store.FieldOp) error {
	s.mu.Lock()
	c := s.collection(collection)
	doc, exists := c[id]
	if !exists {
		if !create {
			s.mu.Unlock()
			return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
		}
		doc = store.Document{ID: id, Fields: map[string]any{}}
	} else if version >= 0 && doc.Version != version {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s at version %d, expected %d: %w", collection, id, doc.Version, version, store.ErrConflict)
	} else if len(where) > 0 && !(store.Query{Filters: where}).Matches(doc) {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s no longer matches: %w", collection, id, store.ErrConflict)
	}

	fields := store.CloneFields(doc.Fields)
	if err := store.Apply(fields, ops, s.commitTime()); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	doc.Fields = fields
	doc.Version++
	c[id] = doc
	topics := s.partitions.WriteTopics(collection, fields, ops)
	s.mu.Unlock()

	s.publish(ctx, topics)
	return nil
}

func (s *Store) Merge(ctx context.Context, collection, id string, ops ...store.FieldOp) error {
	return s.write(ctx, collection, id, true, -1, nil, ops)
}

func (s *Store) Update(ctx context.Context, collection, id string, ops ...store.FieldOp) error {
	return s.write(ctx, collection, id, false, -1, nil, ops)
}

func (s *Store) UpdateIf(ctx context.Context, collection, id string, version int64, ops ...store.FieldOp) error {
	return s.write(ctx, collection, id, false, version, nil, ops)
}

func (s *Store) UpdateWhere(ctx context.Context, collection, id string, where []store.Filter, ops ...store.FieldOp) error {
	return s.write(ctx, collection, id, false, -1, where, ops)
}

func (s *Store) Append(ctx context.Context, collection string, ops ...store.FieldOp) (string, error) {
	id := uuid.NewString()
	if err := s.write(ctx, collection, id, true, -1, nil, ops); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) delete(ctx context.Context, collection, id string, version int64) error {
	s.mu.Lock()
	c := s.collections[collection]
	doc, ok := c[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if version >= 0 && doc.Version != version {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s at version %d, expected %d: %w", collection, id, doc.Version, version, store.ErrConflict)
	}
	delete(c, id)
	topics := s.partitions.WriteTopics(collection, doc.Fields, nil)
	s.mu.Unlock()

	s.publish(ctx, topics)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.delete(ctx, collection, id, -1)
}

func (s *Store) DeleteIf(ctx context.Context, collection, id string, version int64) error {
	return s.delete(ctx, collection, id, version)
}

func (s *Store) DeleteMatching(ctx context.Context, q store.Query) (int, error) {
	s.mu.Lock()
	c := s.collections[q.Collection]
	n := 0
	for id, doc := range c {
		if q.Matches(doc) {
			delete(c, id)
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.publish(ctx, s.partitions.FilterTopics(q))
	}
	return n, nil
}

func (s *Store) Find(_ context.Context, q store.Query) ([]store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[q.Collection]
	docs := make([]store.Document, 0, len(c))
	for _, d := range c {
		docs = append(docs, d)
	}
	out := q.Run(docs)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, q store.Query) (*store.Subscription, error) {
	signals, release, err := s.notifier.Subscribe(ctx, s.partitions.QueryTopic(q))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", q.Collection, err)
	}
	return store.Watch(ctx, func(ctx context.Context) ([]store.Document, error) {
		return s.Find(ctx, q)
	}, signals, release), nil
}
