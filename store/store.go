// Package store 定義聊天同步核心所依賴的文件儲存介面。
//
// 儲存層被視為外部協作者：欄位層級的合併寫入、原子增量、陣列聯集/移除，
// 以及會先送出當前快照、再送出後續變更的訂閱機制。
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrConflict    = errors.New("document version conflict")
	ErrInvalidPath = errors.New("invalid field path")
)

// DocumentID 可用在 Filter 中，以文件 ID 篩選
const DocumentID = "_id"

// Document 是某個集合中的一筆文件快照
type Document struct {
	ID      string
	Fields  map[string]any
	Version int64 // 每次寫入遞增，用於條件式更新
}

// Store 是文件儲存的最小合約
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Merge 只寫入 ops 指定的欄位，文件不存在時建立
	Merge(ctx context.Context, collection, id string, ops ...FieldOp) error
	// Update 與 Merge 相同，但文件不存在時回傳 ErrNotFound
	Update(ctx context.Context, collection, id string, ops ...FieldOp) error
	UpdateIf(ctx context.Context, collection, id string, version int64, ops ...FieldOp) error
	// UpdateWhere 只在文件仍符合 where 條件時寫入，不符合回傳 ErrConflict
	UpdateWhere(ctx context.Context, collection, id string, where []Filter, ops ...FieldOp) error
	Append(ctx context.Context, collection string, ops ...FieldOp) (string, error)
	Delete(ctx context.Context, collection, id string) error
	DeleteIf(ctx context.Context, collection, id string, version int64) error
	DeleteMatching(ctx context.Context, q Query) (int, error)
	Find(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
}

// AtomicIncrement 對單一數值欄位做原子增量
func AtomicIncrement(ctx context.Context, s Store, collection, id, path string, delta int64) error {
	return s.Merge(ctx, collection, id, Increment(path, delta))
}

// ArrayUnionField 將值加入陣列欄位（已存在的值不重複加入）
func ArrayUnionField(ctx context.Context, s Store, collection, id, path string, values ...any) error {
	return s.Merge(ctx, collection, id, ArrayUnion(path, values...))
}

// ArrayRemoveField 從陣列欄位移除所有相同的值
func ArrayRemoveField(ctx context.Context, s Store, collection, id, path string, values ...any) error {
	return s.Merge(ctx, collection, id, ArrayRemove(path, values...))
}
