package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-chat/roomsync/notify"
	"go-chat/roomsync/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// versionField 存放文件版本，每次寫入 $inc 1
const versionField = "_v"

// MongoStore 以 MongoDB 實作 store.Store。
// 欄位操作直接對應到 $set / $inc / $addToSet / $pull / $currentDate，
// 每個操作只碰自己的欄位路徑，不會整份覆寫。
type MongoStore struct {
	db         *mongo.Database
	notifier   notify.Notifier
	partitions store.Partitions
	timeout    time.Duration
	log        *slog.Logger
}

func NewMongoStore(m *MongoDB, notifier notify.Notifier, partitions store.Partitions, logger *slog.Logger) *MongoStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoStore{
		db:         m.DB,
		notifier:   notifier,
		partitions: partitions,
		timeout:    5 * time.Second,
		log:        logger,
	}
}

var _ store.Store = (*MongoStore)(nil)

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) publish(ctx context.Context, topics []string) {
	for _, t := range topics {
		if err := s.notifier.Publish(ctx, t); err != nil {
			s.log.Warn("failed to publish change", "topic", t, "err", err)
		}
	}
}

// objectID 將字串 ID 轉為 ObjectID；格式錯誤的 ID 不可能存在，視為找不到
func objectID(collection, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	return oid, nil
}

// buildUpdate 將欄位操作轉成 MongoDB update 文件
func buildUpdate(ops []store.FieldOp) (bson.M, error) {
	set := bson.M{}
	inc := bson.M{versionField: int64(1)}
	addToSet := bson.M{}
	pull := bson.M{}
	currentDate := bson.M{}

	for _, op := range ops {
		if _, err := store.SplitPath(op.Path); err != nil {
			return nil, err
		}
		switch op.Kind {
		case store.OpSet:
			set[op.Path] = op.Value
		case store.OpIncrement:
			inc[op.Path] = op.Delta
		case store.OpArrayUnion:
			addToSet[op.Path] = bson.M{"$each": op.Values}
		case store.OpArrayRemove:
			pull[op.Path] = bson.M{"$in": op.Values}
		case store.OpServerTimestamp:
			currentDate[op.Path] = bson.M{"$type": "date"}
		default:
			return nil, fmt.Errorf("unknown op %v on %s", op.Kind, op.Path)
		}
	}

	update := bson.M{"$inc": inc}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}
	if len(pull) > 0 {
		update["$pull"] = pull
	}
	if len(currentDate) > 0 {
		update["$currentDate"] = currentDate
	}
	return update, nil
}

// buildFilter 將查詢條件轉成 MongoDB filter。
// 陣列包含與等值在 MongoDB 中是同一種寫法。
func buildFilter(q store.Query) (bson.M, error) {
	filter := bson.M{}
	for _, f := range q.Filters {
		if f.Field == store.DocumentID {
			idStr, _ := f.Value.(string)
			oid, err := primitive.ObjectIDFromHex(idStr)
			if err != nil {
				// 不可能存在的 ID：讓查詢回傳空集合
				oid = primitive.NilObjectID
			}
			filter["_id"] = oid
			continue
		}
		filter[f.Field] = f.Value
	}
	return filter, nil
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (store.Document, error) {
	oid, err := objectID(collection, id)
	if err != nil {
		return store.Document{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw bson.M
	err = s.db.Collection(collection).FindOne(ctx, bson.M{"_id": oid}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return decodeDocument(raw), nil
}

// updateOne 是 Merge/Update/UpdateIf/UpdateWhere 的共同路徑。version < 0 表示不檢查版本。
func (s *MongoStore) updateOne(ctx context.Context, collection string, oid primitive.ObjectID, upsert bool, version int64, where []store.Filter, ops []store.FieldOp) error {
	update, err := buildUpdate(ops)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", collection, oid.Hex(), err)
	}
	filter, err := buildFilter(store.Query{Filters: where})
	if err != nil {
		return err
	}
	filter["_id"] = oid
	if version >= 0 {
		filter[versionField] = version
	}
	conditional := version >= 0 || len(where) > 0

	wctx, cancel := s.withTimeout(ctx)
	defer cancel()
	coll := s.db.Collection(collection)
	opts := options.FindOneAndUpdate().SetUpsert(upsert).SetReturnDocument(options.After)

	var raw bson.M
	err = coll.FindOneAndUpdate(wctx, filter, update, opts).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if !conditional {
			return fmt.Errorf("%s/%s: %w", collection, oid.Hex(), store.ErrNotFound)
		}
		return s.missOrConflict(wctx, collection, oid)
	}
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, oid.Hex(), err)
	}

	s.publish(ctx, s.partitions.WriteTopics(collection, decodeDocument(raw).Fields, ops))
	return nil
}

// missOrConflict 判斷條件式寫入沒命中是因為文件不存在還是條件不符
func (s *MongoStore) missOrConflict(ctx context.Context, collection string, oid primitive.ObjectID) error {
	n, err := s.db.Collection(collection).CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to check %s/%s: %w", collection, oid.Hex(), err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, oid.Hex(), store.ErrNotFound)
	}
	return fmt.Errorf("%s/%s precondition failed: %w", collection, oid.Hex(), store.ErrConflict)
}

func (s *MongoStore) Merge(ctx context.Context, collection, id string, ops ...store.FieldOp) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", id, err)
	}
	return s.updateOne(ctx, collection, oid, true, -1, nil, ops)
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, ops ...store.FieldOp) error {
	oid, err := objectID(collection, id)
	if err != nil {
		return err
	}
	return s.updateOne(ctx, collection, oid, false, -1, nil, ops)
}

func (s *MongoStore) UpdateIf(ctx context.Context, collection, id string, version int64, ops ...store.FieldOp) error {
	oid, err := objectID(collection, id)
	if err != nil {
		return err
	}
	return s.updateOne(ctx, collection, oid, false, version, nil, ops)
}

func (s *MongoStore) UpdateWhere(ctx context.Context, collection, id string, where []store.Filter, ops ...store.FieldOp) error {
	oid, err := objectID(collection, id)
	if err != nil {
		return err
	}
	return s.updateOne(ctx, collection, oid, false, -1, where, ops)
}

// Append 以 upsert 建立新文件，讓 $currentDate 由伺服器在提交時填入時間
func (s *MongoStore) Append(ctx context.Context, collection string, ops ...store.FieldOp) (string, error) {
	oid := primitive.NewObjectID()
	if err := s.updateOne(ctx, collection, oid, true, -1, nil, ops); err != nil {
		return "", err
	}
	return oid.Hex(), nil
}

func (s *MongoStore) deleteOne(ctx context.Context, collection, id string, version int64) error {
	oid, err := objectID(collection, id)
	if err != nil {
		return err
	}
	filter := bson.M{"_id": oid}
	if version >= 0 {
		filter[versionField] = version
	}

	wctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var raw bson.M
	err = s.db.Collection(collection).FindOneAndDelete(wctx, filter).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if version < 0 {
			return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
		}
		return s.missOrConflict(wctx, collection, oid)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	s.publish(ctx, s.partitions.WriteTopics(collection, decodeDocument(raw).Fields, nil))
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	return s.deleteOne(ctx, collection, id, -1)
}

func (s *MongoStore) DeleteIf(ctx context.Context, collection, id string, version int64) error {
	return s.deleteOne(ctx, collection, id, version)
}

func (s *MongoStore) DeleteMatching(ctx context.Context, q store.Query) (int, error) {
	filter, err := buildFilter(q)
	if err != nil {
		return 0, err
	}
	wctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.Collection(q.Collection).DeleteMany(wctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", q.Collection, err)
	}
	if res.DeletedCount > 0 {
		s.publish(ctx, s.partitions.FilterTopics(q))
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) Find(ctx context.Context, q store.Query) ([]store.Document, error) {
	filter, err := buildFilter(q)
	if err != nil {
		return nil, err
	}
	findOptions := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		findOptions.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: "_id", Value: 1}})
	} else {
		findOptions.SetSort(bson.D{{Key: "_id", Value: 1}})
	}
	if q.Limit > 0 {
		findOptions.SetLimit(int64(q.Limit))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cursor, err := s.db.Collection(q.Collection).Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err = cursor.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", q.Collection, err)
	}
	docs := make([]store.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, decodeDocument(raw))
	}
	// MongoDB 升冪時把缺值排在最前，這裡統一成缺值排最後
	q.SortDocuments(docs)
	return docs, nil
}

func (s *MongoStore) Subscribe(ctx context.Context, q store.Query) (*store.Subscription, error) {
	signals, release, err := s.notifier.Subscribe(ctx, s.partitions.QueryTopic(q))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", q.Collection, err)
	}
	return store.Watch(ctx, func(ctx context.Context) ([]store.Document, error) {
		return s.Find(ctx, q)
	}, signals, release), nil
}

// decodeDocument 將 BSON 值轉回 store 使用的型別
func decodeDocument(raw bson.M) store.Document {
	doc := store.Document{Fields: map[string]any{}}
	for k, v := range raw {
		switch k {
		case "_id":
			if oid, ok := v.(primitive.ObjectID); ok {
				doc.ID = oid.Hex()
			} else {
				doc.ID = fmt.Sprint(v)
			}
		case versionField:
			switch n := v.(type) {
			case int64:
				doc.Version = n
			case int32:
				doc.Version = int64(n)
			}
		default:
			doc.Fields[k] = decodeValue(v)
		}
	}
	return doc
}

func decodeValue(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.ObjectID:
		return x.Hex()
	case int32:
		return int64(x)
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = decodeValue(e)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = decodeValue(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = decodeValue(e.Value)
		}
		return out
	}
	return v
}
