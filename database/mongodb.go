package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// 集合名稱
const (
	ChatRoomsCollection = "chatrooms"
	MessagesCollection  = "messages"
	UsersCollection     = "users"
)

// MongoDB 包裝連線與資料庫
type MongoDB struct {
	Client *mongo.Client
	DB     *mongo.Database
	log    *slog.Logger
}

// ConnectMongoDB 建立並初始化 MongoDB 連線
func ConnectMongoDB(ctx context.Context, uri, name string, logger *slog.Logger) (*MongoDB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clientOptions := options.Client().ApplyURI(uri)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the primary to verify connection
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB", "db", name)
	m := &MongoDB{Client: client, DB: client.Database(name), log: logger}
	if err := m.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

// EnsureIndexes 建立查詢所需的索引。
// 訊息不可設定 TTL：訊息只會隨聊天室刪除而一併刪除。
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		MessagesCollection: {
			// 依聊天室訂閱，按伺服器時間升冪，同時間以 _id 決勝
			{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
		},
		ChatRoomsCollection: {
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "lastMessageAt", Value: -1}}},
		},
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for coll, models := range indexes {
		if _, err := m.DB.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", coll, err)
		}
	}
	m.log.Info("indexes ensured", "collections", len(indexes))
	return nil
}

// GetCollection 獲取指定名稱的集合
func (m *MongoDB) GetCollection(collectionName string) *mongo.Collection {
	return m.DB.Collection(collectionName)
}

// Disconnect 關閉 MongoDB 連線
func (m *MongoDB) Disconnect() {
	if m == nil || m.Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Client.Disconnect(ctx); err != nil {
		m.log.Error("error disconnecting from MongoDB", "err", err)
	} else {
		m.log.Info("disconnected from MongoDB")
	}
}
