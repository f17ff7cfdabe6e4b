// Package chat 實作聊天室與未讀數的同步協定。
//
// 沒有伺服器端的序列化點：每個跨參與者的不變量都必須以「只寫自己擁有的欄位」
// 的合併寫入或原子增量表達。發送者擁有其他人的未讀增量與摘要欄位，
// 讀者只擁有自己的未讀 key，邀請者擁有參與者集合與新成員的初始計數。
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go-chat/roomsync/models"
	"go-chat/roomsync/store"
)

//go:generate mockgen -destination=../mocks/mock_directory.go -package=mocks go-chat/roomsync/chat Directory

// Directory 是驗證/個人資料協作者，核心只讀取
type Directory interface {
	Profiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

// LeavePolicy 決定成員離開後，剩餘人數低於多少時刪除聊天室
type LeavePolicy int

const (
	// DeleteWhenEmpty 只有最後一人離開才刪除
	DeleteWhenEmpty LeavePolicy = 1
	// DeleteBelowTwo 剩下一人時就刪除，不保留單人聊天室
	DeleteBelowTwo LeavePolicy = 2
)

// MinRemaining 回傳聊天室保留所需的最少剩餘人數
func (p LeavePolicy) MinRemaining() int {
	if p == DeleteWhenEmpty {
		return 1
	}
	return 2
}

func (p LeavePolicy) String() string {
	if p == DeleteWhenEmpty {
		return "delete-when-empty"
	}
	return "delete-below-two"
}

type Options struct {
	LeavePolicy LeavePolicy
	// MaxCASRetries 是條件式寫入遇到版本衝突時的重試次數
	MaxCASRetries int
	// HistoryLimit 是 History 未指定筆數時的預設值
	HistoryLimit int
	Logger       *slog.Logger
}

// Service 是聊天室同步協定的進入點
type Service struct {
	store store.Store
	dir   Directory
	opts  Options
	log   *slog.Logger
}

func NewService(s store.Store, dir Directory, opts Options) *Service {
	if opts.LeavePolicy == 0 {
		opts.LeavePolicy = DeleteBelowTwo
	}
	if opts.MaxCASRetries <= 0 {
		opts.MaxCASRetries = 5
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, dir: dir, opts: opts, log: logger}
}

// Room 讀取單一聊天室
func (s *Service) Room(ctx context.Context, roomID string) (models.ChatRoom, error) {
	doc, err := s.store.Get(ctx, RoomsCollection, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return models.ChatRoom{}, fmt.Errorf("room %s: %w", roomID, ErrRoomNotFound)
	}
	if err != nil {
		return models.ChatRoom{}, fmt.Errorf("failed to read room %s: %w", roomID, err)
	}
	return roomFromDocument(doc), nil
}

// RequireParticipant 讀取聊天室並確認 userID 是成員
func (s *Service) RequireParticipant(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	room, err := s.Room(ctx, roomID)
	if err != nil {
		return models.ChatRoom{}, err
	}
	if !room.HasParticipant(userID) {
		return models.ChatRoom{}, ErrNotParticipant
	}
	return room, nil
}

// displayNames 透過目錄取得顯示名稱；失敗或查無資料時退回使用 ID
func (s *Service) displayNames(ctx context.Context, ids ...string) map[string]string {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		names[id] = id
	}
	if s.dir == nil || len(ids) == 0 {
		return names
	}
	profiles, err := s.dir.Profiles(ctx, ids)
	if err != nil {
		s.log.Warn("failed to load profiles", "ids", ids, "err", err)
		return names
	}
	for id, p := range profiles {
		if p.DisplayName != "" {
			names[id] = p.DisplayName
		}
	}
	return names
}

func (s *Service) displayName(ctx context.Context, id string) string {
	return s.displayNames(ctx, id)[id]
}

// generateRoomName 根據參與者名稱生成聊天室名稱
func generateRoomName(usernames []string) string {
	if len(usernames) == 0 {
		return "空聊天室"
	}
	sorted := append([]string(nil), usernames...)
	sort.Strings(sorted)
	return strings.Join(sorted, "、") + " 的聊天室"
}

// uniqueIDs 去除重複並保留第一次出現的順序
func uniqueIDs(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
