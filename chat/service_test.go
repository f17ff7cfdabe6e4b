package chat_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"go-chat/roomsync/chat"
	"go-chat/roomsync/mocks"
	"go-chat/roomsync/models"
	"go-chat/roomsync/store/memstore"
)

var testProfiles = map[string]models.Profile{
	"alice": {ID: "alice", DisplayName: "Alice"},
	"bob":   {ID: "bob", DisplayName: "Bob"},
	"carol": {ID: "carol", DisplayName: "Carol"},
	"dave":  {ID: "dave", DisplayName: "Dave"},
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService 建立使用記憶體儲存與 mock 目錄的 Service
func newTestService(t *testing.T, opts chat.Options) (*chat.Service, *memstore.Store) {
	t.Helper()
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().Profiles(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ids []string) (map[string]models.Profile, error) {
			out := make(map[string]models.Profile, len(ids))
			for _, id := range ids {
				if p, ok := testProfiles[id]; ok {
					out[id] = p
				}
			}
			return out, nil
		}).AnyTimes()

	st := memstore.New(memstore.WithPartitions(chat.Partitions()), memstore.WithLogger(quietLogger()))
	opts.Logger = quietLogger()
	return chat.NewService(st, dir, opts), st
}

// next 從 feed 讀取下一個事件，逾時則測試失敗
func next[E any](t *testing.T, f *chat.Feed[E]) E {
	t.Helper()
	select {
	case e, ok := <-f.C:
		require.True(t, ok, "feed 不應該被關閉")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("等待訂閱事件逾時")
	}
	var zero E
	return zero
}

// waitFor 持續讀取 feed 直到 match 成立
func waitFor[E any](t *testing.T, f *chat.Feed[E], match func(E) bool) E {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-f.C:
			require.True(t, ok, "feed 不應該被關閉")
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("等待符合條件的事件逾時")
		}
	}
}

func TestCreateRoom(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, chat.Options{})

	room, err := svc.CreateRoom(ctx, "", "bob", []string{"alice", "bob"})
	require.NoError(t, err)

	assert.NotEmpty(t, room.ID)
	assert.Equal(t, "Alice、Bob 的聊天室", room.Name, "未指定名稱時應以顯示名稱排序後命名")
	assert.Equal(t, "bob", room.CreatorID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, room.Participants, "建立者只會出現一次")
	assert.Equal(t, map[string]int64{"alice": 0, "bob": 0}, room.UnreadCounts)
	assert.Equal(t, chat.PlaceholderLastMessage, room.LastMessage)
	assert.NotNil(t, room.LastMessageAt)
	assert.NotNil(t, room.CreatedAt)
	assert.Empty(t, room.MutedBy)

	named, err := svc.CreateRoom(ctx, "  專案群組 ", "alice", []string{"carol"})
	require.NoError(t, err)
	assert.Equal(t, "專案群組", named.Name)
}

func TestCreateRoom_InvalidParticipant(t *testing.T) {
	svc, _ := newTestService(t, chat.Options{})
	for _, id := range []string{"", "system", "a.b", "$where"} {
		_, err := svc.CreateRoom(context.Background(), "x", "alice", []string{id})
		assert.ErrorIs(t, err, chat.ErrInvalidID, "參與者 ID %q 應該被拒絕", id)
	}
}

func TestRoom_NotFound(t *testing.T) {
	svc, _ := newTestService(t, chat.Options{})
	_, err := svc.Room(context.Background(), "missing")
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)
}

func TestFindExistingRoom_Symmetric(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, chat.Options{})

	none, err := svc.FindExistingRoom(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, none)

	first, err := svc.CreateRoom(ctx, "", "alice", []string{"bob"})
	require.NoError(t, err)
	_, err = svc.CreateRoom(ctx, "", "bob", []string{"alice", "carol"})
	require.NoError(t, err)
	_, err = svc.CreateRoom(ctx, "", "alice", []string{"carol"})
	require.NoError(t, err)

	ab, err := svc.FindExistingRoom(ctx, "alice", "bob")
	require.NoError(t, err)
	ba, err := svc.FindExistingRoom(ctx, "bob", "alice")
	require.NoError(t, err)
	require.NotNil(t, ab)
	require.NotNil(t, ba)
	assert.Equal(t, ab.ID, ba.ID, "(a, b) 與 (b, a) 應該找到同一個聊天室")

	// 讓最早的聊天室成為最近活動的聊天室
	_, err = svc.SendMessage(ctx, first.ID, "alice", "hi")
	require.NoError(t, err)
	ab, err = svc.FindExistingRoom(ctx, "alice", "bob")
	require.NoError(t, err)
	ba, err = svc.FindExistingRoom(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, ab.ID)
	assert.Equal(t, first.ID, ba.ID)
}

func TestOpenDirectRoom_ReusesExisting(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, chat.Options{})

	room, created, err := svc.OpenDirectRoom(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := svc.OpenDirectRoom(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)
}

func TestRenameRoom(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, chat.Options{})
	room, err := svc.CreateRoom(ctx, "舊名稱", "alice", []string{"bob"})
	require.NoError(t, err)

	require.NoError(t, svc.RenameRoom(ctx, room.ID, "新名稱"))
	assert.ErrorIs(t, svc.RenameRoom(ctx, room.ID, "   "), chat.ErrInvalidName)

	got, err := svc.Room(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "新名稱", got.Name)
	assert.Equal(t, room.UnreadCounts, got.UnreadCounts, "改名不影響未讀數")

	history, err := svc.History(ctx, room.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsSystem())
	assert.Equal(t, "聊天室名稱已變更為「新名稱」。", history[0].Content)
}

func TestSetMuted_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, chat.Options{})
	room, err := svc.CreateRoom(ctx, "", "alice", []string{"bob"})
	require.NoError(t, err)

	require.NoError(t, svc.SetMuted(ctx, room.ID, "bob", true))
	require.NoError(t, svc.SetMuted(ctx, room.ID, "bob", true))
	got, err := svc.Room(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, got.MutedBy)
	assert.True(t, got.IsMutedBy("bob"))

	require.NoError(t, svc.SetMuted(ctx, room.ID, "bob", false))
	got, err = svc.Room(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MutedBy)
}

func TestDeletedRoom_WritesDoNotResurrect(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, chat.Options{})
	room, err := svc.CreateRoom(ctx, "", "alice", []string{"bob"})
	require.NoError(t, err)
	res, err := svc.LeaveRoom(ctx, room.ID, "alice")
	require.NoError(t, err)
	require.True(t, res.Deleted)

	assert.NoError(t, svc.RenameRoom(ctx, room.ID, "復活？"))
	assert.NoError(t, svc.SetMuted(ctx, room.ID, "bob", true))
	assert.NoError(t, svc.OnRoomOpened(ctx, room.ID, "bob"))

	_, err = st.Get(ctx, chat.RoomsCollection, room.ID)
	assert.Error(t, err, "對已刪除聊天室的寫入不應重新建立文件")
	history, err := svc.History(ctx, room.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history, "已刪除聊天室不應新增系統訊息")
}

func TestParticipants(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, chat.Options{})
	room, err := svc.CreateRoom(ctx, "", "alice", []string{"bob", "zed"})
	require.NoError(t, err)

	profiles, err := svc.Participants(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "Alice", profiles[0].DisplayName)
	assert.Equal(t, "Bob", profiles[1].DisplayName)
	assert.Equal(t, models.Profile{ID: "zed", DisplayName: "zed"}, profiles[2], "目錄查無資料時以 ID 代替")
}

func TestListRoomsForParticipant_Ordering(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, chat.Options{})
	older, err := svc.CreateRoom(ctx, "older", "alice", []string{"bob"})
	require.NoError(t, err)
	newer, err := svc.CreateRoom(ctx, "newer", "alice", []string{"carol"})
	require.NoError(t, err)
	_, err = svc.CreateRoom(ctx, "other", "bob", []string{"carol"})
	require.NoError(t, err)

	feed, err := svc.ListRoomsForParticipant(ctx, "alice")
	require.NoError(t, err)
	defer feed.Close()

	first := next(t, feed)
	require.NoError(t, first.Err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, newer.ID, first.Items[0].ID, "最近活動的聊天室排最前")
	assert.Equal(t, older.ID, first.Items[1].ID)
	assert.Len(t, first.Changed, 2, "第一個快照包含全部項目")

	_, err = svc.SendMessage(ctx, older.ID, "bob", "頂上來")
	require.NoError(t, err)

	b := waitFor(t, feed, func(b chat.Batch[models.ChatRoom]) bool {
		return len(b.Items) == 2 && b.Items[0].ID == older.ID
	})
	assert.Equal(t, "頂上來", b.Items[0].LastMessage)
	assert.Equal(t, int64(1), b.Items[0].UnreadFor("alice"))

	_, err = svc.LeaveRoom(ctx, newer.ID, "alice")
	require.NoError(t, err)
	b = waitFor(t, feed, func(b chat.Batch[models.ChatRoom]) bool { return len(b.Items) == 1 })
	assert.Equal(t, []string{newer.ID}, b.Removed)
}

func TestWatchRoom_ReportsDeletion(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, chat.Options{})
	room, err := svc.CreateRoom(ctx, "", "alice", []string{"bob"})
	require.NoError(t, err)

	feed, err := svc.WatchRoom(ctx, room.ID)
	require.NoError(t, err)
	defer feed.Close()

	ev := next(t, feed)
	require.NoError(t, ev.Err)
	assert.False(t, ev.Deleted)
	assert.Equal(t, room.ID, ev.Room.ID)

	require.NoError(t, svc.RenameRoom(ctx, room.ID, "改名"))
	ev = waitFor(t, feed, func(e chat.RoomEvent) bool { return e.Room.Name == "改名" })
	assert.False(t, ev.Deleted)

	_, err = svc.LeaveRoom(ctx, room.ID, "bob")
	require.NoError(t, err)
	ev = waitFor(t, feed, func(e chat.RoomEvent) bool { return e.Deleted })
	assert.NoError(t, ev.Err)
}

func TestFeed_CloseIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, chat.Options{})
	feed, err := svc.ListRoomsForParticipant(context.Background(), "alice")
	require.NoError(t, err)
	feed.Close()
	feed.Close()

	_, ok := <-feed.C
	assert.False(t, ok, "Close 之後 C 應該被關閉")
}
