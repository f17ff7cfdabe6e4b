package websocket_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat/roomsync/chat"
	"go-chat/roomsync/middleware"
	"go-chat/roomsync/store/memstore"
	"go-chat/roomsync/utils"
	"go-chat/roomsync/websocket"
)

const testSecret = "ws-secret"

// frame 是測試用的寬鬆解碼結構
type frame struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	LocalID  string `json:"localId"`
	Error    string `json:"error"`
	Messages []struct {
		Content  string `json:"content"`
		SenderID string `json:"senderId"`
	} `json:"messages"`
	Rooms []struct {
		ID           string           `json:"id"`
		UnreadCounts map[string]int64 `json:"unreadCounts"`
	} `json:"rooms"`
	Room *struct {
		Name string `json:"name"`
	} `json:"room"`
	Item struct {
		LocalID   string `json:"localId"`
		State     string `json:"state"`
		MessageID string `json:"messageId"`
	} `json:"item"`
}

type fixture struct {
	svc    *chat.Service
	server *httptest.Server
}

func newFixture(t *testing.T, limiter websocket.Limiter) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memstore.New(memstore.WithPartitions(chat.Partitions()), memstore.WithLogger(logger))
	svc := chat.NewService(st, nil, chat.Options{Logger: logger})
	ws := websocket.NewServer(svc, limiter, nil, logger)

	router := mux.NewRouter()
	api := router.NewRoute().Subrouter()
	api.Use(middleware.JWTMiddleware(testSecret))
	api.HandleFunc("/ws/rooms", ws.HandleRooms)
	api.HandleFunc("/ws/chatrooms/{id}", ws.HandleRoom)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		ws.Shutdown()
		srv.Close()
	})
	return &fixture{svc: svc, server: srv}
}

func (f *fixture) dial(t *testing.T, user, path string) (*gorilla.Conn, *http.Response, error) {
	t.Helper()
	token, err := utils.GenerateJWT(user, user, testSecret)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path + "?token=" + token
	return gorilla.DefaultDialer.Dial(url, nil)
}

func (f *fixture) connect(t *testing.T, user, path string) *gorilla.Conn {
	t.Helper()
	conn, _, err := f.dial(t, user, path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil 讀取 frame 直到 match 成立
func readUntil(t *testing.T, conn *gorilla.Conn, match func(frame) bool) frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var fr frame
		require.NoError(t, json.Unmarshal(raw, &fr))
		if match(fr) {
			return fr
		}
	}
}

func TestHandleRoom_SendAndReceive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()
	room, err := f.svc.CreateRoom(ctx, "", "alice", []string{"bob"})
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, room.ID, "bob", "在嗎？")
	require.NoError(t, err)

	alice := f.connect(t, "alice", "/ws/chatrooms/"+room.ID)
	first := readUntil(t, alice, func(fr frame) bool { return fr.Type == "messages" })
	require.Len(t, first.Messages, 1)
	assert.Equal(t, "在嗎？", first.Messages[0].Content)

	// 開啟聊天室即歸零自己的未讀數
	require.Eventually(t, func() bool {
		r, err := f.svc.Room(ctx, room.ID)
		return err == nil && r.UnreadFor("alice") == 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "send", "localId": "l-1", "content": "在"}))
	ack := readUntil(t, alice, func(fr frame) bool { return fr.Type == "outbox" })
	assert.Equal(t, "l-1", ack.Item.LocalID)
	assert.Equal(t, "sent", ack.Item.State)
	assert.NotEmpty(t, ack.Item.MessageID)

	got := readUntil(t, alice, func(fr frame) bool { return fr.Type == "messages" && len(fr.Messages) == 2 })
	assert.Equal(t, "在", got.Messages[1].Content)

	r, err := f.svc.Room(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.UnreadFor("bob"))
	assert.Equal(t, int64(0), r.UnreadFor("alice"))
}

func TestHandleRoom_MarksReadWhileViewing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()
	room, err := f.svc.CreateRoom(ctx, "", "alice", []string{"bob"})
	require.NoError(t, err)

	alice := f.connect(t, "alice", "/ws/chatrooms/"+room.ID)
	readUntil(t, alice, func(fr frame) bool { return fr.Type == "messages" })

	_, err = f.svc.SendMessage(ctx, room.ID, "bob", "看得到嗎")
	require.NoError(t, err)
	readUntil(t, alice, func(fr frame) bool { return fr.Type == "messages" && len(fr.Messages) == 1 })

	require.Eventually(t, func() bool {
		r, err := f.svc.Room(ctx, room.ID)
		return err == nil && r.UnreadFor("alice") == 0
	}, 2*time.Second, 20*time.Millisecond, "正在看的人不應累積未讀數")
}

func TestHandleRoom_RoomDeletedClosesStream(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()
	room, err := f.svc.CreateRoom(ctx, "", "alice", []string{"bob"})
	require.NoError(t, err)

	alice := f.connect(t, "alice", "/ws/chatrooms/"+room.ID)
	readUntil(t, alice, func(fr frame) bool { return fr.Type == "room" })

	_, err = f.svc.LeaveRoom(ctx, room.ID, "bob")
	require.NoError(t, err)

	deleted := readUntil(t, alice, func(fr frame) bool { return fr.Type == "room_deleted" })
	assert.Equal(t, room.ID, deleted.RoomID)

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = alice.ReadMessage()
	assert.True(t, gorilla.IsCloseError(err, gorilla.CloseNormalClosure), "刪除後伺服器應關閉連線，得到 %v", err)
}

// 離開聊天室後串流立即結束，之後的訊息不會送達，也不會再寫入自己的未讀數
func TestHandleRoom_LeaverStreamEnds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()
	room, err := f.svc.CreateRoom(ctx, "", "alice", []string{"bob", "carol"})
	require.NoError(t, err)

	carol := f.connect(t, "carol", "/ws/chatrooms/"+room.ID)
	readUntil(t, carol, func(fr frame) bool { return fr.Type == "room" })

	res, err := f.svc.LeaveRoom(ctx, room.ID, "carol")
	require.NoError(t, err)
	require.False(t, res.Deleted)
	before, err := f.svc.Room(ctx, room.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, room.ID, "alice", "carol 不該看到")
	require.NoError(t, err)

	require.NoError(t, carol.SetReadDeadline(time.Now().Add(3*time.Second)))
	sawLeft := false
	for {
		_, raw, err := carol.ReadMessage()
		if err != nil {
			assert.True(t, gorilla.IsCloseError(err, gorilla.CloseNormalClosure), "離開後伺服器應關閉連線，得到 %v", err)
			break
		}
		var fr frame
		require.NoError(t, json.Unmarshal(raw, &fr))
		for _, m := range fr.Messages {
			assert.NotEqual(t, "carol 不該看到", m.Content, "離開後不應收到新訊息")
		}
		if fr.Type == "left" {
			assert.Equal(t, room.ID, fr.RoomID)
			sawLeft = true
		}
	}
	assert.True(t, sawLeft, "關閉前應送出 left frame")

	// 之後只有 alice 那一次摘要更新
	require.Never(t, func() bool {
		r, err := f.svc.Room(ctx, room.ID)
		return err != nil || r.Version != before.Version+1
	}, 300*time.Millisecond, 20*time.Millisecond, "已離開的人不應再寫入聊天室")
	r, err := f.svc.Room(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, r.Participants)
}

func TestHandleRoom_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	room, err := f.svc.CreateRoom(t.Context(), "", "alice", []string{"bob"})
	require.NoError(t, err)

	_, resp, err := f.dial(t, "mallory", "/ws/chatrooms/"+room.ID)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = f.dial(t, "alice", "/ws/chatrooms/missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func TestHandleRoom_CommandErrors(t *testing.T) {
	f := newFixture(t, denyAll{})
	room, err := f.svc.CreateRoom(t.Context(), "", "alice", []string{"bob"})
	require.NoError(t, err)

	alice := f.connect(t, "alice", "/ws/chatrooms/"+room.ID)
	readUntil(t, alice, func(fr frame) bool { return fr.Type == "messages" })

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "send", "localId": "x", "content": "hi"}))
	fr := readUntil(t, alice, func(fr frame) bool { return fr.Type == "error" })
	assert.Equal(t, "x", fr.LocalID)
	assert.Equal(t, "too many messages", fr.Error)

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "retry", "localId": "nope"}))
	fr = readUntil(t, alice, func(fr frame) bool { return fr.Type == "error" })
	assert.Equal(t, "nope", fr.LocalID)

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "bogus"}))
	fr = readUntil(t, alice, func(fr frame) bool { return fr.Type == "error" })
	assert.Contains(t, fr.Error, "bogus")
}

func TestHandleRooms(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()
	room, err := f.svc.CreateRoom(ctx, "", "alice", []string{"bob"})
	require.NoError(t, err)

	bob := f.connect(t, "bob", "/ws/rooms")
	first := readUntil(t, bob, func(fr frame) bool { return fr.Type == "rooms" })
	require.Len(t, first.Rooms, 1)
	assert.Equal(t, room.ID, first.Rooms[0].ID)

	_, err = f.svc.SendMessage(ctx, room.ID, "alice", "ping")
	require.NoError(t, err)
	update := readUntil(t, bob, func(fr frame) bool {
		return fr.Type == "rooms" && len(fr.Rooms) == 1 && fr.Rooms[0].UnreadCounts["bob"] == 1
	})
	assert.Equal(t, room.ID, update.Rooms[0].ID)

	other, err := f.svc.CreateRoom(ctx, "", "carol", []string{"bob"})
	require.NoError(t, err)
	update = readUntil(t, bob, func(fr frame) bool { return fr.Type == "rooms" && len(fr.Rooms) == 2 })
	assert.Equal(t, other.ID, update.Rooms[0].ID, "新聊天室排在最前")
}
