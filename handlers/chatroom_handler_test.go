package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"go-chat/roomsync/chat"
	"go-chat/roomsync/handlers"
	"go-chat/roomsync/middleware"
	"go-chat/roomsync/mocks"
	"go-chat/roomsync/models"
	"go-chat/roomsync/store/memstore"
	"go-chat/roomsync/utils"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// apiClient 以指定使用者身分呼叫完整的路由
type apiClient struct {
	t      *testing.T
	router http.Handler
}

func newAPI(t *testing.T, limiter *middleware.SendLimiter) (*apiClient, *chat.Service) {
	t.Helper()
	st := memstore.New(memstore.WithPartitions(chat.Partitions()), memstore.WithLogger(quietLogger()))
	svc := chat.NewService(st, nil, chat.Options{Logger: quietLogger()})
	rt := handlers.Router{
		Auth:      handlers.NewAuthHandler(mocks.NewMockUserStore(gomock.NewController(t)), testSecret, quietLogger()),
		Chat:      handlers.NewChatHandler(svc, quietLogger()),
		Limiter:   limiter,
		JWTSecret: testSecret,
		Logger:    quietLogger(),
	}
	return &apiClient{t: t, router: rt.Build()}, svc
}

func (c *apiClient) do(user, method, path string, body any, out any) int {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		token, err := utils.GenerateJWT(user, user, testSecret)
		require.NoError(c.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestHealthAndAuthRequired(t *testing.T) {
	api, _ := newAPI(t, nil)
	assert.Equal(t, http.StatusOK, api.do("", http.MethodGet, "/health", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, api.do("", http.MethodGet, "/chatrooms", nil, nil))
}

func TestChatRoomLifecycle(t *testing.T) {
	api, _ := newAPI(t, nil)

	var room models.ChatRoom
	code := api.do("alice", http.MethodPost, "/chatrooms", handlers.CreateChatRoomRequest{ParticipantIDs: []string{"bob"}}, &room)
	require.Equal(t, http.StatusCreated, code)
	assert.ElementsMatch(t, []string{"alice", "bob"}, room.Participants)
	base := "/chatrooms/" + room.ID

	var msg models.Message
	code = api.do("alice", http.MethodPost, base+"/messages", handlers.SendMessageRequest{Content: "hi bob"}, &msg)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "hi bob", msg.Content)

	var rooms []models.ChatRoom
	require.Equal(t, http.StatusOK, api.do("bob", http.MethodGet, "/chatrooms", nil, &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, int64(1), rooms[0].UnreadCounts["bob"])
	assert.Equal(t, "hi bob", rooms[0].LastMessage)

	assert.Equal(t, http.StatusNoContent, api.do("bob", http.MethodPost, base+"/read", nil, nil))
	require.Equal(t, http.StatusOK, api.do("bob", http.MethodGet, "/chatrooms", nil, &rooms))
	assert.Equal(t, int64(0), rooms[0].UnreadCounts["bob"])

	assert.Equal(t, http.StatusOK, api.do("bob", http.MethodPut, base+"/name", handlers.RenameRequest{Name: "我們"}, nil))
	assert.Equal(t, http.StatusOK, api.do("bob", http.MethodPut, base+"/mute", handlers.MuteRequest{Muted: true}, nil))

	var updated models.ChatRoom
	code = api.do("alice", http.MethodPost, base+"/participants", handlers.AddParticipantsRequest{NewParticipantIDs: []string{"carol"}}, &updated)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "我們", updated.Name)
	assert.Equal(t, []string{"bob"}, updated.MutedBy)
	assert.True(t, updated.HasParticipant("carol"))

	var profiles []models.Profile
	require.Equal(t, http.StatusOK, api.do("carol", http.MethodGet, base+"/participants", nil, &profiles))
	assert.Len(t, profiles, 3)

	var history struct {
		Messages []models.Message `json:"messages"`
	}
	require.Equal(t, http.StatusOK, api.do("carol", http.MethodGet, base+"/messages?limit=10", nil, &history))
	require.Len(t, history.Messages, 3)
	assert.Equal(t, "hi bob", history.Messages[0].Content)
	assert.Equal(t, "聊天室名稱已變更為「我們」。", history.Messages[1].Content)
	assert.Equal(t, "alice 已邀請 carol 加入群組。", history.Messages[2].Content)

	var left map[string]any
	require.Equal(t, http.StatusOK, api.do("carol", http.MethodPost, base+"/leave", nil, &left))
	assert.Equal(t, false, left["deleted"])
	require.Equal(t, http.StatusOK, api.do("bob", http.MethodPost, base+"/leave", nil, &left))
	assert.Equal(t, true, left["deleted"])

	assert.Equal(t, http.StatusNotFound, api.do("alice", http.MethodGet, base+"/messages", nil, nil))
}

func TestChatRoomErrors(t *testing.T) {
	api, _ := newAPI(t, nil)
	var room models.ChatRoom
	require.Equal(t, http.StatusCreated, api.do("alice", http.MethodPost, "/chatrooms", handlers.CreateChatRoomRequest{ParticipantIDs: []string{"bob"}}, &room))
	base := "/chatrooms/" + room.ID

	assert.Equal(t, http.StatusBadRequest, api.do("alice", http.MethodPost, "/chatrooms", handlers.CreateChatRoomRequest{}, nil))
	assert.Equal(t, http.StatusBadRequest, api.do("alice", http.MethodPost, "/chatrooms", handlers.CreateChatRoomRequest{ParticipantIDs: []string{"a.b"}}, nil))
	assert.Equal(t, http.StatusBadRequest, api.do("alice", http.MethodPost, base+"/messages", handlers.SendMessageRequest{Content: "  "}, nil))
	assert.Equal(t, http.StatusForbidden, api.do("mallory", http.MethodPost, base+"/messages", handlers.SendMessageRequest{Content: "hi"}, nil))
	assert.Equal(t, http.StatusForbidden, api.do("mallory", http.MethodGet, base+"/messages", nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do("alice", http.MethodPost, "/chatrooms/missing/messages", handlers.SendMessageRequest{Content: "hi"}, nil))
	assert.Equal(t, http.StatusBadRequest, api.do("alice", http.MethodPut, base+"/name", handlers.RenameRequest{Name: " "}, nil))
	assert.Equal(t, http.StatusBadRequest, api.do("alice", http.MethodGet, base+"/messages?limit=abc", nil, nil))
}

func TestAddParticipants_RejectsWholeBatch(t *testing.T) {
	api, _ := newAPI(t, nil)
	var room models.ChatRoom
	require.Equal(t, http.StatusCreated, api.do("alice", http.MethodPost, "/chatrooms", handlers.CreateChatRoomRequest{ParticipantIDs: []string{"bob"}}, &room))
	base := "/chatrooms/" + room.ID

	code := api.do("alice", http.MethodPost, base+"/participants", handlers.AddParticipantsRequest{NewParticipantIDs: []string{"carol", "bad.id"}}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var profiles []models.Profile
	require.Equal(t, http.StatusOK, api.do("alice", http.MethodGet, base+"/participants", nil, &profiles))
	assert.Len(t, profiles, 2, "carol 不應該被加入")

	var updated models.ChatRoom
	code = api.do("alice", http.MethodPost, base+"/participants", handlers.AddParticipantsRequest{NewParticipantIDs: []string{"bob", "carol"}}, &updated)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"alice", "bob", "carol"}, updated.Participants)
}

func TestOpenDirectRoomEndpoint(t *testing.T) {
	api, _ := newAPI(t, nil)

	var first, second models.ChatRoom
	require.Equal(t, http.StatusCreated, api.do("alice", http.MethodPost, "/chatrooms/direct", handlers.DirectRoomRequest{ParticipantID: "bob", Content: "哈囉"}, &first))
	require.Equal(t, http.StatusOK, api.do("bob", http.MethodPost, "/chatrooms/direct", handlers.DirectRoomRequest{ParticipantID: "alice"}, &second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), second.UnreadCounts["bob"])
}

func TestSendMessage_RateLimited(t *testing.T) {
	api, _ := newAPI(t, middleware.NewSendLimiter(0.001, 2))
	var room models.ChatRoom
	require.Equal(t, http.StatusCreated, api.do("alice", http.MethodPost, "/chatrooms", handlers.CreateChatRoomRequest{ParticipantIDs: []string{"bob"}}, &room))
	path := "/chatrooms/" + room.ID + "/messages"

	assert.Equal(t, http.StatusCreated, api.do("alice", http.MethodPost, path, handlers.SendMessageRequest{Content: "1"}, nil))
	assert.Equal(t, http.StatusCreated, api.do("alice", http.MethodPost, path, handlers.SendMessageRequest{Content: "2"}, nil))
	assert.Equal(t, http.StatusTooManyRequests, api.do("alice", http.MethodPost, path, handlers.SendMessageRequest{Content: "3"}, nil))
	assert.Equal(t, http.StatusCreated, api.do("bob", http.MethodPost, path, handlers.SendMessageRequest{Content: "bob 不受影響"}, nil))
}
