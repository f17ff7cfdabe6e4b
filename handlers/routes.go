package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"go-chat/roomsync/middleware"
	"go-chat/roomsync/websocket"
)

// Router 組出所有 HTTP 與 WebSocket 路由
type Router struct {
	Auth      *AuthHandler
	Chat      *ChatHandler
	WS        *websocket.Server
	Limiter   *middleware.SendLimiter
	JWTSecret string
	Logger    *slog.Logger
}

func (rt Router) Build() *mux.Router {
	logger := rt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(logger))

	// 健康檢查路由
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "Backend is running!")
	}).Methods(http.MethodGet)

	router.HandleFunc("/register", rt.Auth.RegisterUser).Methods(http.MethodPost)
	router.HandleFunc("/login", rt.Auth.LoginUser).Methods(http.MethodPost)

	auth := middleware.JWTMiddleware(rt.JWTSecret)
	api := router.NewRoute().Subrouter()
	api.Use(auth)
	api.HandleFunc("/users", rt.Auth.GetAllUsers).Methods(http.MethodGet)

	api.HandleFunc("/chatrooms", rt.Chat.CreateChatRoom).Methods(http.MethodPost)
	api.HandleFunc("/chatrooms", rt.Chat.GetUserChatRooms).Methods(http.MethodGet)
	api.HandleFunc("/chatrooms/direct", rt.Chat.OpenDirectRoom).Methods(http.MethodPost)
	api.HandleFunc("/chatrooms/{id}/name", rt.Chat.RenameChatRoom).Methods(http.MethodPut)
	api.HandleFunc("/chatrooms/{id}/mute", rt.Chat.SetMuted).Methods(http.MethodPut)
	api.HandleFunc("/chatrooms/{id}/participants", rt.Chat.AddParticipants).Methods(http.MethodPost)
	api.HandleFunc("/chatrooms/{id}/participants", rt.Chat.GetParticipants).Methods(http.MethodGet)
	api.HandleFunc("/chatrooms/{id}/leave", rt.Chat.LeaveChatRoom).Methods(http.MethodPost)
	api.HandleFunc("/chatrooms/{id}/read", rt.Chat.MarkRead).Methods(http.MethodPost)
	api.HandleFunc("/chatrooms/{id}/messages", rt.Chat.GetChatHistory).Methods(http.MethodGet)

	send := http.Handler(http.HandlerFunc(rt.Chat.SendMessage))
	if rt.Limiter != nil {
		send = rt.Limiter.Middleware(send)
	}
	api.Handle("/chatrooms/{id}/messages", send).Methods(http.MethodPost)

	if rt.WS != nil {
		api.HandleFunc("/ws/rooms", rt.WS.HandleRooms)
		api.HandleFunc("/ws/chatrooms/{id}", rt.WS.HandleRoom)
	}
	return router
}
