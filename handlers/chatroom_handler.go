package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"go-chat/roomsync/chat"
	"go-chat/roomsync/utils"
)

// CreateChatRoomRequest 定義創建聊天室的請求體
type CreateChatRoomRequest struct {
	Name           string   `json:"name"`           // 空白時自動命名
	ParticipantIDs []string `json:"participantIds"` // 參與者的使用者 ID 字串列表
}

// DirectRoomRequest 開啟與另一位使用者的聊天室，Content 不為空時順便送出第一則訊息
type DirectRoomRequest struct {
	ParticipantID string `json:"participantId"`
	Content       string `json:"content,omitempty"`
}

// AddParticipantsRequest 定義邀請參與者的請求體
type AddParticipantsRequest struct {
	NewParticipantIDs []string `json:"newParticipantIds"` // 新增參與者的使用者 ID 字串列表
}

// PartialInviteResponse 是邀請中途失敗時的回應，Applied 是已經加入的對象
type PartialInviteResponse struct {
	Message string   `json:"message"`
	Applied []string `json:"applied"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

type MuteRequest struct {
	Muted bool `json:"muted"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

// ChatHandler 把聊天核心的操作開放成 REST API
type ChatHandler struct {
	svc *chat.Service
	log *slog.Logger
}

func NewChatHandler(svc *chat.Service, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{svc: svc, log: logger}
}

// sendChatError 將核心錯誤轉成 HTTP 狀態碼
func (h *ChatHandler) sendChatError(w http.ResponseWriter, err error) {
	status, message := h.chatErrorStatus(err)
	sendJSONError(w, message, status)
}

// chatErrorStatus 將核心錯誤對應到 HTTP 狀態碼與訊息
func (h *ChatHandler) chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		return http.StatusNotFound, "Chat room not found"
	case errors.Is(err, chat.ErrNotParticipant):
		return http.StatusForbidden, "Not a participant of this room"
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidName),
		errors.Is(err, chat.ErrInvalidID):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrConflict):
		return http.StatusConflict, "Room changed concurrently, please retry"
	default:
		h.log.Error("chat operation failed", "err", err)
		return http.StatusInternalServerError, "Internal server error"
	}
}

// caller 取出目前使用者與路徑上的聊天室 ID
func caller(w http.ResponseWriter, r *http.Request) (userID, roomID string, ok bool) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		sendJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return "", "", false
	}
	return userID, mux.Vars(r)["id"], true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// CreateChatRoom 處理創建聊天室的請求
func (h *ChatHandler) CreateChatRoom(w http.ResponseWriter, r *http.Request) {
	creatorID, _, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreateChatRoomRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.ParticipantIDs) < 1 {
		sendJSONError(w, "At least one participant is required", http.StatusBadRequest)
		return
	}

	room, err := h.svc.CreateRoom(r.Context(), req.Name, creatorID, req.ParticipantIDs)
	if err != nil {
		h.sendChatError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// OpenDirectRoom 找出或建立與另一位使用者的聊天室
func (h *ChatHandler) OpenDirectRoom(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := caller(w, r)
	if !ok {
		return
	}
	var req DirectRoomRequest
	if !decode(w, r, &req) {
		return
	}

	room, created, err := h.svc.OpenDirectRoom(r.Context(), userID, req.ParticipantID)
	if err != nil {
		h.sendChatError(w, err)
		return
	}
	if req.Content != "" {
		if _, err := h.svc.SendMessage(r.Context(), room.ID, userID, req.Content); err != nil {
			h.sendChatError(w, err)
			return
		}
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, room)
}

// GetUserChatRooms 處理獲取使用者所有聊天室的請求
func (h *ChatHandler) GetUserChatRooms(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := caller(w, r)
	if !ok {
		return
	}
	rooms, err := h.svc.RoomsForParticipant(r.Context(), userID)
	if err != nil {
		h.sendChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// RenameChatRoom 變更聊天室名稱
func (h *ChatHandler) RenameChatRoom(w http.ResponseWriter, r *http.Request) {
	userID, roomID, ok := caller(w, r)
	if !ok {
		return
	}
	var req RenameRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.svc.RequireParticipant(r.Context(), roomID, userID); err != nil {
		h.sendChatError(w, err)
		return
	}
	if err := h.svc.RenameRoom(r.Context(), roomID, req.Name); err != nil {
		h.sendChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// SetMuted 切換自己在聊天室的通知狀態
func (h *ChatHandler) SetMuted(w http.ResponseWriter, r *http.Request) {
	userID, roomID, ok := caller(w, r)
	if !ok {
		return
	}
	var req MuteRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.svc.RequireParticipant(r.Context(), roomID, userID); err != nil {
		h.sendChatError(w, err)
		return
	}
	if err := h.svc.SetMuted(r.Context(), roomID, userID, req.Muted); err != nil {
		h.sendChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"muted": req.Muted})
}

// AddParticipants 處理將新使用者加入聊天室的請求
func (h *ChatHandler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	userID, roomID, ok := caller(w, r)
	if !ok {
		return
	}
	var req AddParticipantsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.NewParticipantIDs) == 0 {
		sendJSONError(w, "At least one participant is required", http.StatusBadRequest)
		return
	}

	// 每位對象各自一次條件寫入與一則系統訊息
	applied, err := h.svc.InviteParticipants(r.Context(), roomID, userID, req.NewParticipantIDs)
	if err != nil {
		if len(applied) == 0 {
			h.sendChatError(w, err)
			return
		}
		status, message := h.chatErrorStatus(err)
		writeJSON(w, status, PartialInviteResponse{Message: message, Applied: applied})
		return
	}
	room, err := h.svc.Room(r.Context(), roomID)
	if err != nil {
		h.sendChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// LeaveChatRoom 處理使用者退出聊天室的請求
func (h *ChatHandler) LeaveChatRoom(w http.ResponseWriter, r *http.Request) {
	userID, roomID, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := h.svc.LeaveRoom(r.Context(), roomID, userID)
	if err != nil {
		h.sendChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": res.Deleted})
}

// MarkRead 將自己的未讀數歸零
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, roomID, ok := caller(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.RequireParticipant(r.Context(), roomID, userID); err != nil {
		h.sendChatError(w, err)
		return
	}
	if err := h.svc.OnRoomOpened(r.Context(), roomID, userID); err != nil {
		h.sendChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetParticipants 回傳聊天室成員的公開資料
func (h *ChatHandler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	userID, roomID, ok := caller(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.RequireParticipant(r.Context(), roomID, userID); err != nil {
		h.sendChatError(w, err)
		return
	}
	profiles, err := h.svc.Participants(r.Context(), roomID)
	if err != nil {
		h.sendChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// SendMessage 發送一則訊息
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, roomID, ok := caller(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.svc.SendMessage(r.Context(), roomID, userID, req.Content)
	if err != nil && msg.ID == "" {
		h.sendChatError(w, err)
		return
	}
	if err != nil {
		// 訊息已寫入，只是摘要沒有更新；重送會造成重複訊息
		h.log.Warn("message stored with stale room summary", "room", roomID, "message", msg.ID, "err", err)
	}
	writeJSON(w, http.StatusCreated, msg)
}

// GetChatHistory 回傳最近的訊息，可用 ?limit= 指定筆數
func (h *ChatHandler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, roomID, ok := caller(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendJSONError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if _, err := h.svc.RequireParticipant(r.Context(), roomID, userID); err != nil {
		h.sendChatError(w, err)
		return
	}
	messages, err := h.svc.History(r.Context(), roomID, limit)
	if err != nil {
		h.sendChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
