package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go-chat/roomsync/database"
	"go-chat/roomsync/models"
	"go-chat/roomsync/utils"

	"golang.org/x/crypto/bcrypt" // 用於密碼哈希
)

//go:generate mockgen -destination=../mocks/mock_user_store.go -package=mocks go-chat/roomsync/handlers UserStore

// UserStore 是帳號資料的存取介面，*database.UserRepository 即符合
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
}

// AuthHandler 處理註冊、登入與使用者列表
type AuthHandler struct {
	users     UserStore
	jwtSecret string
	log       *slog.Logger
}

func NewAuthHandler(users UserStore, jwtSecret string, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{users: users, jwtSecret: jwtSecret, log: logger}
}

// sendJSONError 統一發送 JSON 格式錯誤響應
func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, models.ErrorResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}

// RegisterUser 處理使用者註冊請求
func (h *AuthHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var registerReq models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&registerReq); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	registerReq.Email = strings.TrimSpace(registerReq.Email)
	registerReq.Username = strings.TrimSpace(registerReq.Username)

	// 基本的輸入驗證
	if registerReq.Email == "" || registerReq.Username == "" || registerReq.Password == "" {
		sendJSONError(w, "Email, username, and password are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	// 先檢查 Email，再檢查 Username
	if existing, err := h.users.FindByEmail(ctx, registerReq.Email); err != nil {
		h.log.Error("error checking existing email", "err", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	} else if existing != nil {
		sendJSONError(w, "Email already registered", http.StatusConflict)
		return
	}
	if existing, err := h.users.FindByUsername(ctx, registerReq.Username); err != nil {
		h.log.Error("error checking existing username", "err", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	} else if existing != nil {
		sendJSONError(w, "Username already taken", http.StatusConflict)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(registerReq.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("error hashing password", "err", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	user := models.User{
		Email:    registerReq.Email,
		Username: registerReq.Username,
		Password: string(hashedPassword),
	}
	// 兩個請求同時通過上面的檢查時，由唯一索引擋下
	if err := h.users.Create(ctx, &user); err != nil {
		if errors.Is(err, database.ErrDuplicateUser) {
			sendJSONError(w, "Email or username already taken", http.StatusConflict)
			return
		}
		h.log.Error("error inserting user", "err", err)
		sendJSONError(w, "Failed to register user", http.StatusInternalServerError)
		return
	}

	h.log.Info("user registered", "user", user.ID.Hex())
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "User registered successfully",
		"id":      user.ID.Hex(),
	})
}

// LoginUser 處理使用者登入請求，成功時回傳 JWT
func (h *AuthHandler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if credentials.Email == "" || credentials.Password == "" {
		sendJSONError(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.users.FindByEmail(r.Context(), strings.TrimSpace(credentials.Email))
	if err != nil {
		h.log.Error("error finding user by email", "err", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		sendJSONError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	// 比較哈希後的密碼
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(credentials.Password)); err != nil {
		sendJSONError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := utils.GenerateJWT(user.ID.Hex(), user.Username, h.jwtSecret)
	if err != nil {
		h.log.Error("error signing token", "err", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.log.Info("user logged in", "user", user.ID.Hex())
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Login successful",
		"id":       user.ID.Hex(),
		"username": user.Username,
		"token":    token,
	})
}

// GetAllUsers 回傳所有使用者的公開資料
func (h *AuthHandler) GetAllUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.log.Error("error finding all users", "err", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	profiles := make([]models.Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}
	writeJSON(w, http.StatusOK, profiles)
}
