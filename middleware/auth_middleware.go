package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"go-chat/roomsync/utils"
)

// tokenFromRequest 優先讀取 Authorization: Bearer <token>，
// 瀏覽器的 WebSocket 無法自訂標頭，因此也接受 ?token= 查詢參數
func tokenFromRequest(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

// JWTMiddleware 驗證 JWT Token 並將使用者 ID 放入 context
func JWTMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := tokenFromRequest(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			userID, err := utils.GetUserIDFromToken(tokenString, jwtSecret)
			if err != nil {
				slog.Info("invalid JWT token", "path", r.URL.Path, "err", err)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			// 將使用者 ID 存儲到請求的 context 中
			next.ServeHTTP(w, r.WithContext(utils.WithUserID(r.Context(), userID)))
		})
	}
}
