package middleware

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
)

// RequestLogger 記錄每個請求的方法、路徑、狀態碼與耗時
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			logger.Info("handled", "method", r.Method, "path", r.URL.Path, "status", m.Code, "duration", m.Duration, "bytes", m.Written)
		})
	}
}
