package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv" // 引入這個庫來讀取 .env 檔案
)

// 變更通知的後端
const (
	NotifierLocal = "local"
	NotifierRedis = "redis"
	NotifierNATS  = "nats"
)

// Config 結構體用於儲存應用程式的配置
type Config struct {
	Port           string
	MongoDBURI     string
	DBName         string
	JWTSecret      string
	AllowedOrigins []string

	Notifier      string
	RedisAddr     string
	RedisPassword string
	NATSURL       string

	// RoomDeleteThreshold 是保留聊天室所需的最少剩餘人數（1 或 2）
	RoomDeleteThreshold int
	SendRatePerSec      float64
	SendBurst           int
	HistoryLimit        int
}

// LoadConfig 載入配置，優先從環境變數讀取，其次從 .env 檔案讀取
func LoadConfig() (*Config, error) {
	// 嘗試載入 .env 檔案，如果不存在也不會報錯
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		MongoDBURI:     getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		DBName:         getEnv("DB_NAME", "chat_app_db"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		Notifier:       strings.ToLower(getEnv("NOTIFIER", NotifierLocal)),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		NATSURL:        getEnv("NATS_URL", "nats://127.0.0.1:4222"),
	}

	cfg.RoomDeleteThreshold = getInt("ROOM_DELETE_THRESHOLD", 2)
	cfg.SendRatePerSec = getFloat("SEND_RATE_PER_SEC", 5)
	cfg.SendBurst = getInt("SEND_BURST", 10)
	cfg.HistoryLimit = getInt("HISTORY_LIMIT", 50)
	return cfg, cfg.Validate()
}

// Validate 檢查設定值是否合理
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.Notifier {
	case NotifierLocal, NotifierRedis, NotifierNATS:
	default:
		return fmt.Errorf("unknown NOTIFIER %q (want local, redis or nats)", c.Notifier)
	}
	if c.RoomDeleteThreshold != 1 && c.RoomDeleteThreshold != 2 {
		return fmt.Errorf("ROOM_DELETE_THRESHOLD must be 1 or 2, got %d", c.RoomDeleteThreshold)
	}
	if c.SendRatePerSec <= 0 || c.SendBurst <= 0 {
		return fmt.Errorf("SEND_RATE_PER_SEC and SEND_BURST must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	return nil
}

// getEnv 輔助函數，用於從環境變數獲取值，如果不存在則使用預設值
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getInt 無法解析時記錄一行警告並使用預設值
func getInt(key string, defaultValue int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid numeric env, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("invalid numeric env, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

// splitList 解析逗號分隔的清單並去除空白
func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
