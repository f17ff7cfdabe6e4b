package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, NotifierLocal, cfg.Notifier)
	assert.Equal(t, 2, cfg.RoomDeleteThreshold)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("NOTIFIER", "NATS")
	t.Setenv("ROOM_DELETE_THRESHOLD", "1")
	t.Setenv("SEND_RATE_PER_SEC", "0.5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, NotifierNATS, cfg.Notifier)
	assert.Equal(t, 1, cfg.RoomDeleteThreshold)
	assert.Equal(t, 0.5, cfg.SendRatePerSec)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

// 數值無法解析時沿用預設值，不中止啟動
func TestLoadConfig_UnparsableNumbersFallBack(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ROOM_DELETE_THRESHOLD", "two")
	t.Setenv("SEND_RATE_PER_SEC", "fast")
	t.Setenv("SEND_BURST", "10x")
	t.Setenv("HISTORY_LIMIT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.RoomDeleteThreshold)
	assert.Equal(t, 5.0, cfg.SendRatePerSec)
	assert.Equal(t, 10, cfg.SendBurst)
	assert.Equal(t, 50, cfg.HistoryLimit)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "缺少 JWT_SECRET", env: map[string]string{"JWT_SECRET": ""}},
		{name: "未知的通知後端", env: map[string]string{"JWT_SECRET": "s", "NOTIFIER": "kafka"}},
		{name: "刪除門檻超出範圍", env: map[string]string{"JWT_SECRET": "s", "ROOM_DELETE_THRESHOLD": "3"}},
		{name: "速率必須為正數", env: map[string]string{"JWT_SECRET": "s", "SEND_RATE_PER_SEC": "0"}},
		{name: "歷史筆數必須為正數", env: map[string]string{"JWT_SECRET": "s", "HISTORY_LIMIT": "-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
