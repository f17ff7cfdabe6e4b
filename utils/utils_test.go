package utils

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestGenerateJWT(t *testing.T) {
	// 準備測試資料
	userID := primitive.NewObjectID().Hex()
	username := "testuser"
	secret := "test-secret"

	tokenString, err := GenerateJWT(userID, username, secret)
	assert.NoError(t, err, "生成 JWT 不應該返回錯誤")
	assert.NotEmpty(t, tokenString, "生成的 JWT token 不應該是空的")

	// 解析並驗證 token 內容
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		_, ok := token.Method.(*jwt.SigningMethodHMAC)
		assert.True(t, ok, "非預期的簽名演算法")
		return []byte(secret), nil
	})
	assert.NoError(t, err, "解析 JWT token 不應該返回錯誤")
	assert.True(t, token.Valid, "JWT token 應該是有效的")

	claims, ok := token.Claims.(jwt.MapClaims)
	assert.True(t, ok, "無法讀取 JWT claims")
	assert.Equal(t, userID, claims["userId"], "userId claim 應該與原始 userID 相同")
	assert.Equal(t, username, claims["username"], "username claim 應該與原始 username 相同")

	exp, ok := claims["exp"].(float64)
	assert.True(t, ok, "exp claim 格式錯誤")
	assert.Greater(t, int64(exp), time.Now().Unix(), "過期時間應該在未來")
}

func TestGetUserIDFromToken(t *testing.T) {
	tokenString, err := GenerateJWT("user-1", "alice", "secret")
	require.NoError(t, err)

	userID, err := GetUserIDFromToken(tokenString, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = GetUserIDFromToken(tokenString, "wrong-secret")
	assert.Error(t, err, "密鑰錯誤時應該驗證失敗")

	_, err = GetUserIDFromToken("not-a-token", "secret")
	assert.Error(t, err)
}

func TestGetUserIDFromToken_Expired(t *testing.T) {
	claims := jwt.MapClaims{
		"userId": "user-1",
		"exp":    time.Now().Add(-time.Minute).Unix(),
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = GetUserIDFromToken(tokenString, "secret")
	assert.Error(t, err, "過期的 token 應該被拒絕")
}

func TestGetUserIDFromToken_MissingClaim(t *testing.T) {
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = GetUserIDFromToken(tokenString, "secret")
	assert.Error(t, err)
}

func TestUserIDContext(t *testing.T) {
	_, err := GetUserIDFromContext(context.Background())
	assert.Error(t, err)

	userID, err := GetUserIDFromContext(WithUserID(context.Background(), "user-1"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}
