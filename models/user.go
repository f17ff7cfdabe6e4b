package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RegisterRequest 結構體用於處理註冊請求
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ErrorResponse 結構體用於返回 JSON 格式的錯誤訊息
type ErrorResponse struct {
	Message string `json:"message"`
}

// User 結構體定義了使用者資料的欄位
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"` // MongoDB 的唯一 ID
	Email    string             `bson:"email" json:"email"`                // 使用者 Email（唯一索引）
	Username string             `bson:"username" json:"username"`          // 使用者名稱（唯一索引）
	Password string             `bson:"password" json:"-"`                 // 儲存哈希後的密碼，JSON 輸出時忽略
}

// Profile 是聊天核心看到的唯讀使用者資料
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Profile 將使用者轉成聊天核心使用的唯讀資料
func (u User) Profile() Profile {
	return Profile{ID: u.ID.Hex(), DisplayName: u.Username, Email: u.Email}
}
