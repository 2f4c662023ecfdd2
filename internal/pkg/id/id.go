package id

import (
	"github.com/google/uuid"
)

// New 生成新的 UUID（string 格式）
func New() string {
	return uuid.New().String()
}

// NewTimeOrdered 生成按时间递增的 UUIDv7，用于消息ID
func NewTimeOrdered() string {
	u, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return u.String()
}
