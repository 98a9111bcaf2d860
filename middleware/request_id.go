package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderXRequestID = "X-Request-ID"
	// ContextKeyRequestID gin.Context 中保存请求 ID 的键
	ContextKeyRequestID = "request_id"
)

// RequestID 沿用调用方传入的请求 ID，缺失时生成 UUID，并回写到响应头。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header(HeaderXRequestID, requestID)
		c.Next()
	}
}
