// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"time"

	"binsim-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestLogger 是一个 Gin 中间件，用于记录请求级别的结构化日志。
// 请求体多为二进制上传，因此只记录元数据，不记录内容。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		requestID := uuid.NewString()
		c.Set("requestID", requestID)

		c.Next()

		log.Infow("HTTP Request",
			"requestID", requestID,
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"contentLength", c.Request.ContentLength,
		)
	}
}
