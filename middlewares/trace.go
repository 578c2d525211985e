package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"minibase/utils"
)

const (
	// TraceIDKey 链路追踪ID在 gin 上下文中的键
	TraceIDKey = "trace_id"
	// TraceIDHeader 请求/响应头
	TraceIDHeader = "X-Request-ID"
)

// TraceMiddleware 沿用请求头中的追踪ID，没有时生成一个新的
// 追踪ID同时写入请求上下文，之后开启的事务和 SQL 日志都会带上它
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Request = c.Request.WithContext(utils.ContextWithTraceID(c.Request.Context(), traceID))
		c.Header(TraceIDHeader, traceID)
		c.Next()
	}
}
