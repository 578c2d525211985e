package middlewares

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"minibase/utils"
)

// bufferedWriter 暂存响应，事务提交成功后才写给客户端
type bufferedWriter struct {
	gin.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *bufferedWriter) WriteHeader(code int) {
	if code > 0 {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() {}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	return w.status
}

func (w *bufferedWriter) Size() int {
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return w.body.Len() > 0
}

// flush 把暂存的状态码和内容写到真正的 ResponseWriter
func (w *bufferedWriter) flush() {
	w.ResponseWriter.WriteHeader(w.status)
	w.ResponseWriter.WriteHeaderNow()
	if w.body.Len() > 0 {
		_, _ = w.ResponseWriter.Write(w.body.Bytes())
	}
}

// TransactionMiddleware 自动事务中间件
// 每个请求一个事务，处理函数通过 utils.GetDbByCtx 取得；出错、panic 或响应状态 >= 400 时回滚。
// 响应在提交之后才发出，提交失败时客户端收到 500 而不是处理函数写下的结果
func TransactionMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := utils.GetLogger().Ctx(c.Request.Context())

		tx := db.WithContext(c.Request.Context()).Begin()
		if tx.Error != nil {
			log.Error("failed to begin transaction", zap.Error(tx.Error))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Set(utils.TxKey, tx)

		original := c.Writer
		writer := &bufferedWriter{ResponseWriter: original, status: http.StatusOK}
		c.Writer = writer

		defer func() {
			if r := recover(); r != nil {
				c.Writer = original
				tx.Rollback()
				panic(r)
			}
		}()

		c.Next()
		c.Writer = original

		if len(c.Errors) > 0 || writer.status >= http.StatusBadRequest {
			tx.Rollback()
			writer.flush()
			return
		}
		if err := tx.Commit().Error; err != nil {
			log.Error("failed to commit transaction", zap.Error(err))
			tx.Rollback()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		writer.flush()
	}
}
