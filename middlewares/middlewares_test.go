package middlewares

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"minibase/models"
	"minibase/utils"
)

const testLoggerYAML = `
logger:
  level: "error"
  directory: ""
  console: false
`

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	dir, err := os.MkdirTemp("", "minibase-middlewares")
	if err != nil {
		panic(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testLoggerYAML), 0o644); err != nil {
		panic(err)
	}
	utils.GetLogger(path)

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Team{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func countTeams(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.Team{}).Count(&count).Error)
	return count
}

func TestTraceMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(TraceMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		// 请求上下文与 gin 上下文中的追踪ID一致
		if utils.TraceIDFromContext(c.Request.Context()) != c.GetString(TraceIDKey) {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, c.GetString(TraceIDKey))
	})

	// 沿用请求头中的追踪ID
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(TraceIDHeader, "abc-123")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(TraceIDHeader))
	assert.Equal(t, "abc-123", w.Body.String())

	// 没有时生成新的
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	generated := w.Header().Get(TraceIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())
}

func TestTransactionMiddleware(t *testing.T) {
	db := openTestDB(t)

	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), TransactionMiddleware(db))
	r.POST("/teams/:name", func(c *gin.Context) {
		tx, err := utils.GetDbByCtx(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := tx.Create(&models.Team{Name: c.Param("name")}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		switch c.Query("result") {
		case "fail":
			c.JSON(http.StatusBadRequest, gin.H{"error": "rejected"})
		case "error":
			_ = c.Error(assert.AnError)
			c.JSON(http.StatusOK, gin.H{"message": "ok"})
		case "panic":
			panic("boom")
		case "commit-early":
			// 提前提交，中间件的提交会失败
			_ = tx.Commit().Error
			c.JSON(http.StatusCreated, gin.H{"message": "ok"})
		default:
			c.JSON(http.StatusCreated, gin.H{"message": "ok"})
		}
	})

	tests := []struct {
		name   string
		query  string
		status int
		want   int64
	}{
		{"commit", "", http.StatusCreated, 1},
		{"rollback on status", "?result=fail", http.StatusBadRequest, 1},
		{"rollback on gin error", "?result=error", http.StatusOK, 1},
		{"rollback on panic", "?result=panic", http.StatusInternalServerError, 1},
		{"commit failure", "?result=commit-early", http.StatusInternalServerError, 2},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/teams/team"+strconv.Itoa(i)+tt.query, nil))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.want, countTeams(t, db))
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), `"ok"`)
			}
		})
	}
}
