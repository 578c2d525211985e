package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minibase/middlewares"
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

	dir, err := os.MkdirTemp("", "minibase-controllers")
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

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type testServer struct {
	router *gin.Engine
	clock  *fakeClock
	db     *utils.Database
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	config := utils.NewDBConfig()
	config.Type = utils.SQLite
	config.LogLevel = "silent"
	config.SQLite.File = filepath.Join(t.TempDir(), "test.db")

	db, err := utils.OpenDB(config, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = utils.Migrate(db, models.All()...)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	db.DB.NowFunc = clock.Now

	r := gin.New()
	r.Use(middlewares.TraceMiddleware(), middlewares.TransactionMiddleware(db.DB))
	RegisterGenericRoutes(r, "members", models.Member{})
	RegisterGenericRoutes(r, "teams", models.Team{})

	return &testServer{router: r, clock: clock, db: db}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeMember(t *testing.T, w *httptest.ResponseRecorder) models.Member {
	t.Helper()
	var member models.Member
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &member))
	return member
}

func assertSameInstant(t *testing.T, want, got time.Time, field string) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "%s: want %s, got %s", field, want, got)
}

func TestGeneric_TimestampLifecycle(t *testing.T) {
	s := newTestServer(t)
	t1 := s.clock.now

	w := s.do(t, http.MethodPost, "/members", `{"username":"member1","age":10}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeMember(t, w)
	assert.NotZero(t, created.ID)
	assertSameInstant(t, t1, created.CreatedAt, "created_at")
	assertSameInstant(t, t1, created.UpdatedAt, "updated_at")

	path := "/members/" + strconvID(created.ID)

	// 更新字段时刷新 updated_at
	t2 := t1.Add(time.Hour)
	s.clock.now = t2
	w = s.do(t, http.MethodPut, path, `{"age":11}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeMember(t, w)
	assert.Equal(t, 11, updated.Age)
	assertSameInstant(t, t1, updated.CreatedAt, "created_at")
	assertSameInstant(t, t2, updated.UpdatedAt, "updated_at")

	// 时间戳不能由客户端更新
	w = s.do(t, http.MethodPut, path, `{"created_at":"1999-01-01T00:00:00Z","updated_at":"1999-01-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// touch 只刷新 updated_at
	t3 := t2.Add(time.Hour)
	s.clock.now = t3
	w = s.do(t, http.MethodPost, path+"/touch", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	touched := decodeMember(t, w)
	assert.Equal(t, 11, touched.Age)
	assertSameInstant(t, t1, touched.CreatedAt, "created_at")
	assertSameInstant(t, t3, touched.UpdatedAt, "updated_at")

	w = s.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	loaded := decodeMember(t, w)
	assertSameInstant(t, t1, loaded.CreatedAt, "created_at")
	assertSameInstant(t, t3, loaded.UpdatedAt, "updated_at")
}

func TestGeneric_CreateIgnoresClientTimestamps(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/members",
		`{"id":42,"username":"member1","age":10,"created_at":"1999-01-01T00:00:00Z","updated_at":"1999-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeMember(t, w)
	assert.NotEqual(t, uint(42), created.ID)
	assertSameInstant(t, s.clock.now, created.CreatedAt, "created_at")
	assertSameInstant(t, s.clock.now, created.UpdatedAt, "updated_at")
}

func TestGeneric_BatchCreateAndList(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/members", `[{"username":"a","age":1},{"username":"b","age":2}]`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var batch []models.Member
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
	require.Len(t, batch, 2)

	// 稍后更新第一条，按 updated_at 倒序时排在最前
	s.clock.now = s.clock.now.Add(time.Minute)
	w = s.do(t, http.MethodPost, "/members/"+strconvID(batch[0].ID)+"/touch", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/members?order=-updated_at", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Total int64           `json:"total"`
		Page  int             `json:"page"`
		Data  []models.Member `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, int64(2), list.Total)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "a", list.Data[0].Username)

	w = s.do(t, http.MethodGet, "/members?order=updated_at&age=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "b", list.Data[0].Username)
}

func TestGeneric_BatchUpdate(t *testing.T) {
	s := newTestServer(t)
	t1 := s.clock.now

	w := s.do(t, http.MethodPost, "/members", `[{"username":"a","age":1},{"username":"b","age":2}]`)
	require.Equal(t, http.StatusCreated, w.Code)
	var batch []models.Member
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))

	t2 := t1.Add(time.Hour)
	s.clock.now = t2
	body := `{"objs":[{"id":` + strconvID(batch[0].ID) + `,"age":5,"created_at":"1999-01-01T00:00:00Z"}]}`
	w = s.do(t, http.MethodPut, "/members", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/members/"+strconvID(batch[0].ID), "")
	first := decodeMember(t, w)
	assert.Equal(t, 5, first.Age)
	assertSameInstant(t, t1, first.CreatedAt, "created_at")
	assertSameInstant(t, t2, first.UpdatedAt, "updated_at")

	w = s.do(t, http.MethodGet, "/members/"+strconvID(batch[1].ID), "")
	second := decodeMember(t, w)
	assertSameInstant(t, t1, second.UpdatedAt, "updated_at")

	w = s.do(t, http.MethodPut, "/members", `{"objs":[{"age":5}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 不存在的记录返回 404，同一批里已执行的更新一起回滚
	s.clock.now = t2.Add(time.Hour)
	body = `{"objs":[{"id":` + strconvID(batch[1].ID) + `,"age":9},{"id":999,"age":9}]}`
	w = s.do(t, http.MethodPut, "/members", body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/members/"+strconvID(batch[1].ID), "")
	second = decodeMember(t, w)
	assert.Equal(t, 2, second.Age)
	assertSameInstant(t, t1, second.UpdatedAt, "updated_at")
}

func TestGeneric_UpdateClockStepBack(t *testing.T) {
	s := newTestServer(t)
	t1 := s.clock.now

	w := s.do(t, http.MethodPost, "/members", `{"username":"member1","age":10}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeMember(t, w)

	s.clock.now = t1.Add(-time.Hour)
	w = s.do(t, http.MethodPut, "/members/"+strconvID(created.ID), `{"age":11}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeMember(t, w)
	assert.Equal(t, 11, updated.Age)
	assertSameInstant(t, t1, updated.CreatedAt, "created_at")
	assertSameInstant(t, t1, updated.UpdatedAt, "updated_at")
}

func TestGeneric_NoDatabase(t *testing.T) {
	r := gin.New()
	RegisterGenericRoutes(r, "members", models.Member{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/members", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/members/1", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGeneric_NotFound(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/members/99", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/members/99", `{"age":1}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/members/99/touch", "").Code)
}

func TestGeneric_Delete(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/teams", `[{"name":"a"},{"name":"b"},{"name":"c"}]`)
	require.Equal(t, http.StatusCreated, w.Code)
	var teams []models.Team
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &teams))
	require.Len(t, teams, 3)

	w = s.do(t, http.MethodDelete, "/teams/"+strconvID(teams[0].ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/teams/"+strconvID(teams[0].ID), "").Code)

	w = s.do(t, http.MethodDelete, "/teams?ids="+strconvID(teams[1].ID)+","+strconvID(teams[2].ID), "")
	require.Equal(t, http.StatusOK, w.Code)

	count, ok := utils.GetCounter(s.db.DB, "teams")
	require.True(t, ok)
	assert.Equal(t, int64(0), count)

	// 没有 ids 时拒绝
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, "/teams", "").Code)
}

func TestGeneric_RejectedCreateRollsBack(t *testing.T) {
	s := newTestServer(t)

	// 第二条用户名重复，整个请求回滚
	w := s.do(t, http.MethodPost, "/members", `[{"username":"dup","age":1},{"username":"dup","age":2}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/members", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, int64(0), list.Total)
}

func TestParseModelTags(t *testing.T) {
	modelType, modelPtr, _ := utils.GetModelInfo(models.Member{})
	tags := parseModelTags(modelType, modelPtr)

	assert.Equal(t, []string{"username", "age", "team_id"}, tags.query)
	assert.Equal(t, []string{"username", "age", "team_id"}, tags.update)
	assert.Equal(t, []string{"id", "created_at", "updated_at", "username", "age"}, tags.order)
}

func strconvID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
