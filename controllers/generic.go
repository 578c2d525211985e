package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"minibase/models"
	"minibase/utils"
)

// MaxPageSize 列表接口单页最大条数
const MaxPageSize = 10000

var columnTagPattern = regexp.MustCompile(`column:(\w+)`)

// 客户端不能写入的字段，时间戳只由模型钩子维护
var readOnlyFields = []string{"id", models.ColumnCreatedAt, models.ColumnUpdatedAt}

// 通用路由注册函数
func RegisterGenericRoutes(r gin.IRouter, resourceName string, model interface{}) {
	// 创建路由组
	group := r.Group(resourceName)

	// 列表查询
	group.GET("", func(c *gin.Context) {
		genericList(c, model)
	})

	// 创建资源
	group.POST("", func(c *gin.Context) {
		genericCreate(c, model)
	})

	// 批量删除
	group.DELETE("", func(c *gin.Context) {
		genericBatchDelete(c, model)
	})

	// 批量更新
	group.PUT("", func(c *gin.Context) {
		genericUpdate(c, model)
	})

	// 获取单个资源
	group.GET("/:id", func(c *gin.Context) {
		genericRetrieve(c, model)
	})

	// 删除单个资源
	group.DELETE("/:id", func(c *gin.Context) {
		genericDelete(c, model)
	})

	// 更新单个资源
	group.PUT("/:id", func(c *gin.Context) {
		genericUpdate(c, model)
	})

	// 仅刷新更新时间
	group.POST("/:id/touch", func(c *gin.Context) {
		genericTouch(c, model)
	})
}

// modelTags ctags 解析结果
type modelTags struct {
	query  []string
	update []string
	order  []string
}

// parseModelTags 使用反射检查字段标签，获取允许查询、更新、排序的字段列表
func parseModelTags(modelType reflect.Type, modelPtr interface{}) modelTags {
	tags := modelTags{order: []string{"id"}}
	if models.IsTimestamped(modelPtr) {
		tags.order = append(tags.order, models.ColumnCreatedAt, models.ColumnUpdatedAt)
	}

	for _, field := range utils.ModelFields(modelType) {
		tag := field.Tag.Get("ctags")
		if tag == "" {
			continue
		}
		parts := strings.Split(tag, ",")
		fieldName, fieldTags := parts[0], parts[1:]
		if fieldName == "" {
			continue
		}
		if utils.ExistsIn(fieldTags, "q") {
			tags.query = append(tags.query, fieldName)
		}
		if utils.ExistsIn(fieldTags, "u") && !utils.ExistsIn(readOnlyFields, fieldName) {
			tags.update = append(tags.update, fieldName)
		}
		if utils.ExistsIn(fieldTags, "o") {
			tags.order = append(tags.order, fieldName)
		}
	}
	return tags
}

// traceLogger 带链路追踪ID的日志
func traceLogger(c *gin.Context) *zap.Logger {
	return utils.GetLogger().Ctx(c.Request.Context())
}

// requestDB 取当前请求的事务，没有可用数据库时直接返回 500
func requestDB(c *gin.Context) (*gorm.DB, bool) {
	db, err := utils.GetDbByCtx(c)
	if err != nil {
		traceLogger(c).Error("no database for request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}
	return db, true
}

// abortBadRequest 记录错误并返回 400，err 会挂到 gin 上下文上触发事务回滚
func abortBadRequest(c *gin.Context, msg string, err error) {
	if err == nil {
		err = errors.New(msg)
	}
	traceLogger(c).Error(msg, zap.Error(err))
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
}

// 通用列表查询
func genericList(c *gin.Context, model interface{}) {
	// 获取数据库实例（自动绑定到事务中）
	db, ok := requestDB(c)
	if !ok {
		return
	}

	// 分页参数
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	page = max(page, 1)
	pageSize = min(max(pageSize, 1), MaxPageSize)
	offset := (page - 1) * pageSize

	// 获取模型反射类型和指针
	modelType, modelPtr, tableName := utils.GetModelInfo(model)
	tags := parseModelTags(modelType, modelPtr)

	// 创建反射切片
	sliceType := reflect.SliceOf(modelType)
	results := reflect.New(sliceType).Elem()

	// 构建查询
	query := db.Model(modelPtr)

	// 是否使用计数器
	useCounter := true

	// 处理搜索参数
	if searchParam := c.DefaultQuery("search", ""); searchParam != "" {
		var orConditions []string
		var args []interface{}

		// 只处理字符串类型的字段
		for _, field := range utils.ModelFields(modelType) {
			if field.Type.Kind() != reflect.String {
				continue
			}
			// 如果没有设置 gorm:"column:<column_name>" 标签，Gorm 默认会将字段名称小写，并且采用下划线风格
			columnName := field.Name
			if match := columnTagPattern.FindStringSubmatch(field.Tag.Get("gorm")); len(match) > 1 {
				columnName = match[1]
			}
			columnName = utils.Camel2Snake(columnName)

			orConditions = append(orConditions, fmt.Sprintf("%s LIKE ?", columnName))
			// TODO: 避免左通配符使用,如果确实需要完整的全文搜索考虑es或者根据实际使用数据库设置全文索引
			args = append(args, "%"+searchParam+"%")
		}

		if len(orConditions) > 0 {
			query = query.Where(strings.Join(orConditions, " OR "), args...)
			useCounter = false
		}
	}

	// 处理其他查询参数
	for key, values := range c.Request.URL.Query() {
		if key == "page" || key == "page_size" || key == "order" || key == "search" {
			continue
		}

		// 处理模糊查询和精确查询
		field := strings.TrimSuffix(key, "_contains")
		if !utils.ExistsIn(tags.query, field) {
			continue
		}
		if field != key {
			query = query.Where(fmt.Sprintf("%s LIKE ?", field), "%"+values[0]+"%")
		} else {
			query = query.Where(fmt.Sprintf("%s = ?", field), values[0])
		}
		useCounter = false
	}

	// 处理排序参数，- 前缀为降序
	orderParam := c.DefaultQuery("order", "-id")
	orderField := strings.TrimPrefix(orderParam, "-")
	if utils.ExistsIn(tags.order, orderField) {
		orderType := "ASC"
		if strings.HasPrefix(orderParam, "-") {
			orderType = "DESC"
		}
		query = query.Order(fmt.Sprintf("%s %s", orderField, orderType))
	}

	// 大表统计直接从计数器表查询，如果查询失败则重新查询总数
	var total int64
	counted := false
	if useCounter {
		total, counted = utils.GetCounter(db, tableName)
	}
	if !counted {
		if err := query.Count(&total).Error; err != nil {
			traceLogger(c).Error("failed to count records", zap.Error(err))
		}
	}

	// 执行分页查询
	if err := query.Offset(offset).Limit(pageSize).Find(results.Addr().Interface()).Error; err != nil {
		traceLogger(c).Error("failed to query records", zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"data":      results.Interface(),
	})
}

// 通用资源创建，请求体可以是单个对象或对象数组
func genericCreate(c *gin.Context, model interface{}) {
	// 获取数据库实例（自动绑定到事务中）
	db, ok := requestDB(c)
	if !ok {
		return
	}

	// 解析请求数据
	contexts, err := utils.UnbindContext(c)
	if err != nil {
		abortBadRequest(c, "failed to parse context", err)
		return
	}
	if len(contexts) == 0 {
		abortBadRequest(c, "empty request body", nil)
		return
	}

	created := make([]interface{}, 0, len(contexts))
	for _, data := range contexts {
		// 每条记录使用新的指针
		_, modelPtr, _ := utils.GetModelInfo(model)

		for _, key := range readOnlyFields {
			delete(data, key)
		}

		// 将请求数据绑定到模型指针
		if err := utils.BindContext(data, modelPtr); err != nil {
			abortBadRequest(c, "failed to parse context", err)
			return
		}

		// 创建记录，BeforeCreate 钩子写入时间戳
		if err := db.Create(modelPtr).Error; err != nil {
			abortBadRequest(c, "failed to create record", err)
			return
		}
		created = append(created, modelPtr)
	}

	if len(created) == 1 {
		c.JSON(http.StatusCreated, created[0])
		return
	}
	c.JSON(http.StatusCreated, created)
}

// parseIDs 从 JSON、查询参数或表单中读取 ids
func parseIDs(c *gin.Context) ([]int, error) {
	var ids []int

	// 解析 json 格式，形如 {"ids":[1, 2, 3, 4, 5, 6]}
	if c.ContentType() == "application/json" {
		var body struct {
			IDs []int `json:"ids"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			return nil, err
		}
		return body.IDs, nil
	}

	// 获取查询参数，形如 ?ids=1,2,3,4,5,6
	if idParams := c.Query("ids"); idParams != "" {
		for _, idStr := range strings.Split(idParams, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(idStr))
			if err != nil {
				return nil, fmt.Errorf("failed to convert string to int: %w", err)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	// 解析 form 格式，形如 ids=[1,2,3,4,5,6]
	// gin默认不解析delete请求体，需要手动解析请求体中的表单数据
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	if idStrings := values.Get("ids"); idStrings != "" {
		if err := json.Unmarshal([]byte(idStrings), &ids); err != nil {
			return nil, fmt.Errorf("invalid ids format: %w", err)
		}
	}
	return ids, nil
}

// 通用批量删除
func genericBatchDelete(c *gin.Context, model interface{}) {
	// 获取数据库实例（自动绑定到事务中）
	db, ok := requestDB(c)
	if !ok {
		return
	}

	ids, err := parseIDs(c)
	if err != nil {
		abortBadRequest(c, "failed to parse ids", err)
		return
	}
	if len(ids) == 0 {
		abortBadRequest(c, "ids is empty", nil)
		return
	}

	// 获取模型指针
	_, modelPtr, _ := utils.GetModelInfo(model)

	// 批量删除
	result := db.Delete(modelPtr, ids)
	if result.Error != nil {
		abortBadRequest(c, "failed to delete records", result.Error)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("deleted %d", result.RowsAffected)})
}

// 通用单个资源获取
func genericRetrieve(c *gin.Context, model interface{}) {
	// 获取数据库实例（自动绑定到事务中）
	db, ok := requestDB(c)
	if !ok {
		return
	}

	// 获取模型类型和指针
	_, modelPtr, _ := utils.GetModelInfo(model)

	result := db.First(modelPtr, c.Param("id"))
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if result.Error != nil {
		traceLogger(c).Error("failed to query record", zap.Error(result.Error))
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	c.JSON(http.StatusOK, modelPtr)
}

// 通用单个资源删除
func genericDelete(c *gin.Context, model interface{}) {
	// 获取数据库实例（自动绑定到事务中）
	db, ok := requestDB(c)
	if !ok {
		return
	}

	// 获取模型类型和指针
	_, modelPtr, _ := utils.GetModelInfo(model)

	result := db.Delete(modelPtr, c.Param("id"))
	if result.Error != nil {
		abortBadRequest(c, "failed to delete record", result.Error)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("deleted %d", result.RowsAffected)})
}

// filterUpdates 仅保留允许更新的字段
func filterUpdates(obj map[string]interface{}, allowed []string) map[string]interface{} {
	filtered := make(map[string]interface{})
	for key, value := range obj {
		if utils.ExistsIn(allowed, key) {
			filtered[key] = value
		}
	}
	return filtered
}

// parseBatchObjects 解析批量更新请求体
func parseBatchObjects(c *gin.Context) ([]map[string]interface{}, error) {
	var objs []map[string]interface{}

	// 解析 json 格式，形如 {"objs":[{},{}]}
	if c.ContentType() == "application/json" {
		var requestBody struct {
			Objs []map[string]interface{} `json:"objs"`
		}
		if err := c.ShouldBindJSON(&requestBody); err != nil {
			return nil, err
		}
		return requestBody.Objs, nil
	}

	// 解析 form 格式，形如 objs=[{},{}]
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	if err := json.Unmarshal([]byte(values.Get("objs")), &objs); err != nil {
		return nil, fmt.Errorf("invalid objs format: %w", err)
	}
	return objs, nil
}

// 通用资源更新，BeforeUpdate 钩子刷新 updated_at，created_at 不可更新
func genericUpdate(c *gin.Context, model interface{}) {
	// 获取数据库实例（自动绑定到事务中）
	db, ok := requestDB(c)
	if !ok {
		return
	}

	// 获取模型反射类型和指针
	modelType, modelPtr, _ := utils.GetModelInfo(model)
	tags := parseModelTags(modelType, modelPtr)

	// 判断URL路径中是否包含ID，来区分是批量更新还是单一更新
	id := c.Param("id")
	if id == "" {
		objs, err := parseBatchObjects(c)
		if err != nil {
			abortBadRequest(c, "failed to parse objs", err)
			return
		}
		if len(objs) == 0 {
			abortBadRequest(c, "objs is empty", nil)
			return
		}

		// 执行批量更新
		for _, obj := range objs {
			objID, exists := obj["id"]
			if !exists {
				abortBadRequest(c, "missing 'id' in object list", nil)
				return
			}

			filteredUpdates := filterUpdates(obj, tags.update)
			if len(filteredUpdates) == 0 {
				abortBadRequest(c, "no available fields to update", nil)
				return
			}

			_, target, _ := utils.GetModelInfo(model)
			result := db.Model(target).Where("id = ?", objID).Updates(filteredUpdates)
			if result.Error != nil {
				abortBadRequest(c, "failed to update record", result.Error)
				return
			}
			// 任意一条不存在时整批回滚
			if result.RowsAffected == 0 {
				c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("not found: %v", objID)})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"message": "batch update successful"})
		return
	}

	// 处理单一更新
	contexts, err := utils.UnbindContext(c)
	if err != nil {
		abortBadRequest(c, "failed to parse context", err)
		return
	}
	if len(contexts) != 1 {
		abortBadRequest(c, "invalid request body", nil)
		return
	}

	filteredUpdates := filterUpdates(contexts[0], tags.update)
	if len(filteredUpdates) == 0 {
		abortBadRequest(c, "no available fields to update", nil)
		return
	}

	// 执行单一更新
	result := db.Model(modelPtr).Where("id = ?", id).Updates(filteredUpdates)
	if result.Error != nil {
		abortBadRequest(c, "failed to update record", result.Error)
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	// 返回更新后的记录
	_, updated, _ := utils.GetModelInfo(model)
	if err := db.First(updated, id).Error; err != nil {
		traceLogger(c).Error("failed to reload record", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"message": "single update successful"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// 通用刷新更新时间，记录内容不变
func genericTouch(c *gin.Context, model interface{}) {
	// 获取数据库实例（自动绑定到事务中）
	db, ok := requestDB(c)
	if !ok {
		return
	}

	_, modelPtr, _ := utils.GetModelInfo(model)
	if !models.IsTimestamped(modelPtr) {
		abortBadRequest(c, "model has no timestamps", nil)
		return
	}

	result := db.First(modelPtr, c.Param("id"))
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if result.Error != nil {
		traceLogger(c).Error("failed to query record", zap.Error(result.Error))
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	// Save 走更新流程，created_at 为只写一次的列，不会被写回
	if err := db.Save(modelPtr).Error; err != nil {
		abortBadRequest(c, "failed to touch record", err)
		return
	}

	c.JSON(http.StatusOK, modelPtr)
}
