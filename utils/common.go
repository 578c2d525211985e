package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// TxKey 事务在 gin 上下文中的键
const TxKey = "tx"

// ErrNoDatabase 既没有请求事务也没有初始化全局数据库
var ErrNoDatabase = errors.New("no database bound to request")

var timeType = reflect.TypeOf(time.Time{})

// GetDbByCtx 获取当前请求的事务，没有事务时退回到全局数据库实例
func GetDbByCtx(c *gin.Context) (*gorm.DB, error) {
	if tx, exists := c.Get(TxKey); exists {
		if db, ok := tx.(*gorm.DB); ok && db != nil {
			return db.WithContext(c.Request.Context()), nil
		}
	}

	muDB.RLock()
	defer muDB.RUnlock()
	if instanceDB == nil {
		return nil, ErrNoDatabase
	}
	return instanceDB.DB.WithContext(c.Request.Context()), nil
}

// UnbindContext 将请求体解析为对象列表，JSON 可以是单个对象或对象数组
func UnbindContext(c *gin.Context) ([]map[string]interface{}, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	// ReadAll 会消耗请求体，后续处理还可能再读
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	contentType := c.GetHeader("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		return decodeJSONObjects(body)
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"),
		strings.HasPrefix(contentType, "multipart/form-data"):
		return decodeForm(c)
	}
	return nil, fmt.Errorf("unsupported Content-Type: %s", contentType)
}

func decodeJSONObjects(body []byte) ([]map[string]interface{}, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse json body: %w", err)
	}

	switch v := raw.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{v}, nil
	case []interface{}:
		objects := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			object, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("json array contains non-object element")
			}
			objects = append(objects, object)
		}
		return objects, nil
	}
	return nil, fmt.Errorf("unexpected json type: %T", raw)
}

// decodeForm 表单字段只取第一个值，记录字段都是标量
func decodeForm(c *gin.Context) ([]map[string]interface{}, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
			return nil, fmt.Errorf("failed to parse multipart form: %w", err)
		}
	} else if err := c.Request.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}

	object := make(map[string]interface{}, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			object[key] = values[0]
		}
	}
	return []map[string]interface{}{object}, nil
}

// BindContext 将 map[string]interface{} 数据绑定到结构体
// 字段按 json 标签名匹配，没有标签时按小写字段名匹配，匿名嵌入的结构体会展开
func BindContext(data map[string]interface{}, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("invalid target type, expected ptr, got %v", rv.Kind())
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("invalid target type, expected struct, got %v", rv.Kind())
	}
	return bindStruct(data, rv)
}

func bindStruct(data map[string]interface{}, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		jsonName, skip := jsonFieldName(field)
		if skip {
			continue
		}

		// 匿名嵌入且没有 json 名称的结构体，字段平铺在同一层
		if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Tag.Get("json") == "" {
			if err := bindStruct(data, fieldValue); err != nil {
				return err
			}
			continue
		}

		value, exists := data[jsonName]
		if !exists {
			value, exists = data[strings.ToLower(field.Name)]
		}
		if exists && value != nil {
			if err := setValue(fieldValue, value); err != nil {
				return fmt.Errorf("failed to set field %s: %w", field.Name, err)
			}
		}
	}
	return nil
}

// jsonFieldName 获取字段的 json 名称，json:"-" 时返回 skip
func jsonFieldName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		name = Camel2Snake(field.Name)
	}
	return name, false
}

// ModelFields 返回模型的所有字段，匿名嵌入的结构体字段会被展开
func ModelFields(modelType reflect.Type) []reflect.StructField {
	if modelType.Kind() == reflect.Ptr {
		modelType = modelType.Elem()
	}
	var fields []reflect.StructField
	for i := 0; i < modelType.NumField(); i++ {
		field := modelType.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Tag.Get("json") == "" {
			fields = append(fields, ModelFields(field.Type)...)
			continue
		}
		fields = append(fields, field)
	}
	return fields
}

// GetModelInfo 获取模型类型，新的模型指针，表名
func GetModelInfo(model interface{}) (reflect.Type, interface{}, string) {
	modelType := reflect.TypeOf(model)
	if modelType.Kind() == reflect.Ptr {
		modelType = modelType.Elem()
	}
	modelPtr := reflect.New(modelType).Interface()

	if tabler, ok := modelPtr.(interface{ TableName() string }); ok {
		return modelType, modelPtr, tabler.TableName()
	}

	// 按已初始化的数据库命名策略解析，没有数据库实例时按 GORM 默认规则：蛇形复数
	muDB.RLock()
	db := instanceDB
	muDB.RUnlock()
	if db != nil {
		if name, err := db.TableName(modelPtr); err == nil {
			return modelType, modelPtr, name
		}
	}
	return modelType, modelPtr, Camel2Snake(modelType.Name()) + "s"
}

// Camel2Snake 驼峰转蛇形
func Camel2Snake(input string) string {
	var result []rune
	for i, r := range input {
		if unicode.IsUpper(r) && i > 0 {
			result = append(result, '_')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// ExistsIn 测试切片是否包含某个元素
func ExistsIn[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// toInt64 JSON 数字解码为 float64，表单值为字符串
func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return int64(val), true
	case float64:
		if val != float64(int64(val)) {
			return 0, false
		}
		return int64(val), true
	case string:
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toUint64(v interface{}) (uint64, bool) {
	i, ok := toInt64(v)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

// ToTime 将字符串（RFC3339 或 2006-01-02 15:04:05）或毫秒时间戳转换为时间
func ToTime(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as time", val)
	}
	if ms, ok := toInt64(v); ok {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %v to time", v)
}

// setValue 支持记录上出现的字段类型：字符串、整数、时间以及它们的指针
func setValue(field reflect.Value, value interface{}) error {
	if field.Kind() == reflect.Ptr {
		ptr := reflect.New(field.Type().Elem())
		if err := setValue(ptr.Elem(), value); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(fmt.Sprint(value))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, ok := toInt64(value)
		if !ok || field.OverflowInt(v) {
			return fmt.Errorf("cannot convert %v to %s", value, field.Type())
		}
		field.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, ok := toUint64(value)
		if !ok || field.OverflowUint(v) {
			return fmt.Errorf("cannot convert %v to %s", value, field.Type())
		}
		field.SetUint(v)
	case reflect.Struct:
		if field.Type() != timeType {
			return fmt.Errorf("unsupported struct type: %s", field.Type())
		}
		t, err := ToTime(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(t))
	default:
		return fmt.Errorf("unsupported type: %v", field.Kind())
	}
	return nil
}
