package utils

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/swaggo/swag"
)

// SwaggerInfo 存储 Swagger 文档的基本信息
type SwaggerInfo struct {
	Title       string
	Description string
	Version     string
	BasePath    string
}

// GenericSwaggerGenerator 用于生成通用 API 的 Swagger 文档
type GenericSwaggerGenerator struct {
	info      SwaggerInfo
	resources []swaggerResource
}

type swaggerResource struct {
	name      string
	modelType reflect.Type
}

// object 文档中的 JSON 对象
type object = map[string]interface{}

// NewSwaggerGenerator 创建一个新的 Swagger 生成器实例
func NewSwaggerGenerator(info SwaggerInfo) *GenericSwaggerGenerator {
	return &GenericSwaggerGenerator{
		info: info,
	}
}

// AddResource 添加一个资源，resourceName 与 RegisterGenericRoutes 使用的路由名一致
func (g *GenericSwaggerGenerator) AddResource(resourceName string, model interface{}) *GenericSwaggerGenerator {
	modelType := reflect.TypeOf(model)
	if modelType.Kind() == reflect.Ptr {
		modelType = modelType.Elem()
	}
	g.resources = append(g.resources, swaggerResource{name: resourceName, modelType: modelType})
	return g
}

// Doc 生成 swagger 2.0 JSON 文档
func (g *GenericSwaggerGenerator) Doc() (string, error) {
	paths := object{}
	definitions := object{}

	for _, res := range g.resources {
		modelName := res.modelType.Name()
		for path, item := range g.resourcePaths(res.name, modelName) {
			paths[path] = item
		}
		definitions[modelName] = object{
			"type":       "object",
			"properties": g.modelProperties(res.modelType),
		}
		definitions[modelName+"Update"] = object{
			"type":        "object",
			"description": "Fields that can be updated",
			"properties":  g.updateProperties(res.modelType, false),
		}
		definitions[modelName+"BatchUpdate"] = object{
			"type":        "object",
			"description": "Fields that can be updated",
			"properties":  g.updateProperties(res.modelType, true),
		}
	}

	doc := object{
		"swagger": "2.0",
		"info": object{
			"title":       g.info.Title,
			"description": g.info.Description,
			"version":     g.info.Version,
		},
		"basePath":    g.info.BasePath,
		"schemes":     []string{"http", "https"},
		"consumes":    []string{"application/json", "application/x-www-form-urlencoded"},
		"produces":    []string{"application/json"},
		"paths":       paths,
		"definitions": definitions,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal swagger doc: %w", err)
	}
	return string(data), nil
}

// Register 生成文档并注册到 swag
func (g *GenericSwaggerGenerator) Register() error {
	doc, err := g.Doc()
	if err != nil {
		return err
	}
	swag.Register(swag.Name, &swag.Spec{
		InfoInstanceName: swag.Name,
		Title:            g.info.Title,
		Description:      g.info.Description,
		Version:          g.info.Version,
		BasePath:         g.info.BasePath,
		SwaggerTemplate:  doc,
	})
	return nil
}

// modelProperties 生成模型的属性定义，时间戳字段为只读
func (g *GenericSwaggerGenerator) modelProperties(modelType reflect.Type) object {
	properties := object{}
	for _, field := range ModelFields(modelType) {
		name, skip := jsonFieldName(field)
		if skip {
			continue
		}
		property := g.schemaOf(field.Type)
		description := field.Tag.Get("description")
		if description == "" {
			description = name
		}
		property["description"] = description
		if name == "id" || field.Type == timeType {
			property["readOnly"] = true
		}
		properties[name] = property
	}
	return properties
}

// updateProperties 生成可更新字段的 Schema，批量更新额外需要 id
func (g *GenericSwaggerGenerator) updateProperties(modelType reflect.Type, withID bool) object {
	properties := object{}
	if withID {
		properties["id"] = object{"type": "integer", "description": "Resource ID"}
	}

	for _, field := range ModelFields(modelType) {
		tag := field.Tag.Get("ctags")
		if tag == "" {
			continue
		}
		parts := strings.Split(tag, ",")
		fieldName, fieldTags := parts[0], parts[1:]
		if fieldName == "" || !ExistsIn(fieldTags, "u") {
			continue
		}
		property := g.schemaOf(field.Type)
		description := field.Tag.Get("description")
		if description == "" {
			description = fieldName
		}
		property["description"] = description
		properties[fieldName] = property
	}
	return properties
}

// schemaOf 将 Go 类型转换为 Swagger 类型
func (g *GenericSwaggerGenerator) schemaOf(t reflect.Type) object {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == timeType {
		return object{"type": "string", "format": "date-time"}
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return object{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return object{"type": "number"}
	case reflect.Bool:
		return object{"type": "boolean"}
	case reflect.String:
		return object{"type": "string"}
	case reflect.Slice, reflect.Array:
		return object{"type": "array", "items": g.schemaOf(t.Elem())}
	default:
		return object{"type": "object"}
	}
}

func ref(name string) object {
	return object{"$ref": "#/definitions/" + name}
}

func messageResponse(description string) object {
	return object{
		"description": description,
		"schema": object{
			"type":       "object",
			"properties": object{"message": object{"type": "string"}},
		},
	}
}

func idParameter(modelName string) object {
	return object{
		"in":          "path",
		"name":        "id",
		"required":    true,
		"type":        "integer",
		"description": "ID of the " + modelName,
	}
}

// resourcePaths 生成单个资源的路由定义
func (g *GenericSwaggerGenerator) resourcePaths(resourceName, modelName string) object {
	collection := object{
		"get": object{
			"summary":     "List " + modelName,
			"description": "Get a paginated list of " + modelName,
			"parameters": []object{
				{"in": "query", "name": "page", "type": "integer", "description": "Page number", "default": 1},
				{"in": "query", "name": "page_size", "type": "integer", "description": "Number of items per page", "default": 10},
				{"in": "query", "name": "search", "type": "string", "description": "Search term"},
				{"in": "query", "name": "order", "type": "string", "description": "Order by field (prefix with - for desc), created_at/updated_at included"},
			},
			"responses": object{
				"200": object{
					"description": "Successful operation",
					"schema": object{
						"type": "object",
						"properties": object{
							"total":     object{"type": "integer"},
							"page":      object{"type": "integer"},
							"page_size": object{"type": "integer"},
							"data":      object{"type": "array", "items": ref(modelName)},
						},
					},
				},
			},
		},
		"post": object{
			"summary":     "Batch Create " + modelName,
			"description": "Create new " + modelName + " (single or batch), created_at and updated_at are set by the server",
			"parameters": []object{
				{"in": "body", "name": "body", "required": true, "schema": object{"type": "array", "items": ref(modelName + "Update")}},
			},
			"responses": object{
				"201": object{"description": "Successfully created", "schema": ref(modelName)},
			},
		},
		"delete": object{
			"summary":     "Batch Delete " + modelName,
			"description": "Delete multiple " + modelName + " by IDs",
			"parameters": []object{
				{"in": "query", "name": "ids", "type": "string", "description": "Comma separated IDs (e.g. 1,2,3)"},
			},
			"responses": object{"200": messageResponse("Successfully deleted")},
		},
		"put": object{
			"summary":     "Batch Update " + modelName,
			"description": "Update multiple " + modelName,
			"parameters": []object{
				{"in": "body", "name": "body", "required": true, "schema": object{
					"type":       "object",
					"properties": object{"objs": object{"type": "array", "items": ref(modelName + "BatchUpdate")}},
				}},
			},
			"responses": object{"200": messageResponse("Successfully updated")},
		},
	}

	single := object{
		"get": object{
			"summary":     "Get " + modelName,
			"description": "Get a single " + modelName + " by ID",
			"parameters":  []object{idParameter(modelName)},
			"responses": object{
				"200": object{"description": "Successful operation", "schema": ref(modelName)},
				"404": object{"description": "Not found"},
			},
		},
		"put": object{
			"summary":     "Update " + modelName,
			"description": "Update an existing " + modelName + ", updated_at is refreshed",
			"parameters": []object{
				idParameter(modelName),
				{"in": "body", "name": "body", "required": true, "schema": ref(modelName + "Update")},
			},
			"responses": object{
				"200": object{"description": "Successfully updated", "schema": ref(modelName)},
				"404": object{"description": "Not found"},
			},
		},
		"delete": object{
			"summary":     "Delete " + modelName,
			"description": "Delete a " + modelName + " by ID",
			"parameters":  []object{idParameter(modelName)},
			"responses":   object{"200": messageResponse("Successfully deleted")},
		},
	}

	touch := object{
		"post": object{
			"summary":     "Touch " + modelName,
			"description": "Refresh updated_at of a " + modelName + " without changing other fields",
			"parameters":  []object{idParameter(modelName)},
			"responses": object{
				"200": object{"description": "Successfully touched", "schema": ref(modelName)},
				"404": object{"description": "Not found"},
			},
		},
	}

	base := "/" + strings.Trim(resourceName, "/")
	paths := object{}
	paths[base] = collection
	paths[base+"/{id}"] = single
	paths[base+"/{id}/touch"] = touch
	return paths
}

// RegisterSwaggerRoute 注册 Swagger UI 路由
func (g *GenericSwaggerGenerator) RegisterSwaggerRoute(r gin.IRouter) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
