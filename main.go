package main

import (
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"minibase/controllers"
	"minibase/middlewares"
	"minibase/models"
	"minibase/utils"
)

// 配置文件路径，可通过 MINIBASE_CONFIG 覆盖
func configPath() string {
	if path := os.Getenv("MINIBASE_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

func main() {
	cfgPath := configPath()
	hasConfig := utils.FileExists(cfgPath)

	var logger *utils.Logger
	var db *utils.Database
	if hasConfig {
		logger = utils.GetLogger(cfgPath)
		db = utils.GetDB(cfgPath, "database").SetLogger(logger)
	} else {
		logger = utils.GetLogger()
		db = utils.GetDB("minibase.db").SetLogger(logger)
	}
	defer logger.Sync()
	defer db.Close()

	serverConfig, err := utils.LoadServerConfig(cfgPath)
	if err != nil {
		logger.Fatal("failed to load server config", zap.Error(err))
	}
	swaggerConfig, err := utils.LoadSwaggerConfig(cfgPath)
	if err != nil {
		logger.Fatal("failed to load swagger config", zap.Error(err))
	}
	gin.SetMode(serverConfig.Mode)

	// 迁移数据库并创建计数器
	tables, err := utils.Migrate(db, models.All()...)
	if err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// 设置路由
	r := gin.Default()

	// 注册链路追踪与事务中间件
	r.Use(middlewares.TraceMiddleware())
	r.Use(middlewares.TransactionMiddleware(db.DB))

	swagger := utils.NewSwaggerGenerator(utils.SwaggerInfo{
		Title:       swaggerConfig.Title,
		Description: swaggerConfig.Description,
		Version:     swaggerConfig.Version,
		BasePath:    swaggerConfig.BasePath,
	})

	// 注册路由
	for i, model := range models.All() {
		controllers.RegisterGenericRoutes(r, tables[i], model)
		swagger.AddResource(tables[i], model)
		logger.Info("resource registered", zap.String("table", tables[i]))
	}

	if swaggerConfig.Enabled {
		if err := swagger.Register(); err != nil {
			logger.Fatal("failed to register swagger doc", zap.Error(err))
		}
		swagger.RegisterSwaggerRoute(r)
	}

	logger.Info("server starting", zap.String("addr", serverConfig.Addr))
	if err := r.Run(serverConfig.Addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
