package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ErrSectionNotFound 配置文件中不存在指定段
var ErrSectionNotFound = errors.New("configuration section does not exist")

// 环境变量前缀，例如 MINIBASE_DATABASE_PASSWORD 覆盖 database.password
const envPrefix = "MINIBASE"

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `mapstructure:"addr"` // 监听地址
	Mode string `mapstructure:"mode"` // gin 运行模式 debug/release/test
}

// SwaggerConfig 接口文档配置
type SwaggerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	Version     string `mapstructure:"version"`
	BasePath    string `mapstructure:"basePath"`
}

var defaultServerConfig = ServerConfig{
	Addr: ":38081",
	Mode: "debug",
}

var defaultSwaggerConfig = SwaggerConfig{
	Enabled:     true,
	Title:       "minibase",
	Description: "Generic CRUD API for timestamped records",
	Version:     "1.0",
	BasePath:    "/",
}

// LoadConfig 将配置文件中的指定段解析到 out，段为空时解析整个文件
// out 在调用前应已填充默认值，配置文件中缺失的字段保持默认
func LoadConfig(configPath, configSection string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(configPath)

	// 根据文件扩展名设置配置类型
	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	case ".json":
		v.SetConfigType("json")
	case ".toml":
		v.SetConfigType("toml")
	case ".env":
		v.SetConfigType("env")
	default:
		return fmt.Errorf("unsupported configuration file type: %s", ext)
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	// 读取指定配置段，Sub 得到的实例查找环境变量时会自动带上段名
	target := v
	if configSection != "" {
		target = v.Sub(configSection)
		if target == nil {
			return fmt.Errorf("%w: %s", ErrSectionNotFound, configSection)
		}
	}
	target.SetEnvPrefix(envPrefix)
	target.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	target.AutomaticEnv()

	if err := target.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to parse configuration file: %w", err)
	}
	return nil
}

// LoadServerConfig 读取 server 段，文件不存在时返回默认配置
func LoadServerConfig(configPath string) (*ServerConfig, error) {
	config := defaultServerConfig
	if !FileExists(configPath) {
		return &config, nil
	}
	if err := LoadConfig(configPath, "server", &config); err != nil {
		if errors.Is(err, ErrSectionNotFound) {
			return &config, nil
		}
		return nil, err
	}
	return &config, nil
}

// LoadSwaggerConfig 读取 swagger 段，文件不存在时返回默认配置
func LoadSwaggerConfig(configPath string) (*SwaggerConfig, error) {
	config := defaultSwaggerConfig
	if !FileExists(configPath) {
		return &config, nil
	}
	if err := LoadConfig(configPath, "swagger", &config); err != nil {
		if errors.Is(err, ErrSectionNotFound) {
			return &config, nil
		}
		return nil, err
	}
	return &config, nil
}

// FileExists 判断文件是否存在
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
