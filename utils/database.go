package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DBType 数据库类型
type DBType string

const (
	MySQL      DBType = "mysql"
	MariaDB    DBType = "mariadb"
	TiDB       DBType = "tidb"
	PostgreSQL DBType = "postgresql"
	SQLite     DBType = "sqlite"
)

// DBConfig 数据库配置结构体
type DBConfig struct {
	Type          DBType        `mapstructure:"type"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Database      string        `mapstructure:"database"`
	Charset       string        `mapstructure:"charset"`
	TimeZone      string        `mapstructure:"timeZone"`      // 连接时区
	UTC           bool          `mapstructure:"utc"`           // 时间戳钩子是否使用UTC时间
	SingularTable bool          `mapstructure:"singularTable"` // 是否使用单数表名
	TablePrefix   string        `mapstructure:"tablePrefix"`
	SlowThreshold int           `mapstructure:"slowThreshold"` // 慢查询阈值（毫秒）
	LogLevel      string        `mapstructure:"logLevel"`
	Pool          PoolConfig    `mapstructure:"pool"`
	SQLite        *SQLiteConfig `mapstructure:"sqlite"`
}

// PoolConfig 连接池配置，时间单位为秒
type PoolConfig struct {
	MaxIdle     int `mapstructure:"maxIdle"`
	MaxOpen     int `mapstructure:"maxOpen"`
	MaxLifetime int `mapstructure:"maxLifetime"`
	MaxIdleTime int `mapstructure:"maxIdleTime"`
}

func (p PoolConfig) apply(sqlDB *sql.DB) {
	sqlDB.SetMaxIdleConns(p.MaxIdle)
	sqlDB.SetMaxOpenConns(p.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Duration(p.MaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(p.MaxIdleTime) * time.Second)
}

// SQLiteConfig SQLite特定配置
type SQLiteConfig struct {
	File string `mapstructure:"file"`
}

// Database 数据库结构体
type Database struct {
	*gorm.DB
	config *DBConfig
	dsn    string
}

var defaultDBConfig = DBConfig{
	Type:          MySQL,
	Host:          "localhost",
	Port:          3306,
	Username:      "root",
	Database:      "test",
	Charset:       "utf8mb4",
	TimeZone:      "UTC",
	UTC:           true,
	SlowThreshold: 200,
	LogLevel:      "warn",
	Pool: PoolConfig{
		MaxIdle:     10,
		MaxOpen:     100,
		MaxLifetime: 3600,
		MaxIdleTime: 1800,
	},
	SQLite: &SQLiteConfig{File: "data.db"},
}

var (
	instanceDB *Database
	instances  = make(map[string]*Database)
	muDB       sync.RWMutex
)

// GetDB 获取数据库实例，同样的参数只打开一次连接，第一个打开的实例作为全局默认实例
//
//	GetDB(dsn)                 默认配置，数据库类型由 DSN 推断
//	GetDB(configFile, section) 配置文件指定段，段为空时读取整个文件
func GetDB(args ...string) *Database {
	key := strings.Join(args, ":")

	muDB.RLock()
	db, exists := instances[key]
	muDB.RUnlock()
	if exists {
		return db
	}

	muDB.Lock()
	defer muDB.Unlock()
	if db, exists := instances[key]; exists {
		return db
	}

	config, dsn, err := dbConfigFromArgs(args)
	if err == nil {
		db, err = OpenDB(config, dsn)
	}
	if err != nil {
		panic(fmt.Sprintf("failed to initialize database: %v", err))
	}

	instances[key] = db
	if instanceDB == nil {
		instanceDB = db
	}
	return db
}

func dbConfigFromArgs(args []string) (*DBConfig, string, error) {
	switch len(args) {
	case 1:
		dbType, ok := DetectDBType(args[0])
		if !ok {
			return nil, "", fmt.Errorf("unsupported database dsn: %s", args[0])
		}
		config := NewDBConfig()
		config.Type = dbType
		return config, args[0], nil
	case 2:
		config, err := loadDBConfig(args[0], args[1])
		return config, "", err
	}
	return nil, "", fmt.Errorf("invalid parameters: GetDB(dsn) or GetDB(configFile, section)")
}

// NewDBConfig 返回默认配置的副本
func NewDBConfig() *DBConfig {
	config := defaultDBConfig
	sqliteConfig := *defaultDBConfig.SQLite
	config.SQLite = &sqliteConfig
	return &config
}

// OpenDB 按配置打开数据库连接，dsn 为空时由配置拼接
func OpenDB(config *DBConfig, dsn string) (*Database, error) {
	if config == nil {
		config = NewDBConfig()
	}
	db := &Database{
		config: config,
		dsn:    dsn,
	}
	if err := db.initDB(); err != nil {
		return nil, err
	}
	return db, nil
}

// DetectDBType 根据 DSN 推断数据库类型
func DetectDBType(dsn string) (DBType, bool) {
	switch {
	case strings.Contains(dsn, "mysql") || strings.Contains(dsn, "@tcp("):
		return MySQL, true
	case strings.Contains(dsn, "host=") && strings.Contains(dsn, "user=") && strings.Contains(dsn, "dbname="):
		return PostgreSQL, true
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return PostgreSQL, true
	case strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") || strings.Contains(dsn, "sqlite") ||
		strings.HasPrefix(dsn, "file:") || dsn == ":memory:":
		return SQLite, true
	}
	return "", false
}

// SetLogger 将 GORM 的 SQL 日志接入 zap
func (d *Database) SetLogger(l *Logger) *Database {
	if l != nil {
		d.DB.Logger = newGormLogger(l, time.Duration(d.config.SlowThreshold)*time.Millisecond, getGormLogLevel(d.config.LogLevel))
	}
	return d
}

// Config 返回数据库配置
func (d *Database) Config() DBConfig {
	return *d.config
}

func loadDBConfig(configPath, configSection string) (*DBConfig, error) {
	config := NewDBConfig()
	if err := LoadConfig(configPath, configSection, config); err != nil {
		return nil, err
	}
	return config, nil
}

// gormLogger GORM日志适配器，语句上下文中的链路追踪ID会带到每条 SQL 日志上
type gormLogger struct {
	logger        *Logger
	slowThreshold time.Duration
	level         logger.LogLevel
}

var _ logger.Interface = (*gormLogger)(nil)

func newGormLogger(l *Logger, slowThreshold time.Duration, level logger.LogLevel) *gormLogger {
	return &gormLogger{logger: l, slowThreshold: slowThreshold, level: level}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.logger.Ctx(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.logger.Ctx(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.logger.Ctx(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace 记录不存在不算错误；超过阈值按慢查询告警
func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	statement, rows := fc()
	log := l.logger.Ctx(ctx).With(
		zap.Duration("elapsed", elapsed),
		zap.String("sql", statement),
		zap.Int64("rows", rows),
	)

	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		log.Error("sql failed", zap.Error(err))
	case l.slowThreshold != 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		log.Warn("slow sql", zap.Duration("threshold", l.slowThreshold))
	case l.level >= logger.Info:
		log.Info("sql")
	}
}

func getGormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	}
	return logger.Info
}

// dialector 根据配置构造 GORM 方言
func (d *Database) dialector() (gorm.Dialector, error) {
	c := d.config
	switch c.Type {
	case MySQL, MariaDB, TiDB:
		dsn := d.dsn
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=%s&multiStatements=true",
				c.Username, c.Password, c.Host, c.Port, c.Database, c.Charset, mysqlLoc(c.TimeZone))
		}
		return mysql.Open(dsn), nil

	case PostgreSQL:
		dsn := d.dsn
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=%s",
				c.Host, c.Port, c.Username, c.Password, c.Database, c.TimeZone)
		}
		return postgres.Open(dsn), nil

	case SQLite:
		if d.dsn != "" {
			return sqlite.Open(d.dsn), nil
		}
		return sqlite.Open(c.SQLite.File), nil
	}
	return nil, fmt.Errorf("unsupported database type: %s", c.Type)
}

// mysqlLoc 将时区名转成 DSN 中 loc 参数
func mysqlLoc(tz string) string {
	if tz == "" {
		return "Local"
	}
	return strings.ReplaceAll(tz, "/", "%2F")
}

// initDB 初始化数据库连接
func (d *Database) initDB() error {
	dialector, err := d.dialector()
	if err != nil {
		return err
	}

	gormConfig := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: d.config.SingularTable,
			TablePrefix:   d.config.TablePrefix,
		},
		Logger: logger.Default.LogMode(getGormLogLevel(d.config.LogLevel)),
	}
	// 时间戳钩子读取的时钟
	if d.config.UTC {
		gormConfig.NowFunc = func() time.Time { return time.Now().UTC() }
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	d.config.Pool.apply(sqlDB)

	d.DB = db
	return nil
}

// Close 关闭数据库连接
func (d *Database) Close() error {
	if d.DB != nil {
		sqlDB, err := d.DB.DB()
		if err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
		return sqlDB.Close()
	}
	return nil
}

// Migrate 迁移模型表结构并为每张表安装计数器，返回迁移的表名
func Migrate(db *Database, models ...interface{}) ([]string, error) {
	tables := make([]string, 0, len(models))
	for _, model := range models {
		_, modelPtr, _ := GetModelInfo(model)
		tableName, err := db.TableName(modelPtr)
		if err != nil {
			return nil, err
		}
		if err := db.DB.AutoMigrate(modelPtr); err != nil {
			return nil, fmt.Errorf("failed to migrate %s: %w", tableName, err)
		}
		if err := CreateCounter4Table(db, tableName); err != nil {
			return nil, err
		}
		tables = append(tables, tableName)
	}
	return tables, nil
}

// TableName 按当前连接的命名策略解析模型对应的表名
func (d *Database) TableName(model interface{}) (string, error) {
	stmt := &gorm.Statement{DB: d.DB}
	if err := stmt.Parse(model); err != nil {
		return "", fmt.Errorf("failed to parse model: %w", err)
	}
	return stmt.Schema.Table, nil
}
