// Package database 负责建立 GORM 连接与表结构迁移
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"cielo-chat-server/internal/config"
	"cielo-chat-server/internal/model"
)

// Open 根据配置初始化数据库连接
// 参数:
//   - cfg: 数据库配置
//   - release: 是否为 release 模式（影响 SQL 日志级别）
//
// 返回:
//   - *gorm.DB: 数据库实例
//   - error: 连接错误
func Open(cfg config.DatabaseConfig, release bool) (*gorm.DB, error) {
	dialector, err := newDialector(cfg)
	if err != nil {
		return nil, err
	}

	gormLogger := logger.Default.LogMode(logger.Info)
	if release {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	return db, nil
}

// newDialector 按驱动类型构建 Dialector
func newDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN
	switch cfg.Driver {
	case "", "postgres":
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
				cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode)
		}
		return postgres.Open(dsn), nil
	case "mysql":
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
				cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.Charset)
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// uuidColumnTypes 没有原生 uuid 类型的方言对应的列类型
var uuidColumnTypes = map[string]string{
	"mysql": "char(36)",
}

// Migrate 自动迁移聊天相关表
func Migrate(db *gorm.DB) error {
	models := []interface{}{
		&model.ChatSession{},
		&model.ChatMessage{},
	}
	if err := adaptUUIDColumns(db, models...); err != nil {
		return err
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// adaptUUIDColumns 按方言改写缓存中 uuid 字段的列类型
// 必须在 AutoMigrate 之前调用
func adaptUUIDColumns(db *gorm.DB, models ...interface{}) error {
	columnType, ok := uuidColumnTypes[db.Dialector.Name()]
	if !ok {
		return nil
	}
	for _, m := range models {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return fmt.Errorf("failed to parse %T: %w", m, err)
		}
		for _, field := range stmt.Schema.Fields {
			if field.DataType == "uuid" {
				field.DataType = schema.DataType(columnType)
			}
		}
	}
	return nil
}
