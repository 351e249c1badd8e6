// internal/pkg/database/database.go
package database

import (
	"context"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 建立 MySQL 连接并配置连接池。
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

type txKey struct{}

// TxRunner 抽象"在一个事务中执行 fn"。
// 应用服务依赖此接口而不是 *gorm.DB，测试中可以用直通实现替代。
type TxRunner interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// GormTxRunner 是 TxRunner 的 GORM 实现。
// 它把事务句柄绑定进 context，仓储层通过 FromContext 取回，
// 从而让跨多个仓储的写操作落在同一个数据库事务里。
type GormTxRunner struct {
	db *gorm.DB
}

func NewGormTxRunner(db *gorm.DB) *GormTxRunner {
	return &GormTxRunner{db: db}
}

func (r *GormTxRunner) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// FromContext 返回 ctx 中绑定的事务句柄；不在事务中时回退到 fallback。
// 所有 GORM 仓储的读写都应经由此函数获取连接。
func FromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}
