// Package database 通用数据库抽象
//
// 上层（journal）只依赖这里的接口，具体实现见 storage/database/basic。
package database

import (
	"context"
	"database/sql"
)

// IDatabase 通用数据库接口
type IDatabase interface {
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	Begin(ctx context.Context) (ITransaction, error)

	Ping(ctx context.Context) error
	Close() error
}

// ITransaction 事务接口
type ITransaction interface {
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	Commit() error
	Rollback() error
}

// IRows 查询结果集
type IRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// IRow 单行结果
type IRow interface {
	Scan(dest ...any) error
}

// DBConfig 数据库配置
type DBConfig struct {
	// Driver 已注册的 database/sql 驱动名，默认 "sqlite"
	Driver string
	// DSN 数据源；sqlite 下为文件路径或 ":memory:"
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // 秒
}
