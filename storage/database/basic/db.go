// Package basic 基于 database/sql 的 database.IDatabase 实现
package basic

import (
	"context"
	"database/sql"
	"time"

	// 注册纯 Go 的 sqlite 驱动
	_ "modernc.org/sqlite"

	core "linkrt/storage/database"
)

// DB 对 *sql.DB 的最小封装
type DB struct {
	db     *sql.DB
	driver string
}

// New 打开数据库并做一次可用性检查
//
// sqlite 的 ":memory:" 数据库是按连接隔离的，此时连接池固定为 1。
func New(config core.DBConfig) (*DB, error) {
	driver := config.Driver
	if driver == "" {
		driver = "sqlite"
	}

	db, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" && config.DSN == ":memory:" {
		config.MaxOpenConns = 1
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, driver: driver}, nil
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return d.db.QueryRowContext(ctx, query, args...)
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *DB) Close() error                   { return d.db.Close() }

// Driver 驱动名
func (d *DB) Driver() string { return d.driver }

var _ core.IDatabase = (*DB)(nil)
