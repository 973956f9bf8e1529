// Package journal 把消息信封写入 SQLite，便于事后排查
package journal

import (
	"context"
	"strings"
	"time"

	"linkrt/envelope"
	"linkrt/errors"
	"linkrt/logging"
	core "linkrt/storage/database"
	"linkrt/storage/database/basic"
)

const schema = `
CREATE TABLE IF NOT EXISTS envelope_journal (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	route_key  TEXT NOT NULL,
	type_name  TEXT NOT NULL,
	role       TEXT NOT NULL,
	direction  TEXT NOT NULL,
	size       INTEGER NOT NULL,
	payload    BLOB,
	error      TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_envelope_journal_name ON envelope_journal (name, created_at);
`

// Config 日志表配置
type Config struct {
	// Path sqlite 文件路径，":memory:" 表示内存库
	Path string
	// KeepPayload 是否保存原始字节
	KeepPayload bool
	Logger      logging.Logger
}

// Entry 一条记录
type Entry struct {
	ID        string
	Name      string
	Key       string
	TypeName  string
	Role      envelope.Role
	Direction string
	Size      int
	Payload   []byte
	Error     string
	CreatedAt time.Time
}

// Journal 实现 envelope.Observer
type Journal struct {
	db          core.IDatabase
	keepPayload bool
	owned       bool
	logger      logging.Logger
}

// Open 打开（必要时创建）sqlite 日志库
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, errors.NewConfigError("journal path is required")
	}
	db, err := basic.New(core.DBConfig{Driver: "sqlite", DSN: cfg.Path})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfig, "打开日志库失败")
	}
	j, err := New(ctx, db, cfg.KeepPayload, cfg.Logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	j.owned = true
	return j, nil
}

// New 在已有数据库上创建日志表
func New(ctx context.Context, db core.IDatabase, keepPayload bool, logger logging.Logger) (*Journal, error) {
	if logger == nil {
		logger = logging.ComponentLogger("journal")
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(ctx, stmt); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeConfig, "创建日志表失败")
		}
	}
	return &Journal{db: db, keepPayload: keepPayload, logger: logger}, nil
}

// Observe 写入一条信封；写入失败只记录日志
func (j *Journal) Observe(ctx context.Context, env envelope.Envelope, err error) {
	var payload []byte
	if j.keepPayload {
		payload = env.Payload
	}
	var errText string
	if err != nil {
		errText = err.Error()
	}
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, execErr := j.db.Exec(ctx,
		`INSERT INTO envelope_journal (id, name, route_key, type_name, role, direction, size, payload, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.ID, env.Name, env.Key, env.TypeName, string(env.Role), env.Direction.String(),
		env.Size, payload, errText, ts.UnixNano())
	if execErr != nil {
		j.logger.Warn(ctx, "journal write failed", logging.String("key", env.Key), logging.Error(execErr))
	}
}

// Recent 按时间倒序返回某个端点最近的记录；name 为空表示全部
func (j *Journal) Recent(ctx context.Context, name string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, name, route_key, type_name, role, direction, size, payload, error, created_at
		FROM envelope_journal`
	args := []any{}
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			role    string
			errText *string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Key, &e.TypeName, &role, &e.Direction,
			&e.Size, &e.Payload, &errText, &created); err != nil {
			return nil, err
		}
		e.Role = envelope.Role(role)
		if errText != nil {
			e.Error = *errText
		}
		e.CreatedAt = time.Unix(0, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count 记录总数
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRow(ctx, `SELECT COUNT(*) FROM envelope_journal`).Scan(&n)
	return n, err
}

// Prune 删除 before 之前的记录，返回删除条数
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.Exec(ctx, `DELETE FROM envelope_journal WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close 关闭由 Open 打开的数据库
func (j *Journal) Close() error {
	if j.owned {
		return j.db.Close()
	}
	return nil
}

var _ envelope.Observer = (*Journal)(nil)
