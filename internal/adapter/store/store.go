// Package store 是 ERP 系统库 (用户、角色、设备、审计、令牌、邀请) 的持久化实现。
// 同一套 SQL 同时运行在 SQLite 与 Postgres 上，语句统一使用 '?' 书写，执行前按方言改写。
package store

import (
	"ERPAdmin/internal/adapter/datasource/sqlsource"
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// 断言 *Store 实现 port.ERPStore 接口，编译期校验
var _ port.ERPStore = (*Store)(nil)

// DefaultMaxConns ERP 系统库默认连接池大小
const DefaultMaxConns = 10

// Config ERP 系统库连接配置
type Config struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	MaxConns int    `mapstructure:"max_conns"`
}

func (c Config) sourceConfig() sqlsource.Config {
	return sqlsource.Config{
		ID:       "erp",
		Driver:   c.Driver,
		DSN:      c.DSN,
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.databaseName(),
	}
}

func (c Config) databaseName() string {
	if c.Path != "" {
		return c.Path
	}
	return c.Name
}

// Store 是 port.ERPStore 的 database/sql 实现
type Store struct {
	db      *sql.DB
	pool    *pgxpool.Pool
	dialect sqlsource.Dialect

	// lists 复用远程表查询协议为列表接口提供分页、排序、搜索
	lists *sqlsource.Source

	now func() time.Time
}

// listCatalog 是可通过分页协议浏览的系统表与视图
var listCatalog = []domain.TableSpec{
	{
		Name:       "user_view",
		PrimaryKey: "id",
		Searchable: []string{"username", "email", "full_name", "role"},
		Sortable:   []string{"username", "email", "full_name", "role", "active", "created_at", "last_login_at"},
	},
	{
		Name:       "devices",
		PrimaryKey: "id",
		Searchable: []string{"name", "serial", "location", "source_id"},
		Sortable:   []string{"name", "serial", "location", "source_id", "active", "created_at"},
	},
	{
		Name:       "audit_logs",
		PrimaryKey: "id",
		Searchable: []string{"username", "action", "module", "summary"},
		Sortable:   []string{"created_at", "username", "action", "module"},
	},
}

// Open 打开系统库并执行迁移
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := sqlsource.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	sc := cfg.sourceConfig()

	switch d {
	case sqlsource.Postgres:
		dsn := sc.PostgresURL()
		if err := runMigrations("pgx", dsn, d); err != nil {
			return nil, err
		}
		poolConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("解析系统库连接串失败: %w", err)
		}
		poolConfig.MaxConns = int32(maxConns)
		poolConfig.MaxConnLifetime = time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("创建系统库连接池失败: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("连接系统库 (Ping) 失败: %w", err)
		}
		s := newStore(stdlib.OpenDBFromPool(pool), d)
		s.pool = pool
		return s, nil

	case sqlsource.SQLite:
		dsn := sc.SQLiteDSN()
		if err := runMigrations("sqlite", dsn, d); err != nil {
			return nil, err
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("打开/创建系统库失败: %w", err)
		}
		db.SetMaxOpenConns(maxConns)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("连接系统库 (Ping) 失败: %w", err)
		}
		return newStore(db, d), nil

	default:
		return nil, fmt.Errorf("系统库不支持驱动 %q", cfg.Driver)
	}
}

// New 基于已迁移的连接创建 Store，主要供测试使用
func New(db *sql.DB, d sqlsource.Dialect) *Store {
	return newStore(db, d)
}

func newStore(db *sql.DB, d sqlsource.Dialect) *Store {
	return &Store{
		db:      db,
		dialect: d,
		lists:   sqlsource.NewSQL("erp", "ERP", d, db, listCatalog),
		now:     time.Now,
	}
}

// Ping 检查系统库连通性
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stats 返回系统库连接池统计
func (s *Store) Stats() map[string]float64 {
	st := s.db.Stats()
	return map[string]float64{
		"maxOpen": float64(st.MaxOpenConnections),
		"open":    float64(st.OpenConnections),
		"inUse":   float64(st.InUse),
		"idle":    float64(st.Idle),
	}
}

// Close 关闭系统库连接
func (s *Store) Close() error {
	slog.Info("正在关闭系统数据库连接...")
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// q 把 '?' 占位符改写为当前方言
func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

// withTx 在事务中执行 fn，出错时回滚
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// mapErr 把驱动错误归一为 port 中的哨兵错误
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", port.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

// scanner 同时适配 *sql.Row 与 *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
