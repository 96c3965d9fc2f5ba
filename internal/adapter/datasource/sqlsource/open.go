// Package sqlsource file: internal/adapter/datasource/sqlsource/open.go
package sqlsource

import (
	"ERPAdmin/internal/core/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// DefaultMaxConns 每个 POS 数据源的默认连接池大小
const DefaultMaxConns = 5

// Config 单个 POS 数据源的连接与目录配置
type Config struct {
	ID       string             `mapstructure:"id"`
	Name     string             `mapstructure:"name"`
	Driver   string             `mapstructure:"driver"`
	DSN      string             `mapstructure:"dsn"`
	Host     string             `mapstructure:"host"`
	Port     int                `mapstructure:"port"`
	User     string             `mapstructure:"user"`
	Password string             `mapstructure:"password"`
	Database string             `mapstructure:"database"`
	MaxConns int                `mapstructure:"max_conns"`
	Tables   []domain.TableSpec `mapstructure:"tables"`
}

// Validate 检查配置完整性
func (c Config) Validate() error {
	if c.ID == "" {
		return errors.New("数据源 id 不能为空")
	}
	if _, err := ParseDialect(c.Driver); err != nil {
		return fmt.Errorf("数据源 '%s': %w", c.ID, err)
	}
	seen := make(map[string]struct{}, len(c.Tables))
	for _, t := range c.Tables {
		if t.Name == "" || t.PrimaryKey == "" {
			return fmt.Errorf("数据源 '%s' 的表目录项缺少 name 或 primary_key", c.ID)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("数据源 '%s' 的表 '%s' 重复配置", c.ID, t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}

func (c Config) maxConns() int {
	if c.MaxConns <= 0 {
		return DefaultMaxConns
	}
	return c.MaxConns
}

func (c Config) displayName() string {
	if c.Name == "" {
		return c.ID
	}
	return c.Name
}

// PostgresURL 由分离字段拼出 postgres 连接串
func (c Config) PostgresURL() string {
	if c.DSN != "" {
		return c.DSN
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SQLServerURL 由分离字段拼出 sqlserver 连接串
func (c Config) SQLServerURL() string {
	if c.DSN != "" {
		return c.DSN
	}
	port := c.Port
	if port == 0 {
		port = 1433
	}
	query := url.Values{}
	query.Add("database", c.Database)
	query.Add("encrypt", "disable")
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		port,
		query.Encode(),
	)
}

// SQLiteDSN 返回 modernc sqlite 连接串。
// 该驱动只识别 _pragma 参数，每个新连接都会执行一次，外键约束依赖 foreign_keys(1)。
func (c Config) SQLiteDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", c.Database)
}

// Open 根据配置创建连接池。连接是惰性的，不可达的数据库不会导致 Open 失败。
func Open(ctx context.Context, cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, _ := ParseDialect(cfg.Driver)

	switch d {
	case Postgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.PostgresURL())
		if err != nil {
			return nil, fmt.Errorf("解析数据源 '%s' 连接串失败: %w", cfg.ID, err)
		}
		poolConfig.MaxConns = int32(cfg.maxConns())
		poolConfig.MaxConnLifetime = time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("创建数据源 '%s' 连接池失败: %w", cfg.ID, err)
		}
		return NewPgx(cfg.ID, cfg.displayName(), pool, cfg.Tables), nil

	case MSSQL:
		db, err := sql.Open("sqlserver", cfg.SQLServerURL())
		if err != nil {
			return nil, fmt.Errorf("打开数据源 '%s' 失败: %w", cfg.ID, err)
		}
		db.SetMaxOpenConns(cfg.maxConns())
		db.SetMaxIdleConns(cfg.maxConns())
		db.SetConnMaxLifetime(time.Hour)
		return NewSQL(cfg.ID, cfg.displayName(), MSSQL, db, cfg.Tables), nil

	default:
		db, err := sql.Open("sqlite", cfg.SQLiteDSN())
		if err != nil {
			return nil, fmt.Errorf("打开数据源 '%s' 失败: %w", cfg.ID, err)
		}
		db.SetMaxOpenConns(cfg.maxConns())
		return NewSQL(cfg.ID, cfg.displayName(), SQLite, db, cfg.Tables), nil
	}
}
