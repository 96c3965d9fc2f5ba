// Package store file: internal/adapter/store/migrate.go
package store

import (
	"ERPAdmin/internal/adapter/datasource/sqlsource"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// runMigrations 在独立连接上执行迁移。m.Close 会关闭传入的 *sql.DB，因此不复用业务连接池。
func runMigrations(driverName, dsn string, d sqlsource.Dialect) error {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("打开迁移连接失败: %w", err)
	}

	var (
		driver database.Driver
		dir    string
	)
	switch d {
	case sqlsource.Postgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
		dir = "migrations/postgres"
	case sqlsource.SQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
		dir = "migrations/sqlite"
	default:
		err = fmt.Errorf("迁移不支持方言 %q", d)
	}
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("创建迁移驱动失败: %w", err)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("读取内嵌迁移文件失败: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(d), driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("创建迁移实例失败: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			slog.Warn("关闭迁移源失败", "error", srcErr)
		}
		if dbErr != nil {
			slog.Warn("关闭迁移连接失败", "error", dbErr)
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("系统库结构已是最新，无需迁移")
		return nil
	}
	if err != nil {
		return fmt.Errorf("执行迁移失败: %w", err)
	}

	version, _, _ := m.Version()
	slog.Info("系统库迁移完成", "version", version)
	return nil
}
