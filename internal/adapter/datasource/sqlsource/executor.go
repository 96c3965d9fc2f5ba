// Package sqlsource file: internal/adapter/datasource/sqlsource/executor.go
package sqlsource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// executor 屏蔽 database/sql 与 pgxpool 的差异
type executor interface {
	queryRows(ctx context.Context, query string, args []any) ([]string, []map[string]any, error)
	count(ctx context.Context, query string, args []any) (int64, error)
	ping(ctx context.Context) error
	stats() map[string]float64
	close() error
}

// normalizeValue 把驱动返回的值转换为可直接 JSON 编码的形式
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case [16]byte:
		return uuid.UUID(val).String()
	case driver.Valuer:
		out, err := val.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		if b, ok := out.([]byte); ok {
			return string(b)
		}
		return out
	default:
		return v
	}
}

// ============================================================================
//  database/sql 执行器 (sqlite, sqlserver)
// ============================================================================

type sqlExecutor struct {
	db *sql.DB
}

func (e *sqlExecutor) queryRows(ctx context.Context, query string, args []any) ([]string, []map[string]any, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	results := make([]map[string]any, 0)
	for rows.Next() {
		scanDest := make([]any, len(columns))
		scanDestPtrs := make([]any, len(columns))
		for i := range scanDest {
			scanDestPtrs[i] = &scanDest[i]
		}
		if err := rows.Scan(scanDestPtrs...); err != nil {
			log.Printf("WARN: [sqlsource] 扫描行数据失败: %v。跳过此行。", err)
			continue
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(scanDest[i])
		}
		results = append(results, row)
	}
	return columns, results, rows.Err()
}

func (e *sqlExecutor) count(ctx context.Context, query string, args []any) (int64, error) {
	var n int64
	err := e.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (e *sqlExecutor) ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return err
	}
	var one int
	return e.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (e *sqlExecutor) stats() map[string]float64 {
	s := e.db.Stats()
	return map[string]float64{
		"maxOpen":   float64(s.MaxOpenConnections),
		"open":      float64(s.OpenConnections),
		"inUse":     float64(s.InUse),
		"idle":      float64(s.Idle),
		"waitCount": float64(s.WaitCount),
	}
}

func (e *sqlExecutor) close() error {
	return e.db.Close()
}

// ============================================================================
//  pgxpool 执行器 (postgres)
// ============================================================================

type pgxExecutor struct {
	pool *pgxpool.Pool
}

func (e *pgxExecutor) queryRows(ctx context.Context, query string, args []any) ([]string, []map[string]any, error) {
	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	results := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	return columns, results, rows.Err()
}

func (e *pgxExecutor) count(ctx context.Context, query string, args []any) (int64, error) {
	var n int64
	err := e.pool.QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

func (e *pgxExecutor) ping(ctx context.Context) error {
	if err := e.pool.Ping(ctx); err != nil {
		return err
	}
	var one int
	return e.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func (e *pgxExecutor) stats() map[string]float64 {
	s := e.pool.Stat()
	return map[string]float64{
		"maxOpen":   float64(s.MaxConns()),
		"open":      float64(s.TotalConns()),
		"inUse":     float64(s.AcquiredConns()),
		"idle":      float64(s.IdleConns()),
		"waitCount": float64(s.EmptyAcquireCount()),
	}
}

func (e *pgxExecutor) close() error {
	e.pool.Close()
	return nil
}
