// Package sqlsource file: internal/adapter/datasource/sqlsource/dialect.go
package sqlsource

import (
	"fmt"
	"strings"
)

// Dialect 描述不同数据库在标识符引用、占位符和分页语法上的差异
type Dialect string

const (
	Postgres Dialect = "postgres"
	MSSQL    Dialect = "mssql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect 把配置中的 driver 名称映射为方言
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mssql", "sqlserver":
		return MSSQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("不支持的数据库驱动: %q", driver)
	}
}

// Quote 引用一个标识符
func (d Dialect) Quote(ident string) string {
	if d == MSSQL {
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Placeholder 返回第 n 个参数 (从1开始) 的占位符
func (d Dialect) Placeholder(n int) string {
	switch d {
	case Postgres:
		return fmt.Sprintf("$%d", n)
	case MSSQL:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// textCast 把任意列转为可做 LIKE 比较的文本
func (d Dialect) textCast(col string) string {
	if d == MSSQL {
		return "CAST(" + col + " AS NVARCHAR(MAX))"
	}
	return "CAST(" + col + " AS TEXT)"
}

// Rebind 把使用 '?' 的语句改写为当前方言的占位符
func (d Dialect) Rebind(query string) string {
	if d == SQLite {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString(d.Placeholder(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
