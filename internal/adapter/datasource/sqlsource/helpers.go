// Package sqlsource file: internal/adapter/datasource/sqlsource/helpers.go
package sqlsource

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"errors"
	"fmt"
	"strings"
)

// argList 记录参数并按方言生成占位符
type argList struct {
	d    Dialect
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return a.d.Placeholder(len(a.args))
}

// escapeLike 转义 LIKE 模式中的通配符，配合 ESCAPE '\' 使用
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// buildWhereClause 构建大小写不敏感的搜索条件，多个可搜索列之间为 OR。
// SQLite 的 LOWER 只折叠 ASCII，搜索词同样交给 SQL 折叠，两边规则一致；
// 因此 SQLite 数据源上非 ASCII 字母的搜索是大小写敏感的。
func buildWhereClause(d Dialect, spec domain.TableSpec, search string, a *argList) string {
	search = strings.TrimSpace(search)
	if search == "" || len(spec.Searchable) == 0 {
		return ""
	}
	if d != SQLite {
		search = strings.ToLower(search)
	}
	escaped := escapeLike(search)
	if d == MSSQL {
		escaped = strings.ReplaceAll(escaped, "[", `\[`)
	}
	pattern := "%" + escaped + "%"
	conditions := make([]string, 0, len(spec.Searchable))
	for _, col := range spec.Searchable {
		ph := a.add(pattern)
		if d == SQLite {
			ph = "LOWER(" + ph + ")"
		}
		conditions = append(conditions, fmt.Sprintf(`LOWER(%s) LIKE %s ESCAPE '\'`, d.textCast(d.Quote(col)), ph))
	}
	return "WHERE (" + strings.Join(conditions, " OR ") + ")"
}

// resolveSort 校验排序字段并返回最终的排序字段与方向
func resolveSort(spec domain.TableSpec, q domain.TableQuery) (string, domain.SortDir, error) {
	field := q.SortField
	dir := q.SortDir
	if dir == "" {
		dir = domain.SortAsc
	}
	if dir != domain.SortAsc && dir != domain.SortDesc {
		return "", "", fmt.Errorf("%w: 排序方向 %q", port.ErrValidation, dir)
	}
	if field == "" {
		field = spec.DefaultSort
	}
	if field == "" {
		return spec.PrimaryKey, dir, nil
	}
	if !spec.IsSortable(field) {
		return "", "", fmt.Errorf("%w: %q", port.ErrInvalidSortField, field)
	}
	return field, dir, nil
}

// buildOrderClause 排序字段之后总是追加主键升序，保证翻页顺序稳定
func buildOrderClause(d Dialect, spec domain.TableSpec, field string, dir domain.SortDir) string {
	clause := fmt.Sprintf("ORDER BY %s %s", d.Quote(field), dir)
	if field != spec.PrimaryKey {
		clause += fmt.Sprintf(", %s ASC", d.Quote(spec.PrimaryKey))
	}
	return clause
}

// buildQuerySQL 根据表目录构建分页数据查询
func buildQuerySQL(d Dialect, spec domain.TableSpec, q domain.TableQuery) (string, []any, error) {
	if spec.Name == "" || spec.PrimaryKey == "" {
		return "", nil, errors.New("表名和主键不能为空 (buildQuerySQL)")
	}
	if q.Page < 1 {
		return "", nil, fmt.Errorf("%w: page 必须 >= 1", port.ErrValidation)
	}
	if !domain.ValidPageSize(q.PageSize) {
		return "", nil, port.ErrInvalidPageSize
	}
	if q.Page > domain.MaxPage(q.PageSize) {
		return "", nil, fmt.Errorf("%w: page 超出范围", port.ErrValidation)
	}
	field, dir, err := resolveSort(spec, q)
	if err != nil {
		return "", nil, err
	}

	a := &argList{d: d}
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(d.Quote(spec.Name))
	if where := buildWhereClause(d, spec, q.Search, a); where != "" {
		sb.WriteString(" ")
		sb.WriteString(where)
	}
	sb.WriteString(" ")
	sb.WriteString(buildOrderClause(d, spec, field, dir))

	if d == MSSQL {
		offset := a.add(q.Offset())
		limit := a.add(q.PageSize)
		sb.WriteString(fmt.Sprintf(" OFFSET %s ROWS FETCH NEXT %s ROWS ONLY", offset, limit))
	} else {
		limit := a.add(q.PageSize)
		offset := a.add(q.Offset())
		sb.WriteString(fmt.Sprintf(" LIMIT %s OFFSET %s", limit, offset))
	}
	return sb.String(), a.args, nil
}

// buildCountSQL 用于构建计算总数的SQL查询
func buildCountSQL(d Dialect, spec domain.TableSpec, search string) (string, []any, error) {
	if spec.Name == "" {
		return "", nil, errors.New("表名不能为空 (buildCountSQL)")
	}
	a := &argList{d: d}
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(d.Quote(spec.Name))
	if where := buildWhereClause(d, spec, search, a); where != "" {
		sb.WriteString(" ")
		sb.WriteString(where)
	}
	return sb.String(), a.args, nil
}
