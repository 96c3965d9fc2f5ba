// Package domain file: internal/core/domain/table_query.go
package domain

import (
	"fmt"
	"math"
	"strings"
)

// SortDir 排序方向
type SortDir string

const (
	SortAsc  SortDir = "ASC"
	SortDesc SortDir = "DESC"
)

// Toggle 返回相反的排序方向
func (d SortDir) Toggle() SortDir {
	if d == SortAsc {
		return SortDesc
	}
	return SortAsc
}

// ParseSortDir 宽松解析排序方向，空值视为 ASC。
func ParseSortDir(s string) (SortDir, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ASC":
		return SortAsc, nil
	case "DESC":
		return SortDesc, nil
	default:
		return "", fmt.Errorf("invalid sort order %q", s)
	}
}

// DefaultPageSize 是未指定 limit 时使用的页大小
const DefaultPageSize = 50

// PageSizes 是允许的页大小集合
var PageSizes = []int{25, 50, 100, 200}

// ValidPageSize 判断页大小是否在允许集合内
func ValidPageSize(n int) bool {
	for _, s := range PageSizes {
		if s == n {
			return true
		}
	}
	return false
}

// TableQuery 描述一次远程表查询请求。
type TableQuery struct {
	Table     string  `json:"table"`
	Page      int     `json:"page"`
	PageSize  int     `json:"limit"`
	Search    string  `json:"search,omitempty"`
	SortField string  `json:"sortBy,omitempty"`
	SortDir   SortDir `json:"sortOrder,omitempty"`
}

// MaxPage 返回给定页大小下偏移量不溢出的最大页码
func MaxPage(pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return math.MaxInt/pageSize + 1
}

// Offset 返回当前页的行偏移量，调用方需保证 Page <= MaxPage(PageSize)
func (q TableQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Pagination 是分页元信息
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// TablePage 是一次表查询的返回结果
type TablePage struct {
	Rows       []map[string]any `json:"rows"`
	Columns    []string         `json:"columns,omitempty"`
	Pagination Pagination       `json:"pagination"`
}

// TotalPages 计算 ceil(total/pageSize)
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
