// Package export 把分页协议的查询结果导出为 CSV 或 XLSX 文件。
package export

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Format 导出格式
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

// 内部分页大小与导出上限
const (
	PageSize = 200
	MaxRows  = 50000
)

// ParseFormat 解析导出格式，空值视为 CSV
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return CSV, nil
	case "xlsx", "excel":
		return XLSX, nil
	default:
		return "", fmt.Errorf("%w: 不支持的导出格式 %q", port.ErrValidation, s)
	}
}

// ContentType 返回响应的 MIME 类型
func (f Format) ContentType() string {
	if f == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName 生成带时间戳的下载文件名
func (f Format) FileName(base string, at time.Time) string {
	return fmt.Sprintf("%s_%s.%s", base, at.Format("20060102_150405"), f)
}

// FetchFunc 查询一页数据
type FetchFunc func(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error)

// Table 是收集完成的导出内容
type Table struct {
	Columns   []string
	Rows      []map[string]any
	Truncated bool
}

// Collect 以 PageSize 为单位翻页读取全部匹配行，最多 MaxRows 行
func Collect(ctx context.Context, fetch FetchFunc, q domain.TableQuery) (*Table, error) {
	q.Page, q.PageSize = 1, PageSize
	out := &Table{}
	for {
		page, err := fetch(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(out.Columns) == 0 {
			out.Columns = page.Columns
		}
		out.Rows = append(out.Rows, page.Rows...)
		if len(out.Rows) >= MaxRows {
			out.Rows = out.Rows[:MaxRows]
			out.Truncated = page.Pagination.Total > MaxRows
			return out, nil
		}
		if q.Page >= page.Pagination.TotalPages || len(page.Rows) == 0 {
			return out, nil
		}
		q.Page++
	}
}

// Write 按格式写出表格
func Write(w io.Writer, f Format, sheet string, t *Table) error {
	if f == XLSX {
		return writeXLSX(w, sheet, t)
	}
	return writeCSV(w, t)
}

func writeCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			record[i] = cellString(row[col])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, sheet string, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Sheet1"
	}
	if len(sheet) > 31 {
		sheet = sheet[:31]
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("设置工作表名称失败: %w", err)
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("创建工作表写入器失败: %w", err)
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for r, row := range t.Rows {
		values := make([]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			values[i] = xlsxValue(row[col])
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("写入工作表失败: %w", err)
	}
	_, err = f.WriteTo(w)
	return err
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func xlsxValue(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case string, bool, int, int32, int64, float32, float64, time.Time:
		return v
	default:
		return cellString(v)
	}
}
