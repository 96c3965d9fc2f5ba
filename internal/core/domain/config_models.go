// Package domain file: internal/core/domain/config_models.go
package domain

// TableSpec 定义了单个可浏览表的目录配置。
// 只有出现在目录中的表和列才会进入 SQL 语句。
type TableSpec struct {
	Name        string   `json:"name" mapstructure:"name"`
	PrimaryKey  string   `json:"primaryKey" mapstructure:"primary_key"`
	Searchable  []string `json:"searchable" mapstructure:"searchable"`
	Sortable    []string `json:"sortable" mapstructure:"sortable"`
	DefaultSort string   `json:"defaultSort,omitempty" mapstructure:"default_sort"`
}

// IsSortable 判断字段是否允许排序，主键始终允许。
func (t TableSpec) IsSortable(field string) bool {
	if field == t.PrimaryKey {
		return true
	}
	for _, f := range t.Sortable {
		if f == field {
			return true
		}
	}
	return false
}

// SourceInfo 是对外暴露的数据源摘要
type SourceInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
}
