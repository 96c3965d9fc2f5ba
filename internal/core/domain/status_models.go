// Package domain file: internal/core/domain/status_models.go
package domain

import "time"

// SourceStatus 是单个数据源的一次探测结果。
// 顺序与配置顺序一致，失败的数据源同样会出现。
type SourceStatus struct {
	Which     string             `json:"which"`
	Name      string             `json:"name,omitempty"`
	OK        bool               `json:"ok"`
	Info      string             `json:"info,omitempty"`
	LatencyMS int64              `json:"latencyMs"`
	Stats     map[string]float64 `json:"stats,omitempty"`
	CheckedAt time.Time          `json:"checkedAt"`
}

// StatusReport 聚合了所有数据源的探测结果
type StatusReport struct {
	Databases []SourceStatus `json:"databases"`
}

// Healthy 返回健康的数据源数量
func (r StatusReport) Healthy() int {
	n := 0
	for _, s := range r.Databases {
		if s.OK {
			n++
		}
	}
	return n
}
