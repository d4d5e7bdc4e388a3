package xharvest

import "errors"

// 采集管线相关错误
var (
	// ErrNilExporter 表示未提供 Exporter。
	ErrNilExporter = errors.New("xharvest: nil exporter")

	// ErrStopped 表示 Harvester 已关闭。
	ErrStopped = errors.New("xharvest: harvester stopped")

	// ErrEmptyBatch 表示本周期没有可导出的数据。
	ErrEmptyBatch = errors.New("xharvest: empty batch")
)
