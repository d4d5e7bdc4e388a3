package xharvest

import (
	"context"
	"time"

	"github.com/omeyang/tracekit/pkg/observability/xreservoir"
	"github.com/omeyang/tracekit/pkg/tracing/xtracer"
)

// Event 一个被采样保留的事务事件及其优先级。
// 优先级随事件交接，导出失败合并回蓄水池时仍按原值参与淘汰。
type Event struct {
	Priority float64
	Result   *xtracer.Result
}

// Batch 一个采集周期交接给 Exporter 的全部数据。
type Batch struct {
	// Events 本周期蓄水池保留的采样事件。
	Events []Event

	// Metrics 本周期聚合的指标表。
	Metrics map[string]xtracer.Metric

	// Stats 蓄水池在本周期的见到/丢弃计数。
	Stats xreservoir.Stats

	// HarvestedAt 本周期的采集时刻。
	HarvestedAt time.Time
}

// Exporter 把采集批次送往后端。实现方负责线上编码与传输；
// 返回错误时整批数据会被合并回待采集状态重新参与下个周期。
type Exporter interface {
	Export(ctx context.Context, batch *Batch) error
}

// ExporterFunc 函数式 Exporter 适配器。
type ExporterFunc func(ctx context.Context, batch *Batch) error

// Export 实现 Exporter。
func (f ExporterFunc) Export(ctx context.Context, batch *Batch) error {
	return f(ctx, batch)
}
