package xharvest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 设计决策: 指标前缀使用 "xharvest.*"，与 OTel Meter scope name
// 保持一致（Meter("xharvest")）。这些是采集管线自身的运行指标，
// 与被采集的业务事务指标（Batch.Metrics）互不相干。
const (
	// metricNameCommitsTotal 收到的事务提交计数器
	metricNameCommitsTotal = "xharvest.commits.total"
	// metricNameSampledTotal 进入蓄水池的采样事件计数器
	metricNameSampledTotal = "xharvest.events.sampled.total"
	// metricNameHarvestTotal 采集周期计数器（按结果打标签）
	metricNameHarvestTotal = "xharvest.harvest.total"
	// metricNameExportedTotal 成功导出的事件计数器
	metricNameExportedTotal = "xharvest.events.exported.total"
	// metricNameDroppedTotal 蓄水池淘汰的事件计数器
	metricNameDroppedTotal = "xharvest.events.dropped.total"
	// metricNameReapedTotal 强制回收的孤儿事务计数器
	metricNameReapedTotal = "xharvest.orphans.reaped.total"
	// metricNameExportDuration 导出耗时直方图
	metricNameExportDuration = "xharvest.export.duration"
)

// Metrics 采集管线指标收集器。
type Metrics struct {
	meter          metric.Meter
	commitsTotal   metric.Int64Counter
	sampledTotal   metric.Int64Counter
	harvestTotal   metric.Int64Counter
	exportedTotal  metric.Int64Counter
	droppedTotal   metric.Int64Counter
	reapedTotal    metric.Int64Counter
	exportDuration metric.Float64Histogram
}

// durationBuckets 导出耗时直方图的桶边界（秒）
var durationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0}

// NewMetrics 创建指标收集器。
// meterProvider 为 nil 时返回 nil（不收集指标，所有记录方法安全）。
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}

	m := &Metrics{meter: meterProvider.Meter("xharvest")}

	var err error
	if m.commitsTotal, err = m.meter.Int64Counter(metricNameCommitsTotal,
		metric.WithDescription("收到的事务提交次数"), metric.WithUnit("{commit}")); err != nil {
		return nil, err
	}
	if m.sampledTotal, err = m.meter.Int64Counter(metricNameSampledTotal,
		metric.WithDescription("进入蓄水池的采样事件数"), metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	if m.harvestTotal, err = m.meter.Int64Counter(metricNameHarvestTotal,
		metric.WithDescription("采集周期次数"), metric.WithUnit("{harvest}")); err != nil {
		return nil, err
	}
	if m.exportedTotal, err = m.meter.Int64Counter(metricNameExportedTotal,
		metric.WithDescription("成功导出的事件数"), metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	if m.droppedTotal, err = m.meter.Int64Counter(metricNameDroppedTotal,
		metric.WithDescription("蓄水池淘汰的事件数"), metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	if m.reapedTotal, err = m.meter.Int64Counter(metricNameReapedTotal,
		metric.WithDescription("强制回收的孤儿事务数"), metric.WithUnit("{transaction}")); err != nil {
		return nil, err
	}
	if m.exportDuration, err = m.meter.Float64Histogram(metricNameExportDuration,
		metric.WithDescription("导出耗时"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCommit 记录一次事务提交。
func (m *Metrics) RecordCommit(ctx context.Context, sampled bool) {
	if m == nil {
		return
	}
	m.commitsTotal.Add(ctx, 1)
	if sampled {
		m.sampledTotal.Add(ctx, 1)
	}
}

// RecordHarvest 记录一次采集周期的结果。
func (m *Metrics) RecordHarvest(ctx context.Context, exported int, dropped uint64, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.harvestTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.exportDuration.Record(ctx, elapsed.Seconds())
	if err == nil {
		m.exportedTotal.Add(ctx, int64(exported))
	}
	if dropped > 0 {
		m.droppedTotal.Add(ctx, int64(dropped))
	}
}

// RecordReaped 记录回收的孤儿事务数。
func (m *Metrics) RecordReaped(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.reapedTotal.Add(ctx, int64(n))
}
