package xharvest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/tracekit/pkg/observability/xlog"
	"github.com/omeyang/tracekit/pkg/observability/xreservoir"
	"github.com/omeyang/tracekit/pkg/tracing/xtracer"
)

// TransactionLister 提供活跃事务的遍历能力，供孤儿巡检使用。
// *xtracer.Tracer 实现此接口。
type TransactionLister interface {
	ActiveTransactions(fn func(*xtracer.Transaction) bool)
}

// Harvester 采集管线：实现 xtracer.Committer，周期性把蓄水池中的
// 采样事件与聚合指标导出到后端。
type Harvester struct {
	buf      *xreservoir.PriorityBuffer[*xtracer.Result]
	exporter Exporter
	log      xlog.Logger
	metrics  *Metrics
	breaker  *gobreaker.CircuitBreaker[any]
	lister   TransactionLister

	interval   time.Duration
	timeout    time.Duration
	maxRetries int

	orphanTimeout atomic.Int64 // time.Duration，0 表示不回收

	aggMu sync.Mutex
	agg   map[string]xtracer.Metric

	cron    *cron.Cron
	started atomic.Bool
	stopped atomic.Bool
}

// 编译时接口检查
var _ xtracer.Committer = (*Harvester)(nil)

// Option 配置 Harvester。
type Option func(*options)

type options struct {
	interval      time.Duration
	timeout       time.Duration
	maxRetries    int
	eventCapacity int
	orphanTimeout time.Duration
	logger        xlog.Logger
	meterProvider metric.MeterProvider
	lister        TransactionLister
}

// WithInterval 设置采集周期，默认 60s。
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithTimeout 设置单次导出的超时，默认 10s。
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxRetries 设置单次导出的最大重试次数，默认 3。
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithEventCapacity 设置事件蓄水池容量，默认 10000。
func WithEventCapacity(n int) Option {
	return func(o *options) { o.eventCapacity = n }
}

// WithOrphanTimeout 设置孤儿事务回收阈值，0 表示不回收。
// 需要配合 WithTransactionLister 才生效。
func WithOrphanTimeout(d time.Duration) Option {
	return func(o *options) { o.orphanTimeout = d }
}

// WithLogger 设置日志记录器，缺省为 no-op。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMeterProvider 设置 OTel MeterProvider，nil 时不收集指标。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTransactionLister 设置活跃事务来源（通常是 *xtracer.Tracer），
// 启用孤儿巡检。
func WithTransactionLister(l TransactionLister) Option {
	return func(o *options) { o.lister = l }
}

// New 创建 Harvester。创建后调用 Start 启动周期采集；
// 不启动也可以通过 HarvestNow 手动触发。
func New(exporter Exporter, opts ...Option) (*Harvester, error) {
	if exporter == nil {
		return nil, ErrNilExporter
	}

	o := &options{
		interval:      60 * time.Second,
		timeout:       10 * time.Second,
		maxRetries:    3,
		eventCapacity: 10000,
	}
	for _, fn := range opts {
		fn(o)
	}

	buf, err := xreservoir.NewPriorityBuffer[*xtracer.Result](o.eventCapacity)
	if err != nil {
		return nil, err
	}
	m, err := NewMetrics(o.meterProvider)
	if err != nil {
		return nil, err
	}

	h := &Harvester{
		buf:        buf,
		exporter:   exporter,
		log:        xlog.OrNop(o.logger),
		metrics:    m,
		lister:     o.lister,
		interval:   o.interval,
		timeout:    o.timeout,
		maxRetries: o.maxRetries,
		agg:        make(map[string]xtracer.Metric),
		cron:       cron.New(),
	}
	h.orphanTimeout.Store(int64(o.orphanTimeout))
	h.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "xharvest.export",
		Timeout: 2 * o.interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.log.Warn(context.Background(), "export breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return h, nil
}

// Commit 实现 xtracer.Committer：指标合并进聚合表，采样事件进入
// 蓄水池。已关闭的 Harvester 拒绝提交。
func (h *Harvester) Commit(res *xtracer.Result) error {
	if h.stopped.Load() {
		return ErrStopped
	}

	h.mergeMetrics(res.Metrics)
	if res.Sampled {
		h.buf.Append(res.Priority, func() *xtracer.Result { return res })
	}
	h.metrics.RecordCommit(context.Background(), res.Sampled)
	return nil
}

// Start 启动周期采集与孤儿巡检。重复调用为 no-op。
func (h *Harvester) Start() error {
	if h.stopped.Load() {
		return ErrStopped
	}
	if !h.started.CompareAndSwap(false, true) {
		return nil
	}

	_, err := h.cron.AddFunc("@every "+h.interval.String(), func() {
		if err := h.HarvestNow(context.Background()); err != nil && !errors.Is(err, ErrEmptyBatch) {
			h.log.Warn(context.Background(), "harvest cycle failed",
				slog.String("error", err.Error()))
		}
		h.reapOrphans()
	})
	if err != nil {
		return err
	}
	h.cron.Start()
	return nil
}

// Shutdown 停止周期采集并做最后一次冲刷。
// ctx 限定等待在途周期与最终冲刷的时间。重复调用为 no-op。
func (h *Harvester) Shutdown(ctx context.Context) error {
	if !h.stopped.CompareAndSwap(false, true) {
		return nil
	}
	stopCtx := h.cron.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-stopCtx.Done():
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		err := h.HarvestNow(gctx)
		if errors.Is(err, ErrEmptyBatch) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// HarvestNow 立即执行一次采集：取空蓄水池与聚合表、导出，
// 失败时按原优先级合并回去等下个周期。没有数据时返回 ErrEmptyBatch。
func (h *Harvester) HarvestNow(ctx context.Context) error {
	entries, stats := h.buf.Drain()
	metrics := h.swapMetrics()

	if len(entries) == 0 && len(metrics) == 0 {
		return ErrEmptyBatch
	}

	batch := &Batch{
		Events:      make([]Event, 0, len(entries)),
		Metrics:     metrics,
		Stats:       stats,
		HarvestedAt: time.Now(),
	}
	for _, e := range entries {
		batch.Events = append(batch.Events, Event{Priority: e.Priority, Result: e.Value})
	}

	started := time.Now()
	err := h.export(ctx, batch)
	h.metrics.RecordHarvest(ctx, len(batch.Events), stats.Dropped, time.Since(started), err)

	if err != nil {
		// 失败的周期不丢数据：事件按原优先级回到蓄水池，
		// 指标合并回聚合表，与新数据一起参与下个周期
		for _, e := range entries {
			h.buf.Append(e.Priority, func() *xtracer.Result { return e.Value })
		}
		h.mergeMetrics(metrics)
		h.log.Warn(ctx, "harvest export failed, batch merged back",
			slog.Int("events", len(batch.Events)),
			slog.String("error", err.Error()))
		return err
	}

	h.log.Debug(ctx, "harvest exported",
		slog.Int("events", len(batch.Events)),
		slog.Int("metrics", len(metrics)),
		slog.Uint64("seen", stats.Seen),
		slog.Uint64("dropped", stats.Dropped))
	return nil
}

// export 带超时、重试与熔断的导出。
func (h *Harvester) export(ctx context.Context, batch *Batch) error {
	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	_, err := h.breaker.Execute(func() (any, error) {
		return nil, retry.New(
			retry.Context(cctx),
			retry.Attempts(uint(h.maxRetries+1)),
			retry.Delay(200*time.Millisecond),
			retry.MaxDelay(2*time.Second),
			retry.LastErrorOnly(true),
		).Do(func() error {
			return h.exporter.Export(cctx, batch)
		})
	})
	return err
}

// reapOrphans 强制提交开启过久仍未结束的事务。
func (h *Harvester) reapOrphans() {
	timeout := time.Duration(h.orphanTimeout.Load())
	if timeout <= 0 || h.lister == nil {
		return
	}

	var reaped int
	h.lister.ActiveTransactions(func(t *xtracer.Transaction) bool {
		if !t.Ended() && time.Since(t.StartTime()) > timeout {
			t.Abandon()
			reaped++
		}
		return true
	})
	if reaped > 0 {
		h.metrics.RecordReaped(context.Background(), reaped)
		h.log.Warn(context.Background(), "reaped orphan transactions",
			slog.Int("count", reaped),
			slog.Duration("timeout", timeout))
	}
}

// SetEventCapacity 热更新蓄水池容量：缩容时淘汰最低优先级事件，
// 扩容不丢数据。
func (h *Harvester) SetEventCapacity(n int) error {
	return h.buf.SetCapacity(n)
}

// EventCapacity 返回当前蓄水池容量。
func (h *Harvester) EventCapacity() int {
	return h.buf.Capacity()
}

// SetOrphanTimeout 热更新孤儿回收阈值，0 表示不回收。
func (h *Harvester) SetOrphanTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	h.orphanTimeout.Store(int64(d))
}

// BufferStats 返回蓄水池自上次采集以来的统计。
func (h *Harvester) BufferStats() xreservoir.Stats {
	return h.buf.Stats()
}

func (h *Harvester) mergeMetrics(src map[string]xtracer.Metric) {
	if len(src) == 0 {
		return
	}
	h.aggMu.Lock()
	defer h.aggMu.Unlock()
	for name, m := range src {
		cur, ok := h.agg[name]
		if !ok {
			h.agg[name] = m
			continue
		}
		cur.Count += m.Count
		cur.Total += m.Total
		if m.Min < cur.Min {
			cur.Min = m.Min
		}
		if m.Max > cur.Max {
			cur.Max = m.Max
		}
		h.agg[name] = cur
	}
}

func (h *Harvester) swapMetrics() map[string]xtracer.Metric {
	h.aggMu.Lock()
	defer h.aggMu.Unlock()
	out := h.agg
	h.agg = make(map[string]xtracer.Metric)
	if len(out) == 0 {
		return nil
	}
	return out
}
