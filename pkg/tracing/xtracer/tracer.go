package xtracer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/omeyang/tracekit/pkg/observability/xlog"
	"github.com/omeyang/tracekit/pkg/observability/xreservoir"
	"github.com/omeyang/tracekit/pkg/tracing/xcontext"
)

// Tracer 追踪内核的门面：跨 Registry、Transaction、Segment 协调
// start / current / finish，并实现跨执行上下文传播。
//
// 故障边界：start/finish/commit 机制内部的任何失败都被吞掉并记录
// 日志，绝不影响被监控的业务代码；业务代码自身的 panic 与错误
// 原样穿透，仅被记录到活跃事务上。
//
// 设计决策: distributed/autoPropagate/sampleRate 用原子量而不是
// 配置快照，允许运行期热更新（配置监听回调直接调 Set* 即可），
// 读路径无锁。
type Tracer struct {
	reg       *xcontext.Registry[*Transaction, *Segment]
	committer Committer
	log       xlog.Logger
	names     *nameCache
	segIDs    *segmentIDs

	distributed   atomic.Bool
	autoPropagate atomic.Bool
	sampleRate    atomic.Uint64 // math.Float64bits
}

// Option 配置 Tracer。
type Option func(*options)

type options struct {
	committer     Committer
	logger        xlog.Logger
	distributed   bool
	autoPropagate bool
	sampleRate    float64
	nameCacheSize int
}

// WithCommitter 设置事务提交的接收方（通常是采集器）。
// 缺省丢弃提交结果。
func WithCommitter(c Committer) Option {
	return func(o *options) { o.committer = c }
}

// WithLogger 设置内部故障日志的记录器，缺省为 no-op。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDistributedTracing 开关分布式追踪（传播载荷的产出）。
func WithDistributedTracing(enabled bool) Option {
	return func(o *options) { o.distributed = enabled }
}

// WithAutoPropagation 开关隐式跨上下文传播：开启后 Go 等价于
// GoTraced；关闭时新上下文不继承任何事务。
func WithAutoPropagation(enabled bool) Option {
	return func(o *options) { o.autoPropagate = enabled }
}

// WithSampleRate 设置采样率，取值被钳制到 [0,1]。
func WithSampleRate(rate float64) Option {
	return func(o *options) { o.sampleRate = rate }
}

// WithNameCacheSize 设置事务名派生缓存的容量。
func WithNameCacheSize(size int) Option {
	return func(o *options) { o.nameCacheSize = size }
}

// New 创建 Tracer。
func New(opts ...Option) (*Tracer, error) {
	o := &options{
		distributed: true,
		sampleRate:  1.0,
	}
	for _, fn := range opts {
		fn(o)
	}

	segIDs, err := newSegmentIDs()
	if err != nil {
		return nil, fmt.Errorf("xtracer: init segment id generator: %w", err)
	}

	tr := &Tracer{
		reg:       xcontext.NewRegistry[*Transaction, *Segment](),
		committer: o.committer,
		log:       xlog.OrNop(o.logger),
		names:     newNameCache(o.nameCacheSize),
		segIDs:    segIDs,
	}
	tr.distributed.Store(o.distributed)
	tr.autoPropagate.Store(o.autoPropagate)
	tr.SetSampleRate(o.sampleRate)
	return tr, nil
}

// SetDistributedTracing 运行期开关分布式追踪。
func (tr *Tracer) SetDistributedTracing(enabled bool) { tr.distributed.Store(enabled) }

// DistributedTracing 返回分布式追踪是否开启。
func (tr *Tracer) DistributedTracing() bool { return tr.distributed.Load() }

// SetAutoPropagation 运行期开关隐式跨上下文传播。
func (tr *Tracer) SetAutoPropagation(enabled bool) { tr.autoPropagate.Store(enabled) }

// AutoPropagation 返回隐式传播是否开启。
func (tr *Tracer) AutoPropagation() bool { return tr.autoPropagate.Load() }

// SetSampleRate 运行期调整采样率，取值被钳制到 [0,1]。
func (tr *Tracer) SetSampleRate(rate float64) {
	if rate < 0 || math.IsNaN(rate) {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	tr.sampleRate.Store(math.Float64bits(rate))
}

// SampleRate 返回当前采样率。
func (tr *Tracer) SampleRate() float64 {
	return math.Float64frombits(tr.sampleRate.Load())
}

// ActiveTransactions 遍历当前绑定在任一执行上下文上的事务，
// 供采集层做孤儿巡检。同一事务绑定多个上下文时会被回调多次，
// fn 返回 false 时停止遍历。
func (tr *Tracer) ActiveTransactions(fn func(*Transaction) bool) {
	tr.reg.Range(func(_ xcontext.ID, txn *Transaction) bool {
		return fn(txn)
	})
}

// Registry 返回底层执行上下文注册表。
func (tr *Tracer) Registry() *xcontext.Registry[*Transaction, *Segment] { return tr.reg }

// TxnOption 配置 StartTransaction。
type TxnOption func(*txnOptions)

type txnOptions struct {
	payload     *Payload
	priorityKey string
	fullName    string
}

// WithPayload 在事务创建时接受上游传播载荷。
// 等价于创建后立即 AcceptPayload。
func WithPayload(p *Payload) TxnOption {
	return func(o *txnOptions) { o.payload = p }
}

// WithPriorityKey 用确定性键派生采样优先级（而非随机数）。
// 同一个键在所有进程中得到相同优先级，跨服务的采样决定一致。
func WithPriorityKey(key string) TxnOption {
	return func(o *txnOptions) { o.priorityKey = key }
}

// WithFullName 直接指定完整的根指标名，跳过类别前缀派生。
// 供调用方已持有最终指标名的场景；category 仍然必填，只参与
// 分类统计而不再拼接名字。空串时回落到部分名派生。
func WithFullName(name string) TxnOption {
	return func(o *txnOptions) { o.fullName = name }
}

// StartTransaction 在 ctx 对应的执行上下文中开启一个新事务。
//
// ctx 未附加执行上下文时自动附加一个 Primary 上下文，该上下文随
// 事务 End 一并释放；已附加的上下文由调用方负责 Detach。
//
// 同一上下文的并发 StartTransaction 只有一个赢家（注册表 CAS）；
// 输家得到赢家的事务，不产生新事务。category 缺失或未知时返回
// ErrMissingCategory / ErrInvalidCategory。
func (tr *Tracer) StartTransaction(ctx context.Context, partial string, category Category, opts ...TxnOption) (context.Context, *Transaction, error) {
	if tr == nil {
		return ctx, nil, ErrNilTracer
	}
	if category == "" {
		return ctx, nil, ErrMissingCategory
	}
	if !category.Valid() {
		return ctx, nil, ErrInvalidCategory
	}

	o := &txnOptions{}
	for _, fn := range opts {
		fn(o)
	}

	id, attached := tr.reg.FromContext(ctx)
	auto := false
	if !attached {
		ctx, id = tr.reg.Attach(ctx, xcontext.KindPrimary)
		auto = true
	}

	priority := rand.Float64()
	if o.priorityKey != "" {
		priority = xreservoir.PriorityFromKey(o.priorityKey)
	}

	name := tr.names.derive(partial, category)
	if o.fullName != "" {
		name = o.fullName
	}

	now := time.Now()
	txn := &Transaction{
		tracer:       tr,
		name:         name,
		partial:      partial,
		category:     category,
		traceID:      newTraceID(),
		priority:     priority,
		sampled:      tr.DistributedTracing() && priority < tr.SampleRate(),
		start:        now,
		primaryCtx:   id,
		autoAttached: auto,
		open:         1, // 根段
	}
	txn.root = &Segment{
		id:     tr.segIDs.next(),
		spanID: newSpanID(),
		name:   txn.name,
		start:  now,
		txn:    txn,
		ctxID:  id,
	}

	if err := tr.reg.Bind(id, txn); err != nil {
		if winner, ok := tr.reg.CurrentTransaction(id); ok {
			// CAS 竞争的输家：丢弃未挂接的事务，复用赢家
			return ctx, winner, nil
		}
		return ctx, nil, err
	}
	tr.reg.SetCurrentSegment(id, txn.root)

	if o.payload != nil {
		if err := txn.AcceptPayload(o.payload); err != nil {
			tr.log.Warn(ctx, "reject inbound trace payload",
				slog.String("trace_id", txn.TraceID()),
				slog.String("error", err.Error()))
		}
	}
	return ctx, txn, nil
}

// SegOption 配置 StartSegment。
type SegOption func(*segOptions)

type segOptions struct {
	parent   *Segment
	start    time.Time
	unscoped []string
}

// WithParent 显式指定父段（缺省为所在上下文的当前段）。
// 用于把段挂到另一个执行上下文正在构建的树上。
func WithParent(parent *Segment) SegOption {
	return func(o *segOptions) { o.parent = parent }
}

// WithStartTime 回填段的开始时间（缺省为当前时间）。
func WithStartTime(t time.Time) SegOption {
	return func(o *segOptions) { o.start = t }
}

// WithUnscopedMetrics 给段附加非作用域指标名，提交时与段时长
// 一并聚合进事务摘要。
func WithUnscopedMetrics(names ...string) SegOption {
	return func(o *segOptions) { o.unscoped = names }
}

// StartSegment 在当前事务下开启一个段。
//
// 永不失败：ctx 没有活跃事务（或事务已 End）时返回游离段——
// 计时照常、End 契约不变，但不进任何树、不动注册表。
func (tr *Tracer) StartSegment(ctx context.Context, name string, opts ...SegOption) *Segment {
	o := &segOptions{}
	for _, fn := range opts {
		fn(o)
	}
	start := o.start
	if start.IsZero() {
		start = time.Now()
	}

	var (
		ctxID xcontext.ID
		txn   *Transaction
	)
	if tr != nil {
		if id, ok := tr.reg.FromContext(ctx); ok {
			if t, bound := tr.reg.CurrentTransaction(id); bound {
				ctxID, txn = id, t
			}
		}
	}

	parent := o.parent
	if parent != nil && parent.txn != nil {
		// 显式父段优先：段归属父段所在的事务
		txn = parent.txn
	}
	if parent == nil && txn != nil {
		if cur, ok := tr.reg.CurrentSegment(ctxID); ok {
			parent = cur
		} else {
			parent = txn.root
		}
	}

	if txn == nil || txn.Ended() {
		return &Segment{name: name, start: start, unscoped: o.unscoped}
	}

	seg := &Segment{
		id:       tr.segIDs.next(),
		spanID:   newSpanID(),
		name:     name,
		start:    start,
		txn:      txn,
		parent:   parent,
		unscoped: o.unscoped,
	}
	txn.segmentOpened()
	parent.addChild(seg)

	// 仅当段开在自己上下文的事务里时才推进当前段指针
	if ctxID != "" && txn == fromCtxTxn(tr, ctxID) {
		seg.ctxID = ctxID
		tr.reg.SetCurrentSegment(ctxID, seg)
	}
	return seg
}

func fromCtxTxn(tr *Tracer, id xcontext.ID) *Transaction {
	t, _ := tr.reg.CurrentTransaction(id)
	return t
}

// StartTransactionOrSegment 委托式入口：ctx 已有活跃事务时嵌套为
// 段（此时 category 可为空），否则开启新事务。两种结果统一以
// Unit.End 收尾。
func (tr *Tracer) StartTransactionOrSegment(ctx context.Context, partial string, category Category, opts ...TxnOption) (context.Context, Unit, error) {
	if tr == nil {
		return ctx, nil, ErrNilTracer
	}
	if id, ok := tr.reg.FromContext(ctx); ok {
		if txn, bound := tr.reg.CurrentTransaction(id); bound && !txn.Ended() {
			return ctx, tr.StartSegment(ctx, partial), nil
		}
	}
	nctx, txn, err := tr.StartTransaction(ctx, partial, category, opts...)
	if err != nil {
		return ctx, nil, err
	}
	return nctx, txn, nil
}

// InTransaction 在事务（或嵌套段）中执行 scope。
//
// scope 返回的错误被记录到活跃事务后原样返回；scope 的 panic 被
// 记录后原样重抛。追踪自身无法启动时降级执行：scope 照常运行，
// 只是不被记录。无论哪条路径，被追踪工作的结果都不被改变。
func (tr *Tracer) InTransaction(ctx context.Context, partial string, category Category, scope func(context.Context) error) error {
	tctx, unit, err := tr.StartTransactionOrSegment(ctx, partial, category)
	if err != nil {
		tr.logOrNop().Warn(ctx, "tracing degraded: start failed, running scope untraced",
			slog.String("name", partial),
			slog.String("error", err.Error()))
		return scope(ctx)
	}

	defer func() {
		if r := recover(); r != nil {
			if txn := tr.CurrentTransaction(tctx); txn != nil {
				txn.NoticeError(fmt.Errorf("panic: %v", r))
			}
			unit.End()
			panic(r)
		}
	}()

	err = scope(tctx)
	if err != nil {
		if txn := tr.CurrentTransaction(tctx); txn != nil {
			txn.NoticeError(err)
		}
	}
	unit.End()
	return err
}

// CurrentTransaction 返回 ctx 上绑定的事务，没有则返回 nil。
func (tr *Tracer) CurrentTransaction(ctx context.Context) *Transaction {
	if tr == nil {
		return nil
	}
	id, ok := tr.reg.FromContext(ctx)
	if !ok {
		return nil
	}
	txn, _ := tr.reg.CurrentTransaction(id)
	return txn
}

// CurrentSegment 返回 ctx 上的当前段，没有则返回 nil。
func (tr *Tracer) CurrentSegment(ctx context.Context) *Segment {
	if tr == nil {
		return nil
	}
	id, ok := tr.reg.FromContext(ctx)
	if !ok {
		return nil
	}
	seg, _ := tr.reg.CurrentSegment(id)
	return seg
}

// Sampled 返回 ctx 上活跃事务的采样决定。无事务时为 false；
// 分布式追踪在运行期被关闭后，已有事务也报告 false。
func (tr *Tracer) Sampled(ctx context.Context) bool {
	if tr == nil || !tr.DistributedTracing() {
		return false
	}
	if txn := tr.CurrentTransaction(ctx); txn != nil {
		return txn.Sampled()
	}
	return false
}

// TraceID 返回 ctx 上活跃事务的 trace ID；无事务时为空串。
func (tr *Tracer) TraceID(ctx context.Context) string {
	if txn := tr.CurrentTransaction(ctx); txn != nil {
		return txn.TraceID()
	}
	return ""
}

// SpanID 返回 ctx 上当前段的 span ID；无当前段时退回根段，
// 无事务时为空串。
func (tr *Tracer) SpanID(ctx context.Context) string {
	if seg := tr.CurrentSegment(ctx); seg != nil {
		return seg.spanID
	}
	if txn := tr.CurrentTransaction(ctx); txn != nil {
		return txn.root.spanID
	}
	return ""
}

// CreatePayload 为 ctx 上的活跃事务产出传播载荷。
// 无活跃事务或分布式追踪关闭时返回 nil。
func (tr *Tracer) CreatePayload(ctx context.Context) *Payload {
	txn := tr.CurrentTransaction(ctx)
	if txn == nil {
		return nil
	}
	spanID := ""
	if seg := tr.CurrentSegment(ctx); seg != nil {
		spanID = seg.spanID
	}
	return txn.CreatePayload(spanID)
}

// AcceptPayload 把上游传播载荷接到 ctx 上的活跃事务。
// 无活跃事务时为 no-op。
func (tr *Tracer) AcceptPayload(ctx context.Context, p *Payload) error {
	txn := tr.CurrentTransaction(ctx)
	if txn == nil {
		return nil
	}
	return txn.AcceptPayload(p)
}

// Attach 把 ctx 登记为一个执行上下文并返回携带其 ID 的派生 ctx。
// 手动 Attach 的上下文由调用方负责 Detach。
func (tr *Tracer) Attach(ctx context.Context, kind xcontext.Kind) context.Context {
	nctx, _ := tr.reg.Attach(ctx, kind)
	return nctx
}

// Detach 注销 ctx 对应的执行上下文。
func (tr *Tracer) Detach(ctx context.Context) {
	tr.reg.Detach(ctx)
}

// Go 启动一个 goroutine。隐式传播开启时等价于 GoTraced；关闭时
// 新上下文不继承任何事务（仍获得一个干净的执行上下文）。
func (tr *Tracer) Go(ctx context.Context, fn func(context.Context)) {
	if tr.AutoPropagation() {
		tr.GoTraced(ctx, fn)
		return
	}
	go func() {
		nctx, id := tr.reg.Attach(context.WithoutCancel(ctx), xcontext.KindLightweight)
		defer tr.reg.Release(id)
		fn(nctx)
	}()
}

// GoTraced 启动一个继承当前事务的 goroutine：在新执行上下文里
// 绑定同一事务，并在父上下文当前段之下挂一个包装段（命名为
// "<上下文种类>/<序号>"），fn 正常返回时包装段自动结束。
//
// 父 ctx 没有活跃事务时退化为 Go 的无传播路径。包装段在调用方
// goroutine 内同步创建，保证父事务的提交门槛先于 fn 的执行计入
// 这个段。
func (tr *Tracer) GoTraced(ctx context.Context, fn func(context.Context)) {
	txn := tr.CurrentTransaction(ctx)
	if txn == nil || txn.Ended() {
		go func() {
			nctx, id := tr.reg.Attach(context.WithoutCancel(ctx), xcontext.KindLightweight)
			defer tr.reg.Release(id)
			fn(nctx)
		}()
		return
	}

	parent := tr.CurrentSegment(ctx)
	if parent == nil {
		parent = txn.root
	}

	nctx, id := tr.reg.Attach(context.WithoutCancel(ctx), xcontext.KindLightweight)
	kind, seq, _ := tr.reg.Info(id)
	wrapper := &Segment{
		id:     tr.segIDs.next(),
		spanID: newSpanID(),
		name:   kind.String() + "/" + strconv.FormatUint(seq, 10),
		start:  time.Now(),
		txn:    txn,
		parent: parent,
		ctxID:  id,
	}
	txn.segmentOpened()
	parent.addChild(wrapper)

	if err := tr.reg.Bind(id, txn); err != nil {
		// 全新上下文不可能已绑定；保底结束包装段并无传播执行
		tr.reg.Release(id)
		wrapper.End()
		go fn(context.WithoutCancel(ctx))
		return
	}
	tr.reg.SetCurrentSegment(id, wrapper)

	go func() {
		defer func() {
			wrapper.End()
			tr.reg.Unbind(id)
			tr.reg.Release(id)
		}()
		fn(nctx)
	}()
}

// commit 把已达提交门槛的事务折叠为摘要并交给 Committer。
// 提交路径的任何失败（含 Committer panic）都被隔离并记录。
func (tr *Tracer) commit(t *Transaction) {
	defer func() {
		if r := recover(); r != nil {
			tr.logOrNop().Stack(context.Background(), "panic during transaction commit",
				slog.String("txn", t.name),
				slog.Any("panic", r))
		}
	}()

	res := t.buildResult()
	if tr.committer == nil {
		return
	}
	if err := tr.committer.Commit(res); err != nil {
		tr.logOrNop().Warn(context.Background(), "transaction commit rejected",
			slog.String("txn", res.Name),
			slog.String("trace_id", res.TraceID),
			slog.String("error", err.Error()))
	}
}

func (tr *Tracer) logOrNop() xlog.Logger {
	if tr == nil {
		return xlog.Nop()
	}
	return xlog.OrNop(tr.log)
}
