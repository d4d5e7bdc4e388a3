package xtracer

import (
	"fmt"
	"sync"
	"time"

	"github.com/omeyang/tracekit/pkg/tracing/xcontext"
)

// Transaction 一次被追踪的逻辑工作单元（请求、后台任务等）。
//
// 事务独占拥有它的段树。提交门槛：事务已 End 且所有执行上下文中
// 由它派生的段全部结束后，恰好提交一次。段在事务 End 之后结束
// 是合法的（跨 goroutine 传播时的常态）。
//
// 设计决策: 提交判定在 txn.mu 内完成（设置 committed 标志），
// 实际提交调用在锁外执行，避免 Committer 回调持有事务锁造成死锁。
type Transaction struct {
	tracer       *Tracer
	name         string
	partial      string
	category     Category
	start        time.Time
	root         *Segment
	primaryCtx   xcontext.ID
	autoAttached bool // StartTransaction 自动附加的上下文随 End 一并释放

	mu           sync.Mutex
	traceID      string
	parentSpanID string // 来自接受的传播载荷；本地根事务为空
	priority     float64
	sampled      bool
	accepted     bool
	open         int // 未结束段计数（含根段）
	ended        bool
	committed    bool
	errs         []ErrorEvent
}

// ErrorEvent 事务上记录的一次错误。
type ErrorEvent struct {
	Message string
	Class   string
	Time    time.Time
}

// Metric 一个指标名下的聚合时长统计。
type Metric struct {
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Result 事务提交时产出的不可变摘要。
type Result struct {
	Name         string
	Category     Category
	TraceID      string
	ParentSpanID string
	RootSpanID   string
	Start        time.Time
	Duration     time.Duration
	Sampled      bool
	Priority     float64
	Errors       []ErrorEvent
	Metrics      map[string]Metric
	SegmentCount int
}

// Committer 接收已提交事务的摘要。实现方不得阻塞过久；
// panic 会被追踪器吞掉并记录，不影响业务 goroutine。
type Committer interface {
	Commit(res *Result) error
}

// Name 返回派生后的完整事务名。
func (t *Transaction) Name() string { return t.name }

// Category 返回事务类别。
func (t *Transaction) Category() Category { return t.category }

// TraceID 返回事务的 trace ID（32 位小写十六进制）。
// 接受传播载荷后继承上游的 trace ID。
func (t *Transaction) TraceID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.traceID
}

// Priority 返回事务的采样优先级，范围 [0,1)。
func (t *Transaction) Priority() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// Sampled 返回事务是否被采样。
func (t *Transaction) Sampled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampled
}

// CreatePayload 产出一个用于跨进程关联的传播载荷。
// 分布式追踪关闭时返回 nil。载荷中的 span ID 取当前段
// （调用方上下文的活跃段），无活跃段时退回根段。
func (t *Transaction) CreatePayload(spanID string) *Payload {
	if t.tracer != nil && !t.tracer.DistributedTracing() {
		return nil
	}
	if spanID == "" {
		spanID = t.root.spanID
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Payload{
		TraceID:  t.traceID,
		SpanID:   spanID,
		Priority: t.priority,
		Sampled:  t.sampled,
	}
}

// AcceptPayload 接受上游进程的传播载荷：继承其 trace ID、优先级
// 与采样决定，并把上游 span 记为本事务的父 span。
//
// 每个事务最多接受一次；nil 载荷、重复接受、已结束的事务均为
// no-op。非法载荷返回 ErrInvalidPayload。
func (t *Transaction) AcceptPayload(p *Payload) error {
	if p == nil {
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.accepted || t.ended {
		return nil
	}
	t.accepted = true
	t.traceID = p.TraceID
	t.parentSpanID = p.SpanID
	t.priority = p.Priority
	t.sampled = p.Sampled
	return nil
}

// StartTime 返回事务开始时间。
func (t *Transaction) StartTime() time.Time { return t.start }

// Root 返回根段。
func (t *Transaction) Root() *Segment { return t.root }

// Ended 返回事务是否已调用过 End。
func (t *Transaction) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// NoticeError 在事务上记录一个错误。nil 与已提交的事务为 no-op。
func (t *Transaction) NoticeError(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return
	}
	t.errs = append(t.errs, ErrorEvent{
		Message: err.Error(),
		Class:   fmt.Sprintf("%T", err),
		Time:    time.Now(),
	})
}

// segmentOpened 记录一个新开的段。
func (t *Transaction) segmentOpened() {
	t.mu.Lock()
	t.open++
	t.mu.Unlock()
}

// segmentFinished 记录一个段的结束，并在满足提交门槛时提交。
func (t *Transaction) segmentFinished() {
	t.mu.Lock()
	t.open--
	commit := t.ended && t.open == 0 && !t.committed
	if commit {
		t.committed = true
	}
	t.mu.Unlock()
	if commit {
		t.tracer.commit(t)
	}
}

// End 结束事务：解绑主执行上下文、结束根段，并在所有段均已结束时
// 提交。幂等：重复调用为 no-op。
//
// 在其他执行上下文中仍未结束的段会推迟提交；最后一个段结束的那个
// goroutine 负责触发提交。
func (t *Transaction) End() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	primary := t.primaryCtx
	auto := t.autoAttached
	t.mu.Unlock()

	if reg := t.registry(); reg != nil {
		reg.Unbind(primary)
		if auto {
			reg.Release(primary)
		}
	}

	// 根段结束会经由 segmentFinished 触发提交判定
	t.root.End()

	// 根段此前已被单独结束时，上面的 End 是 no-op，需要补一次判定
	t.mu.Lock()
	commit := t.open == 0 && !t.committed
	if commit {
		t.committed = true
	}
	t.mu.Unlock()
	if commit {
		t.tracer.commit(t)
	}
}

// Abandon 强制提交一个疑似孤儿的事务：不等待未结束的段，立即
// 结束根段、解绑并提交。供采集层的超时巡检使用——执行上下文
// 已消亡的事务永远等不到它的段结束。
//
// 幂等；与正常提交路径互斥（committed 标志只翻转一次）。残留的
// 段之后调用 End 仍然安全，只是不再触发第二次提交。
func (t *Transaction) Abandon() {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return
	}
	t.ended = true
	t.committed = true
	primary := t.primaryCtx
	auto := t.autoAttached
	t.mu.Unlock()

	if reg := t.registry(); reg != nil {
		reg.Unbind(primary)
		if auto {
			reg.Release(primary)
		}
	}

	t.root.mu.Lock()
	if !t.root.finished {
		t.root.end = time.Now()
		t.root.finished = true
	}
	t.root.mu.Unlock()

	t.tracer.commit(t)
}

func (t *Transaction) registry() *xcontext.Registry[*Transaction, *Segment] {
	if t.tracer == nil {
		return nil
	}
	return t.tracer.reg
}

// buildResult 把已提交事务折叠为摘要。
//
// 正常提交路径上所有段均已结束、树不再变化；Abandon 路径上可能
// 仍有段在并发结束，逐段持锁读取，未结束的段按零时长计入。
func (t *Transaction) buildResult() *Result {
	metrics := make(map[string]Metric)
	count := 0

	var walk func(s *Segment)
	walk = func(s *Segment) {
		s.mu.Lock()
		end, finished := s.end, s.finished
		unscoped := append([]string(nil), s.unscoped...)
		children := append([]*Segment(nil), s.children...)
		s.mu.Unlock()

		count++
		var d time.Duration
		if finished {
			d = end.Sub(s.start)
		}
		record(metrics, s.name, d)
		for _, u := range unscoped {
			record(metrics, u, d)
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(t.root)

	t.mu.Lock()
	errs := make([]ErrorEvent, len(t.errs))
	copy(errs, t.errs)
	res := &Result{
		Name:         t.name,
		Category:     t.category,
		TraceID:      t.traceID,
		ParentSpanID: t.parentSpanID,
		RootSpanID:   t.root.spanID,
		Start:        t.start,
		Duration:     t.root.EndTime().Sub(t.start),
		Sampled:      t.sampled,
		Priority:     t.priority,
		Errors:       errs,
		Metrics:      metrics,
		SegmentCount: count,
	}
	t.mu.Unlock()
	return res
}

func record(m map[string]Metric, name string, d time.Duration) {
	cur, ok := m[name]
	if !ok {
		m[name] = Metric{Count: 1, Total: d, Min: d, Max: d}
		return
	}
	cur.Count++
	cur.Total += d
	if d < cur.Min {
		cur.Min = d
	}
	if d > cur.Max {
		cur.Max = d
	}
	m[name] = cur
}
