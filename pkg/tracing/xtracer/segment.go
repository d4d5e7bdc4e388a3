package xtracer

import (
	"sync"
	"time"

	"github.com/omeyang/tracekit/pkg/tracing/xcontext"
)

// Segment 事务段树中的一个计时节点。
//
// Segment 由其所属 [Transaction] 独占拥有；执行上下文只通过注册表的
// "当前段"指针引用它。parent 是非拥有的回指；children 只追加，
// 允许多个执行上下文并发写入（跨上下文传播时的包装段）。
//
// 通过 StartSegment 在无活跃事务的上下文上创建的段是游离段：
// 不挂进任何树、不改变注册表状态，但同样满足 End 契约。
type Segment struct {
	id      int64
	spanID  string
	name    string
	start   time.Time
	txn     *Transaction // nil 表示游离段
	parent  *Segment     // 非拥有回指
	ctxID   xcontext.ID  // 创建该段的执行上下文

	mu       sync.Mutex
	end      time.Time
	finished bool
	children []*Segment
	unscoped []string
}

// Unit 可结束的被追踪工作单元：*Segment 或 *Transaction。
// StartTransactionOrSegment 返回此接口，调用方对两种结果统一 End。
type Unit interface {
	End()
}

// 编译时接口检查
var (
	_ Unit = (*Segment)(nil)
	_ Unit = (*Transaction)(nil)
)

// ID 返回段 ID（Sonyflake；退化路径为负数）。
func (s *Segment) ID() int64 { return s.id }

// SpanID 返回段的 span ID（16 位小写十六进制）。
func (s *Segment) SpanID() string { return s.spanID }

// Name 返回段名。
func (s *Segment) Name() string { return s.name }

// StartTime 返回段的开始时间。
func (s *Segment) StartTime() time.Time { return s.start }

// EndTime 返回段的结束时间；未结束时为零值。
func (s *Segment) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end
}

// Finished 返回段是否已结束。
func (s *Segment) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Duration 返回段的持续时间；未结束时为 0。
func (s *Segment) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		return 0
	}
	return s.end.Sub(s.start)
}

// Parent 返回父段；根段与游离段返回 nil。
func (s *Segment) Parent() *Segment { return s.parent }

// Children 返回子段的快照副本。
func (s *Segment) Children() []*Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Segment, len(s.children))
	copy(out, s.children)
	return out
}

// Transaction 返回段所属的事务；游离段返回 nil。
func (s *Segment) Transaction() *Transaction { return s.txn }

// UnscopedMetrics 返回段携带的非作用域指标名副本。
func (s *Segment) UnscopedMetrics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.unscoped))
	copy(out, s.unscoped)
	return out
}

// addChild 追加子段。允许来自不同执行上下文的并发调用。
func (s *Segment) addChild(child *Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = append(s.children, child)
}

// End 结束段：记录结束时间、标记完成、把所属执行上下文的当前段
// 恢复为本段的父段。
//
// 幂等：重复调用为 no-op。同一执行上下文内 End 总是排在自身 Start
// 之后；不同上下文创建的兄弟段可以以任意相对顺序结束。
func (s *Segment) End() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.end = time.Now()
	s.finished = true
	s.mu.Unlock()

	if s.txn == nil {
		return // 游离段：无树、无注册表状态
	}

	// 恢复创建上下文的当前段为父段；根段结束后上下文没有当前段。
	// 条件恢复：上下文若已换绑其他事务（本段在事务结束后迟到 End），
	// 不得覆盖新事务的当前段指针。
	if reg := s.txn.registry(); reg != nil {
		if s.parent != nil {
			reg.SetCurrentSegmentIf(s.ctxID, s.txn, s.parent)
		} else {
			reg.ClearCurrentSegmentIf(s.ctxID, s.txn)
		}
	}

	s.txn.segmentFinished()
}
