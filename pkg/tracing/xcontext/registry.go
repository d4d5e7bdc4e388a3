package xcontext

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ID 执行上下文的不透明身份标识。
// 在执行上下文的生命周期内唯一，由 Attach 分配。
type ID string

// contextKey context.Context 内嵌 ID 的私有 key 类型
type contextKey struct{}

// Registry 执行上下文注册表。
//
// T 是事务指针类型，S 是段指针类型（T 需可比较，供条件恢复路径
// 确认绑定归属；均应为指针或接口，便于零值判断由注册表内部的 has
// 标志承担）。所有方法并发安全。
// 零值不可用，必须通过 [NewRegistry] 创建。
type Registry[T comparable, S any] struct {
	entries sync.Map // ID -> *entry[T, S]
	seq     atomic.Uint64
	size    atomic.Int64
}

// entry 单个执行上下文的状态。
// 初始 Bind 竞争之外，条目只会被其所属的执行上下文修改；
// mu 同时保护两条竞争路径。
type entry[T comparable, S any] struct {
	mu   sync.Mutex
	kind Kind
	seq  uint64

	txn    T
	bound  bool
	seg    S
	hasSeg bool
}

// NewRegistry 创建执行上下文注册表。
func NewRegistry[T comparable, S any]() *Registry[T, S] {
	return &Registry[T, S]{}
}

// Attach 注册一个新的执行上下文，返回嵌入了 ID 的派生 context。
//
// 每次调用都会分配新的 ID 与序号——Attach 定义执行上下文的边界，
// 同一个 goroutine 重复 Attach 会得到互相独立的上下文。
// 调用方必须在执行单元结束时调用 Detach（或 Release）注销。
func (r *Registry[T, S]) Attach(ctx context.Context, kind Kind) (context.Context, ID) {
	if ctx == nil {
		ctx = context.Background()
	}
	id := ID(uuid.NewString())
	e := &entry[T, S]{
		kind: kind,
		seq:  r.seq.Add(1),
	}
	r.entries.Store(id, e)
	r.size.Add(1)
	return context.WithValue(ctx, contextKey{}, id), id
}

// FromContext 提取 context 中的执行上下文 ID。
// 未 Attach 过的 context 返回 ("", false)。
func (r *Registry[T, S]) FromContext(ctx context.Context) (ID, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(contextKey{}).(ID)
	if !ok {
		return "", false
	}
	// ID 可能来自其他注册表实例或已被注销，确认条目仍然存在
	if _, exists := r.entries.Load(id); !exists {
		return "", false
	}
	return id, true
}

// Detach 注销 context 中的执行上下文。
// context 未 Attach 时为 no-op。
func (r *Registry[T, S]) Detach(ctx context.Context) {
	if id, ok := r.FromContext(ctx); ok {
		r.Release(id)
	}
}

// Release 按 ID 注销执行上下文，清除其全部状态。
// 这是强制性的：注册表不会自动回收条目。重复 Release 为 no-op。
func (r *Registry[T, S]) Release(id ID) {
	if _, loaded := r.entries.LoadAndDelete(id); loaded {
		r.size.Add(-1)
	}
}

// Info 返回执行上下文的类别与序号。
func (r *Registry[T, S]) Info(id ID) (Kind, uint64, bool) {
	e, ok := r.load(id)
	if !ok {
		return 0, 0, false
	}
	return e.kind, e.seq, true
}

// Bind 将事务绑定到执行上下文（compare-and-set）。
//
// 同一 ID 上的并发 Bind 恰好一个成功，其余返回 ErrAlreadyBound；
// 未注册的 ID 返回 ErrNotAttached。
func (r *Registry[T, S]) Bind(id ID, txn T) error {
	e, ok := r.load(id)
	if !ok {
		return ErrNotAttached
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bound {
		return ErrAlreadyBound
	}
	e.txn = txn
	e.bound = true
	return nil
}

// Unbind 解除执行上下文的事务绑定，同时清除当前段。
// 未注册或未绑定时为 no-op。
func (r *Registry[T, S]) Unbind(id ID) {
	e, ok := r.load(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var zeroT T
	var zeroS S
	e.txn = zeroT
	e.bound = false
	e.seg = zeroS
	e.hasSeg = false
}

// CurrentTransaction 返回执行上下文当前绑定的事务。
func (r *Registry[T, S]) CurrentTransaction(id ID) (T, bool) {
	var zero T
	e, ok := r.load(id)
	if !ok {
		return zero, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound {
		return zero, false
	}
	return e.txn, true
}

// CurrentSegment 返回执行上下文的当前段。
func (r *Registry[T, S]) CurrentSegment(id ID) (S, bool) {
	var zero S
	e, ok := r.load(id)
	if !ok {
		return zero, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasSeg {
		return zero, false
	}
	return e.seg, true
}

// SetCurrentSegment 设置执行上下文的当前段。
// 未注册的 ID 上为 no-op。
func (r *Registry[T, S]) SetCurrentSegment(id ID, seg S) {
	e, ok := r.load(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seg = seg
	e.hasSeg = true
}

// SetCurrentSegmentIf 仅当执行上下文仍绑定 owner 事务时设置当前段，
// 返回是否生效。
//
// 用于迟到的段结束：段所属事务结束后，上下文可能已换绑新事务，
// 旧树的恢复不得覆盖新事务的当前段指针。
func (r *Registry[T, S]) SetCurrentSegmentIf(id ID, owner T, seg S) bool {
	e, ok := r.load(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound || e.txn != owner {
		return false
	}
	e.seg = seg
	e.hasSeg = true
	return true
}

// ClearCurrentSegmentIf 仅当执行上下文仍绑定 owner 事务时清除当前段，
// 返回是否生效。
func (r *Registry[T, S]) ClearCurrentSegmentIf(id ID, owner T) bool {
	e, ok := r.load(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound || e.txn != owner {
		return false
	}
	var zero S
	e.seg = zero
	e.hasSeg = false
	return true
}

// ClearCurrentSegment 清除执行上下文的当前段（事务仍保持绑定）。
func (r *Registry[T, S]) ClearCurrentSegment(id ID) {
	e, ok := r.load(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var zero S
	e.seg = zero
	e.hasSeg = false
}

// Range 遍历所有已绑定事务的执行上下文。fn 返回 false 时停止遍历。
// 遍历是弱一致的快照（sync.Map 语义），遍历期间的并发变更可能可见
// 也可能不可见；用于采集层的孤儿巡检足够。
func (r *Registry[T, S]) Range(fn func(id ID, txn T) bool) {
	r.entries.Range(func(k, v any) bool {
		e, ok := v.(*entry[T, S])
		if !ok {
			return true
		}
		e.mu.Lock()
		txn, bound := e.txn, e.bound
		e.mu.Unlock()
		if !bound {
			return true
		}
		return fn(k.(ID), txn)
	})
}

// Len 返回当前注册的执行上下文数量。
// 用于泄漏检测：长期运行的进程中该值应当围绕并发度波动而非单调增长。
func (r *Registry[T, S]) Len() int {
	return int(r.size.Load())
}

func (r *Registry[T, S]) load(id ID) (*entry[T, S], bool) {
	v, ok := r.entries.Load(id)
	if !ok {
		return nil, false
	}
	e, ok := v.(*entry[T, S])
	return e, ok
}
