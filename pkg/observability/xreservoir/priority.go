package xreservoir

import (
	"container/heap"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Entry 蓄水池中的一个事件及其优先级。
type Entry[T any] struct {
	// Priority 事件优先级，越高越值得保留
	Priority float64
	// Value 事件本身
	Value T

	// seq 到达序号，用于平局时的先到先留语义
	seq uint64
}

// entryHeap 小顶堆：堆顶总是当前最应被淘汰的事件。
//
// 排序键为 (priority 升序, seq 降序)：优先级相同的事件中，
// 后到者排在堆顶先被淘汰，保证先到先留。
type entryHeap[T any] []Entry[T]

func (h entryHeap[T]) Len() int { return len(h) }

func (h entryHeap[T]) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq > h[j].seq
}

func (h entryHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap[T]) Push(x any) {
	entry, _ := x.(Entry[T])
	*h = append(*h, entry)
}

func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	var zero Entry[T]
	old[n-1] = zero // 释放引用，便于 GC
	*h = old[:n-1]
	return entry
}

// PriorityBuffer 优先级蓄水池。
//
// 始终保留迄今优先级最高的 capacity 个事件。事件通过 factory 惰性构造：
// 只有确定保留时才调用 factory，被拒绝的低优先级事件零构造成本。
//
// 所有方法并发安全。零值不可用，必须通过 [NewPriorityBuffer] 创建。
type PriorityBuffer[T any] struct {
	mu       sync.RWMutex
	capacity int
	entries  entryHeap[T]
	stats    Stats
	seq      uint64
}

// NewPriorityBuffer 创建优先级蓄水池。
// capacity < 1 时返回 ErrInvalidCapacity。
func NewPriorityBuffer[T any](capacity int) (*PriorityBuffer[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &PriorityBuffer[T]{
		capacity: capacity,
		entries:  make(entryHeap[T], 0, capacity),
	}, nil
}

// Append 按优先级尝试追加事件。
//
// 决策规则：
//   - 未满：调用 factory，直接保留
//   - 已满且 priority 严格大于当前最小优先级：调用 factory，替换最小者，Dropped++
//   - 其余情况（包括平局）：不调用 factory，Dropped++，先到者保留
//
// Seen 无条件递增。返回 true 表示事件被保留。
//
// factory 在蓄水池互斥锁内执行，应当只做轻量构造（字段拷贝、结构体组装），
// 不要在其中做 I/O 或再次调用本蓄水池的方法（会死锁）。
// factory 为 nil 时该次到达按拒绝处理（计入 Seen 与 Dropped）。
func (b *PriorityBuffer[T]) Append(priority float64, factory func() T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Seen++
	if factory == nil {
		b.stats.Dropped++
		return false
	}

	b.seq++
	if len(b.entries) < b.capacity {
		heap.Push(&b.entries, Entry[T]{Priority: priority, Value: factory(), seq: b.seq})
		return true
	}

	// 已满：只有严格高于当前最小值才替换。平局不替换，
	// 避免无谓的 factory 调用与事件换入换出。
	if priority > b.entries[0].Priority {
		b.entries[0] = Entry[T]{Priority: priority, Value: factory(), seq: b.seq}
		heap.Fix(&b.entries, 0)
		b.stats.Dropped++
		return true
	}

	b.stats.Dropped++
	return false
}

// SetCapacity 调整容量。
//
// 扩容从不淘汰已有事件，也不改变 Dropped。
// 缩容到 k < size 时保留优先级最高的 k 个（平局先到先留），
// 被淘汰的 (size - k) 个计入 Dropped。
// capacity < 1 时返回 ErrInvalidCapacity。
func (b *PriorityBuffer[T]) SetCapacity(capacity int) error {
	if capacity < 1 {
		return ErrInvalidCapacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.entries) > capacity {
		heap.Pop(&b.entries)
		b.stats.Dropped++
	}
	b.capacity = capacity
	return nil
}

// Reset 清空事件并将统计归零。容量保持不变。
func (b *PriorityBuffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(entryHeap[T], 0, b.capacity)
	b.stats = Stats{}
	b.seq = 0
}

// Snapshot 返回当前保留事件值的独立副本（顺序未定义）。
// 之后对蓄水池或副本的修改互不影响。
func (b *PriorityBuffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.Value
	}
	return out
}

// Drain 原子地取走全部事件并将统计归零。
//
// 返回取走的事件（含优先级）与取走前的统计。用于周期性收割：
// 收割失败时可以将事件按原优先级 Append 回蓄水池（可能再次触发采样）。
func (b *PriorityBuffer[T]) Drain() ([]Entry[T], Stats) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.entries
	stats := b.stats
	b.entries = make(entryHeap[T], 0, b.capacity)
	b.stats = Stats{}
	b.seq = 0

	out := make([]Entry[T], len(entries))
	copy(out, entries)
	return out, stats
}

// Capacity 返回当前容量。
func (b *PriorityBuffer[T]) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// Size 返回当前保留的事件数。
func (b *PriorityBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Full 返回蓄水池是否已满（size == capacity）。
func (b *PriorityBuffer[T]) Full() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries) == b.capacity
}

// Stats 返回累计统计的副本。
func (b *PriorityBuffer[T]) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// MinPriority 返回当前保留集合中的最小优先级。
// 蓄水池为空时返回 0 和 false。
func (b *PriorityBuffer[T]) MinPriority() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.entries) == 0 {
		return 0, false
	}
	return b.entries[0].Priority, true
}

// PriorityFromKey 从采样 key（通常是 trace ID）派生确定性优先级。
//
// 使用 xxhash 确定性哈希并归一化到 [0, 1) 区间：同一 key 在所有进程中
// 产生相同的优先级，同一条分布式链路因此在所有服务的蓄水池中
// 被一致地保留或淘汰。
//
// key 为空时返回 0（最低优先级），调用方应在上游保证 trace ID 存在。
func PriorityFromKey(key string) float64 {
	if key == "" {
		return 0
	}
	p := float64(xxhash.Sum64String(key)) / float64(math.MaxUint64)
	// float64 精度有限，极大哈希值的归一化结果会舍入到 1.0；
	// 优先级契约是半开区间，钳制到 1 之下最近的可表示值。
	if p >= 1 {
		p = math.Nextafter(1, 0)
	}
	return p
}
