package xreservoir

import "sync"

// Stats 缓冲区的累计统计。
//
// Seen 单调递增记录所有到达的事件；Dropped 记录被拒绝或被淘汰的事件。
// 不变式：Size <= Capacity；Seen >= Size + Dropped 在 Reset 之前恒成立。
type Stats struct {
	// Seen 到达的事件总数（无论是否保留）
	Seen uint64
	// Dropped 被拒绝或被淘汰的事件总数
	Dropped uint64
}

// Buffer 有界事件缓冲区。
//
// 满后拒绝新事件（先到先留），被拒绝的事件计入 Dropped。
// 这是最朴素的采样形态，适用于事件之间没有优先级差异的场景；
// 需要按重要性保留时使用 [PriorityBuffer]。
//
// 所有方法并发安全。零值不可用，必须通过 [NewBuffer] 创建。
type Buffer[T any] struct {
	mu       sync.RWMutex
	capacity int
	items    []T
	stats    Stats
}

// NewBuffer 创建有界缓冲区。
// capacity < 1 时返回 ErrInvalidCapacity。
func NewBuffer[T any](capacity int) (*Buffer[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &Buffer[T]{
		capacity: capacity,
		items:    make([]T, 0, capacity),
	}, nil
}

// Append 尝试追加事件。
//
// 返回 true 表示事件被保留；缓冲区已满时返回 false 并计入 Dropped。
// Seen 无条件递增。
func (b *Buffer[T]) Append(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Seen++
	if len(b.items) >= b.capacity {
		b.stats.Dropped++
		return false
	}
	b.items = append(b.items, item)
	return true
}

// SetCapacity 调整容量。
//
// 扩容从不淘汰已有事件。缩容到 k < size 时保留最先到达的 k 个，
// 被淘汰的 (size - k) 个计入 Dropped。
// capacity < 1 时返回 ErrInvalidCapacity。
func (b *Buffer[T]) SetCapacity(capacity int) error {
	if capacity < 1 {
		return ErrInvalidCapacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if capacity < len(b.items) {
		evicted := len(b.items) - capacity
		// 截断前清零尾部引用，避免底层数组继续持有已淘汰事件
		var zero T
		for i := capacity; i < len(b.items); i++ {
			b.items[i] = zero
		}
		b.items = b.items[:capacity]
		b.stats.Dropped += uint64(evicted)
	}
	b.capacity = capacity
	return nil
}

// Reset 清空事件并将统计归零。容量保持不变。
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = make([]T, 0, b.capacity)
	b.stats = Stats{}
}

// Snapshot 返回当前事件的独立副本。
// 之后对缓冲区或副本的修改互不影响。
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// Capacity 返回当前容量。
func (b *Buffer[T]) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// Size 返回当前保留的事件数。
func (b *Buffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Full 返回缓冲区是否已满（size == capacity）。
func (b *Buffer[T]) Full() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items) == b.capacity
}

// Stats 返回累计统计的副本。
func (b *Buffer[T]) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}
