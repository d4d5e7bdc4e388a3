package xreservoir

import (
	"errors"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"testing"
)

// appendN 依次追加优先级为 0..n-1 的事件，值等于优先级
func appendN(t *testing.T, b *PriorityBuffer[int], n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		v := i
		b.Append(float64(i), func() int { return v })
	}
}

func sortedSnapshot(b *PriorityBuffer[int]) []int {
	got := b.Snapshot()
	sort.Ints(got)
	return got
}

func TestNewPriorityBuffer(t *testing.T) {
	t.Run("invalid capacity", func(t *testing.T) {
		for _, c := range []int{0, -1, -100} {
			if _, err := NewPriorityBuffer[int](c); !errors.Is(err, ErrInvalidCapacity) {
				t.Errorf("capacity %d: want ErrInvalidCapacity, got %v", c, err)
			}
		}
	})

	t.Run("valid capacity", func(t *testing.T) {
		b, err := NewPriorityBuffer[int](5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.Capacity() != 5 || b.Size() != 0 || b.Full() {
			t.Errorf("fresh buffer state wrong: cap=%d size=%d full=%v", b.Capacity(), b.Size(), b.Full())
		}
	})
}

// 场景：容量 5，按升序追加优先级 0..9 ⇒ 保留 {5,6,7,8,9}，seen=10，dropped=5
func TestPriorityBufferRetainsHighest(t *testing.T) {
	b, _ := NewPriorityBuffer[int](5)
	appendN(t, b, 10)

	want := []int{5, 6, 7, 8, 9}
	got := sortedSnapshot(b)
	if len(got) != len(want) {
		t.Fatalf("size = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("retained = %v, want %v", got, want)
			break
		}
	}

	stats := b.Stats()
	if stats.Seen != 10 || stats.Dropped != 5 {
		t.Errorf("stats = %+v, want seen=10 dropped=5", stats)
	}
	if !b.Full() {
		t.Error("buffer should be full")
	}
}

// 逆序追加：高优先级先到，之后的低优先级应全部被拒绝且不调用 factory
func TestPriorityBufferDescendingRejects(t *testing.T) {
	b, _ := NewPriorityBuffer[int](5)
	calls := 0
	for i := 9; i >= 0; i-- {
		v := i
		retained := b.Append(float64(i), func() int { calls++; return v })
		if i >= 5 && !retained {
			t.Errorf("priority %d should be retained", i)
		}
		if i < 5 && retained {
			t.Errorf("priority %d should be rejected", i)
		}
	}
	if calls != 5 {
		t.Errorf("factory calls = %d, want 5 (lazy construction)", calls)
	}

	got := sortedSnapshot(b)
	want := []int{5, 6, 7, 8, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("retained = %v, want %v", got, want)
		}
	}
}

// 平局：优先级等于当前最小值时不替换，先到者保留，factory 不被调用
func TestPriorityBufferTieKeepsExisting(t *testing.T) {
	b, _ := NewPriorityBuffer[string](1)
	b.Append(1.0, func() string { return "first" })

	called := false
	retained := b.Append(1.0, func() string { called = true; return "second" })
	if retained {
		t.Error("tie append should be rejected")
	}
	if called {
		t.Error("factory must not run for a rejected tie")
	}

	got := b.Snapshot()
	if len(got) != 1 || got[0] != "first" {
		t.Errorf("snapshot = %v, want [first]", got)
	}
	if s := b.Stats(); s.Seen != 2 || s.Dropped != 1 {
		t.Errorf("stats = %+v, want seen=2 dropped=1", s)
	}
}

// 场景：容量 10 填入 0..9，缩容到 5 ⇒ 保留 {5,6,7,8,9}，dropped=5，seen 不变
func TestPriorityBufferShrinkEvictsLowest(t *testing.T) {
	b, _ := NewPriorityBuffer[int](10)
	appendN(t, b, 10)

	if err := b.SetCapacity(5); err != nil {
		t.Fatalf("SetCapacity: %v", err)
	}

	got := sortedSnapshot(b)
	want := []int{5, 6, 7, 8, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("retained after shrink = %v, want %v", got, want)
		}
	}
	if s := b.Stats(); s.Seen != 10 || s.Dropped != 5 {
		t.Errorf("stats = %+v, want seen=10 dropped=5", s)
	}
	if b.Capacity() != 5 || !b.Full() {
		t.Errorf("cap=%d full=%v, want cap=5 full=true", b.Capacity(), b.Full())
	}
}

func TestPriorityBufferGrowNeverEvicts(t *testing.T) {
	b, _ := NewPriorityBuffer[int](5)
	appendN(t, b, 10)
	before := b.Stats()

	if err := b.SetCapacity(100); err != nil {
		t.Fatalf("SetCapacity: %v", err)
	}
	if b.Size() != 5 {
		t.Errorf("size = %d, want 5", b.Size())
	}
	if after := b.Stats(); after != before {
		t.Errorf("stats changed on grow: %+v -> %+v", before, after)
	}
	if b.Full() {
		t.Error("buffer should not be full after grow")
	}

	// 扩容后可以继续追加
	b.Append(100, func() int { return 100 })
	if b.Size() != 6 {
		t.Errorf("size = %d, want 6", b.Size())
	}
}

func TestPriorityBufferReset(t *testing.T) {
	b, _ := NewPriorityBuffer[int](5)
	appendN(t, b, 10)

	b.Reset()
	if b.Size() != 0 || b.Stats() != (Stats{}) {
		t.Errorf("after reset: size=%d stats=%+v", b.Size(), b.Stats())
	}
	if b.Capacity() != 5 {
		t.Errorf("capacity changed on reset: %d", b.Capacity())
	}

	// 复位后行为与新建一致
	appendN(t, b, 3)
	if b.Size() != 3 || b.Stats().Seen != 3 {
		t.Errorf("post-reset append broken: size=%d stats=%+v", b.Size(), b.Stats())
	}
}

func TestPriorityBufferSnapshotIndependence(t *testing.T) {
	b, _ := NewPriorityBuffer[int](5)
	appendN(t, b, 3)

	snap := b.Snapshot()
	for i := range snap {
		snap[i] = -1
	}

	got := sortedSnapshot(b)
	want := []int{0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("buffer mutated via snapshot copy: %v", got)
		}
	}
}

func TestPriorityBufferDrain(t *testing.T) {
	b, _ := NewPriorityBuffer[int](5)
	appendN(t, b, 10)

	entries, stats := b.Drain()
	if len(entries) != 5 {
		t.Fatalf("drained %d entries, want 5", len(entries))
	}
	if stats.Seen != 10 || stats.Dropped != 5 {
		t.Errorf("drained stats = %+v, want seen=10 dropped=5", stats)
	}
	if b.Size() != 0 || b.Stats() != (Stats{}) {
		t.Errorf("buffer not empty after drain: size=%d stats=%+v", b.Size(), b.Stats())
	}

	// 取走的条目携带原始优先级，可按原优先级放回
	for _, e := range entries {
		v := e.Value
		b.Append(e.Priority, func() int { return v })
	}
	got := sortedSnapshot(b)
	want := []int{5, 6, 7, 8, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merge-back = %v, want %v", got, want)
		}
	}
}

func TestPriorityBufferNilFactory(t *testing.T) {
	b, _ := NewPriorityBuffer[int](5)
	if b.Append(1.0, nil) {
		t.Error("nil factory append should be rejected")
	}
	if s := b.Stats(); s.Seen != 1 || s.Dropped != 1 {
		t.Errorf("stats = %+v, want seen=1 dropped=1", s)
	}
}

func TestPriorityBufferMinPriority(t *testing.T) {
	b, _ := NewPriorityBuffer[int](3)
	if _, ok := b.MinPriority(); ok {
		t.Error("empty buffer should report no minimum")
	}
	appendN(t, b, 5)
	if minP, ok := b.MinPriority(); !ok || minP != 2 {
		t.Errorf("min = %v/%v, want 2/true", minP, ok)
	}
}

// 随机乱序追加后也必须保留最高的 C 个
func TestPriorityBufferRandomOrder(t *testing.T) {
	const n, c = 200, 16
	b, _ := NewPriorityBuffer[int](c)

	perm := rand.Perm(n)
	for _, p := range perm {
		v := p
		b.Append(float64(p), func() int { return v })
	}

	got := sortedSnapshot(b)
	if len(got) != c {
		t.Fatalf("size = %d, want %d", len(got), c)
	}
	for i := 0; i < c; i++ {
		if got[i] != n-c+i {
			t.Fatalf("retained = %v, want top %d of 0..%d", got, c, n-1)
		}
	}
	if s := b.Stats(); s.Seen != n || s.Dropped != n-c {
		t.Errorf("stats = %+v, want seen=%d dropped=%d", s, n, n-c)
	}
}

func TestPriorityBufferConcurrentAppend(t *testing.T) {
	const workers, perWorker = 8, 500
	b, _ := NewPriorityBuffer[int](32)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v := w*perWorker + i
				b.Append(rand.Float64(), func() int { return v })
			}
		}(w)
	}
	wg.Wait()

	if s := b.Stats(); s.Seen != workers*perWorker {
		t.Errorf("seen = %d, want %d", s.Seen, workers*perWorker)
	}
	if b.Size() != 32 {
		t.Errorf("size = %d, want 32", b.Size())
	}
	if s := b.Stats(); s.Seen-s.Dropped != 32 {
		t.Errorf("seen-dropped = %d, want 32", s.Seen-s.Dropped)
	}
}

func TestPriorityFromKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := PriorityFromKey("0af7651916cd43dd8448eb211c80319c")
		b := PriorityFromKey("0af7651916cd43dd8448eb211c80319c")
		if a != b {
			t.Errorf("same key produced %v and %v", a, b)
		}
	})

	// 半开区间：下游以 priority < 1 校验载荷，派生值不得取到 1.0
	t.Run("half-open range", func(t *testing.T) {
		for i := 0; i < 10000; i++ {
			key := "trace-" + strconv.Itoa(i)
			p := PriorityFromKey(key)
			if p < 0 || p >= 1 {
				t.Fatalf("priority(%q) = %v, out of [0,1)", key, p)
			}
		}
	})

	t.Run("empty key", func(t *testing.T) {
		if p := PriorityFromKey(""); p != 0 {
			t.Errorf("priority of empty key = %v, want 0", p)
		}
	})
}
