package xcontext

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeTxn struct{ name string }
type fakeSeg struct{ name string }

func newTestRegistry() *Registry[*fakeTxn, *fakeSeg] {
	return NewRegistry[*fakeTxn, *fakeSeg]()
}

func TestAttachDetach(t *testing.T) {
	r := newTestRegistry()

	ctx, id := r.Attach(context.Background(), KindPrimary)
	if id == "" {
		t.Fatal("empty id")
	}
	got, ok := r.FromContext(ctx)
	if !ok || got != id {
		t.Fatalf("FromContext = %q/%v, want %q/true", got, ok, id)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}

	kind, seq, ok := r.Info(id)
	if !ok || kind != KindPrimary || seq == 0 {
		t.Errorf("Info = %v/%d/%v", kind, seq, ok)
	}

	r.Detach(ctx)
	if r.Len() != 0 {
		t.Errorf("Len after detach = %d, want 0", r.Len())
	}
	if _, ok := r.FromContext(ctx); ok {
		t.Error("FromContext should fail after detach")
	}

	// 重复注销是 no-op
	r.Detach(ctx)
	r.Release(id)
}

func TestFromContextUnattached(t *testing.T) {
	r := newTestRegistry()
	if _, ok := r.FromContext(context.Background()); ok {
		t.Error("plain context should not carry an id")
	}
	if _, ok := r.FromContext(nil); ok { //nolint:staticcheck // nil 容错路径
		t.Error("nil context should not carry an id")
	}
}

func TestAttachAssignsDistinctSequences(t *testing.T) {
	r := newTestRegistry()
	_, id1 := r.Attach(context.Background(), KindLightweight)
	_, id2 := r.Attach(context.Background(), KindLightweight)

	_, seq1, _ := r.Info(id1)
	_, seq2, _ := r.Info(id2)
	if id1 == id2 || seq1 == seq2 {
		t.Errorf("contexts not distinct: id %q/%q seq %d/%d", id1, id2, seq1, seq2)
	}
}

func TestBindCompareAndSet(t *testing.T) {
	r := newTestRegistry()
	_, id := r.Attach(context.Background(), KindPrimary)

	txn := &fakeTxn{name: "web"}
	if err := r.Bind(id, txn); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := r.Bind(id, &fakeTxn{name: "loser"}); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("second bind: want ErrAlreadyBound, got %v", err)
	}

	got, ok := r.CurrentTransaction(id)
	if !ok || got != txn {
		t.Errorf("CurrentTransaction = %v/%v, want winner", got, ok)
	}
}

func TestBindUnattached(t *testing.T) {
	r := newTestRegistry()
	if err := r.Bind("no-such-id", &fakeTxn{}); !errors.Is(err, ErrNotAttached) {
		t.Errorf("want ErrNotAttached, got %v", err)
	}
}

// 同一执行上下文上的并发绑定恰好一个成功
func TestBindConcurrentSingleWinner(t *testing.T) {
	r := newTestRegistry()
	_, id := r.Attach(context.Background(), KindPrimary)

	const racers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if err := r.Bind(id, &fakeTxn{name: "t"}); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", wins.Load())
	}
}

func TestUnbindClearsSegment(t *testing.T) {
	r := newTestRegistry()
	_, id := r.Attach(context.Background(), KindPrimary)

	_ = r.Bind(id, &fakeTxn{})
	r.SetCurrentSegment(id, &fakeSeg{name: "root"})

	r.Unbind(id)
	if _, ok := r.CurrentTransaction(id); ok {
		t.Error("transaction should be cleared")
	}
	if _, ok := r.CurrentSegment(id); ok {
		t.Error("segment should be cleared")
	}

	// 解绑后条目仍然存在，可以重新绑定
	if err := r.Bind(id, &fakeTxn{name: "again"}); err != nil {
		t.Errorf("rebind after unbind: %v", err)
	}
}

func TestCurrentSegmentLifecycle(t *testing.T) {
	r := newTestRegistry()
	_, id := r.Attach(context.Background(), KindPrimary)

	if _, ok := r.CurrentSegment(id); ok {
		t.Error("fresh context should have no current segment")
	}

	root := &fakeSeg{name: "root"}
	child := &fakeSeg{name: "child"}
	r.SetCurrentSegment(id, root)
	r.SetCurrentSegment(id, child)
	if got, _ := r.CurrentSegment(id); got != child {
		t.Errorf("current = %v, want child", got)
	}

	r.SetCurrentSegment(id, root)
	if got, _ := r.CurrentSegment(id); got != root {
		t.Errorf("current = %v, want root", got)
	}

	r.ClearCurrentSegment(id)
	if _, ok := r.CurrentSegment(id); ok {
		t.Error("segment should be cleared")
	}
	if _, ok := r.CurrentTransaction(id); ok {
		t.Error("no transaction was ever bound")
	}
}

// 条件恢复只在上下文仍绑定 owner 时生效：换绑后旧事务的段恢复
// 不得污染新事务的当前段指针
func TestConditionalSegmentRestoreAfterRebind(t *testing.T) {
	r := newTestRegistry()
	_, id := r.Attach(context.Background(), KindPrimary)

	old := &fakeTxn{name: "old"}
	oldSeg := &fakeSeg{name: "old-parent"}
	_ = r.Bind(id, old)

	if !r.SetCurrentSegmentIf(id, old, oldSeg) {
		t.Fatal("restore while still bound should take effect")
	}
	if !r.ClearCurrentSegmentIf(id, old) {
		t.Fatal("clear while still bound should take effect")
	}

	// 换绑新事务
	r.Unbind(id)
	fresh := &fakeTxn{name: "fresh"}
	freshSeg := &fakeSeg{name: "fresh-root"}
	_ = r.Bind(id, fresh)
	r.SetCurrentSegment(id, freshSeg)

	if r.SetCurrentSegmentIf(id, old, oldSeg) {
		t.Error("stale owner restore should be rejected")
	}
	if r.ClearCurrentSegmentIf(id, old) {
		t.Error("stale owner clear should be rejected")
	}
	if got, _ := r.CurrentSegment(id); got != freshSeg {
		t.Errorf("current = %v, want fresh root untouched", got)
	}

	if r.SetCurrentSegmentIf(id, fresh, freshSeg) != true {
		t.Error("owner restore should still work")
	}
	if r.SetCurrentSegmentIf("no-such-id", fresh, freshSeg) {
		t.Error("unattached id should be rejected")
	}
}

// 不同执行上下文之间的操作互不干扰
func TestRegistryConcurrentContexts(t *testing.T) {
	r := newTestRegistry()

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, id := r.Attach(context.Background(), KindLightweight)
			txn := &fakeTxn{name: "t"}
			if err := r.Bind(id, txn); err != nil {
				t.Errorf("bind: %v", err)
				return
			}
			seg := &fakeSeg{name: "s"}
			r.SetCurrentSegment(id, seg)
			if got, _ := r.CurrentTransaction(id); got != txn {
				t.Error("wrong transaction visible")
			}
			if got, _ := r.CurrentSegment(id); got != seg {
				t.Error("wrong segment visible")
			}
			r.Unbind(id)
			r.Detach(ctx)
		}()
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("registry leaked %d entries", r.Len())
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindPrimary:     "Primary",
		KindLightweight: "Goroutine",
		KindOther:       "Other",
		Kind(99):        "Other",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
