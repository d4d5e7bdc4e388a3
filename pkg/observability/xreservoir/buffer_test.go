package xreservoir

import (
	"errors"
	"testing"
)

func TestBufferAppendRejectsWhenFull(t *testing.T) {
	b, err := NewBuffer[int](3)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}

	for i := 0; i < 5; i++ {
		retained := b.Append(i)
		if i < 3 && !retained {
			t.Errorf("append %d should be retained", i)
		}
		if i >= 3 && retained {
			t.Errorf("append %d should be rejected", i)
		}
	}

	got := b.Snapshot()
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("snapshot = %v, want [0 1 2]", got)
	}
	if s := b.Stats(); s.Seen != 5 || s.Dropped != 2 {
		t.Errorf("stats = %+v, want seen=5 dropped=2", s)
	}
}

func TestBufferInvalidCapacity(t *testing.T) {
	if _, err := NewBuffer[int](0); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("want ErrInvalidCapacity, got %v", err)
	}

	b, _ := NewBuffer[int](2)
	if err := b.SetCapacity(-1); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("want ErrInvalidCapacity, got %v", err)
	}
}

func TestBufferShrinkKeepsEarliest(t *testing.T) {
	b, _ := NewBuffer[int](5)
	for i := 0; i < 5; i++ {
		b.Append(i)
	}

	if err := b.SetCapacity(2); err != nil {
		t.Fatalf("SetCapacity: %v", err)
	}
	got := b.Snapshot()
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("snapshot = %v, want [0 1]", got)
	}
	if s := b.Stats(); s.Dropped != 3 {
		t.Errorf("dropped = %d, want 3", s.Dropped)
	}
}

func TestBufferReset(t *testing.T) {
	b, _ := NewBuffer[int](2)
	b.Append(1)
	b.Append(2)
	b.Append(3)

	b.Reset()
	if b.Size() != 0 || b.Stats() != (Stats{}) || b.Capacity() != 2 {
		t.Errorf("after reset: size=%d stats=%+v cap=%d", b.Size(), b.Stats(), b.Capacity())
	}
}
