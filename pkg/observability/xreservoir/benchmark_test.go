package xreservoir

import (
	"math/rand/v2"
	"strconv"
	"testing"
)

// BenchmarkPriorityBufferAppend 满池随机优先级追加（热路径：最小值比较 + 偶尔替换）
func BenchmarkPriorityBufferAppend(b *testing.B) {
	buf, _ := NewPriorityBuffer[int](1000)
	for i := 0; i < 1000; i++ {
		v := i
		buf.Append(rand.Float64(), func() int { return v })
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v := i
		buf.Append(rand.Float64(), func() int { return v })
	}
}

// BenchmarkPriorityBufferAppendRejected 满池低优先级追加（最常见路径：直接拒绝，零构造）
func BenchmarkPriorityBufferAppendRejected(b *testing.B) {
	buf, _ := NewPriorityBuffer[int](1000)
	for i := 0; i < 1000; i++ {
		v := i
		buf.Append(0.5+rand.Float64()/2, func() int { return v })
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Append(0.0, func() int { b.Fatal("factory must not run"); return 0 })
	}
}

func BenchmarkPriorityFromKey(b *testing.B) {
	keys := make([]string, 64)
	for i := range keys {
		keys[i] = "trace-" + strconv.Itoa(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		PriorityFromKey(keys[i%len(keys)])
	}
}
