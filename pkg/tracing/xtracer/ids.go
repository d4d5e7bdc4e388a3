package xtracer

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/sony/sonyflake/v2"
)

// ID 格式常量（遵循 W3C Trace Context 规范）
const (
	// traceIDSize W3C 规范: 128-bit (16 bytes) -> 32 hex chars
	traceIDSize = 16

	// spanIDSize W3C 规范: 64-bit (8 bytes) -> 16 hex chars
	spanIDSize = 8
)

// isAllZeros 检查字节切片是否全为零。
// W3C Trace Context 规范禁止全零的 trace-id 和 span-id。
func isAllZeros(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// randomHexID 生成 size 字节的非全零随机 ID，小写十六进制编码。
//
// Panic 策略：crypto/rand 失败意味着系统无法提供安全随机数，
// 属于内核级故障，进程应立即终止而非静默降级。
func randomHexID(size int) string {
	buf := make([]byte, size)
	for {
		if _, err := rand.Read(buf); err != nil {
			panic("xtracer: crypto/rand.Read failed: " + err.Error())
		}
		if !isAllZeros(buf) {
			return hex.EncodeToString(buf)
		}
		// 全零概率 2^-64 以下，重新生成
	}
}

// newTraceID 生成符合 W3C Trace Context 规范的 trace ID（32 位小写十六进制）。
func newTraceID() string {
	return randomHexID(traceIDSize)
}

// newSpanID 生成符合 W3C Trace Context 规范的 span ID（16 位小写十六进制）。
func newSpanID() string {
	return randomHexID(spanIDSize)
}

// segmentIDs 段 ID 生成器。
//
// 正常路径使用 Sonyflake（时间有序的 int64，跨进程唯一）；
// Sonyflake 暂时不可用（时钟回拨）时退化为进程内负数计数器——
// 段 ID 生成失败绝不能让追踪失败。
type segmentIDs struct {
	sf       *sonyflake.Sonyflake
	fallback atomic.Int64
}

// hostMachineID 从主机名哈希派生 16 位机器 ID。
//
// 设计决策: 不探测私有 IP——追踪内核可能运行在无网络栈的环境
// （单元测试、最小容器），主机名哈希在这些环境下同样可用且确定。
// 主机名缺失时回退到 PID。
func hostMachineID() (int, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "pid-" + strconv.Itoa(os.Getpid())
	}
	return int(xxhash.Sum64String(host) & 0xFFFF), nil
}

// newSegmentIDs 创建段 ID 生成器。
func newSegmentIDs() (*segmentIDs, error) {
	sf, err := sonyflake.New(sonyflake.Settings{MachineID: hostMachineID})
	if err != nil {
		return nil, err
	}
	return &segmentIDs{sf: sf}, nil
}

// next 返回下一个段 ID。
// Sonyflake 出错时返回负数回退 ID，调用方无需处理错误。
func (g *segmentIDs) next() int64 {
	if g == nil || g.sf == nil {
		return g.nextFallback()
	}
	id, err := g.sf.NextID()
	if err != nil {
		return g.nextFallback()
	}
	return id
}

// nextFallback 负数回退 ID：与 Sonyflake 的正数值域天然不冲突，
// 也便于在诊断时识别退化路径。
func (g *segmentIDs) nextFallback() int64 {
	if g == nil {
		return -1
	}
	return -g.fallback.Add(1)
}
