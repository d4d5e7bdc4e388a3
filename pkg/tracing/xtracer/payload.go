package xtracer

import "errors"

// ErrInvalidPayload 表示传播载荷的字段不满足格式要求。
var ErrInvalidPayload = errors.New("xtracer: invalid distributed trace payload")

// Payload 跨进程关联追踪的传播载荷。对本包而言是不透明值：
// 线上编码（HTTP 头、消息属性等）由调用方负责。
type Payload struct {
	TraceID  string  `json:"trace_id"`
	SpanID   string  `json:"span_id"`
	Priority float64 `json:"priority"`
	Sampled  bool    `json:"sampled"`
}

// Validate 校验载荷字段：trace ID 为 32 位、span ID 为 16 位
// 小写十六进制且非全零，优先级在 [0,1) 内。
func (p *Payload) Validate() error {
	if !validHexID(p.TraceID, 32) || !validHexID(p.SpanID, 16) {
		return ErrInvalidPayload
	}
	if p.Priority < 0 || p.Priority >= 1 {
		return ErrInvalidPayload
	}
	return nil
}

func validHexID(s string, n int) bool {
	if len(s) != n {
		return false
	}
	zero := true
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			if c != '0' {
				zero = false
			}
		case c >= 'a' && c <= 'f':
			zero = false
		default:
			return false
		}
	}
	return !zero
}
