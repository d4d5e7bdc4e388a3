package xcontext

// Kind 执行上下文的并发原语类别。
//
// 用于跨上下文传播时给包装段命名（"<kind>/<seq>"）。
// Go 运行时里所有并发单元都是 goroutine，区分 Primary/Lightweight
// 是为了让入口上下文（请求处理器）与派生的工作 goroutine
// 在段名里可辨识。
type Kind int

const (
	// KindPrimary 入口执行上下文（请求处理器、主流程）
	KindPrimary Kind = iota

	// KindLightweight 派生的轻量执行上下文（工作 goroutine）
	KindLightweight

	// KindOther 其他或未知来源的执行上下文
	KindOther
)

// String 返回类别的段名前缀。
func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "Primary"
	case KindLightweight:
		return "Goroutine"
	default:
		return "Other"
	}
}
