package xcontext

import "errors"

// 注册表操作相关的错误
var (
	// ErrNotAttached 表示执行上下文尚未通过 Attach 注册
	ErrNotAttached = errors.New("xcontext: execution context not attached")

	// ErrAlreadyBound 表示该执行上下文已绑定事务（CAS 竞争失败）
	ErrAlreadyBound = errors.New("xcontext: execution context already bound to a transaction")
)
