package xtracer

import "errors"

// 追踪内核相关的错误
var (
	// ErrMissingCategory 表示新建事务时未提供 category。
	// 这是配置错误：只有创建新事务需要 category，
	// 委托进既有事务（嵌套为段）时不需要。
	ErrMissingCategory = errors.New("xtracer: category is required when starting a new transaction")

	// ErrInvalidCategory 表示 category 不在已知类别之内
	ErrInvalidCategory = errors.New("xtracer: unknown transaction category")

	// ErrNilTracer 表示 Tracer 为 nil 或未通过 New 创建
	ErrNilTracer = errors.New("xtracer: nil tracer (use New to create)")
)
