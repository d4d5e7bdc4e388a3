package xreservoir

import "errors"

// ErrInvalidCapacity 表示容量不是正整数
var ErrInvalidCapacity = errors.New("xreservoir: capacity must be >= 1")
