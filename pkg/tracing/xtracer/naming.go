package xtracer

import (
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Category 事务类别。
//
// 新建事务时必须提供：类别决定根指标名的前缀规则，
// 委托进既有事务（嵌套为段）时不需要。
type Category string

// 已知事务类别。
const (
	// CategoryWeb Web 请求事务（HTTP 处理器、RPC 服务端）
	CategoryWeb Category = "web"

	// CategoryTask 后台任务事务（队列消费、定时任务）
	CategoryTask Category = "task"

	// CategoryCustom 自定义事务
	CategoryCustom Category = "custom"
)

// Valid 检查类别是否已知。
func (c Category) Valid() bool {
	switch c {
	case CategoryWeb, CategoryTask, CategoryCustom:
		return true
	default:
		return false
	}
}

// prefix 返回类别的根指标名前缀。
func (c Category) prefix() string {
	switch c {
	case CategoryWeb:
		return "WebTransaction/Go/"
	case CategoryTask:
		return "OtherTransaction/Task/"
	default:
		return "OtherTransaction/Custom/"
	}
}

// unknownName 部分名缺失时的占位
const unknownName = "Unknown"

// nameCache 根指标名派生缓存。
//
// 派生规则本身很廉价，缓存的价值在于约束名字基数：LRU 上限同时
// 是派生名集合的内存上限，失控的动态命名（如把原始 URL 当部分名）
// 不会无限撑大内存。
type nameCache struct {
	lru *expirable.LRU[string, string]
}

// defaultNameCacheSize 默认名字缓存容量
const defaultNameCacheSize = 1024

func newNameCache(size int) *nameCache {
	if size <= 0 {
		size = defaultNameCacheSize
	}
	return &nameCache{
		// TTL 为 0：名字映射是纯函数，条目只因容量淘汰
		lru: expirable.NewLRU[string, string](size, nil, 0),
	}
}

// derive 从部分名与类别派生完整的根指标名。
func (nc *nameCache) derive(partial string, c Category) string {
	if partial == "" {
		partial = unknownName
	}
	key := string(c) + "\x00" + partial
	if name, ok := nc.lru.Get(key); ok {
		return name
	}
	name := c.prefix() + partial
	nc.lru.Add(key, name)
	return name
}
