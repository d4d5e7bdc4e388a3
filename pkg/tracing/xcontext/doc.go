// Package xcontext 提供执行上下文注册表：进程级的、从执行上下文身份到
// 该上下文当前事务/当前段的并发安全映射。
//
// # 执行上下文身份
//
// 每个并发执行单元（goroutine、请求处理器等）在进入被追踪的工作前通过
// Attach 注册，获得一个不透明的 [ID]（uuid）与单调递增的数字序号；
// ID 被嵌入返回的 context.Context，随调用链传播。执行单元结束时必须
// 调用 Detach/Release 注销——注册表不依赖 GC 回收条目，漏注销会造成
// 条目无限增长。
//
// # 绑定语义
//
// Bind 采用 compare-and-set 语义：同一 ID 上的并发绑定恰好一个成功，
// 失败者得到 ErrAlreadyBound。这保证同一执行上下文上并发的"开始事务"
// 调用不会创建出两个事务。不同 ID 之间的查找与绑定互不阻塞
// （条目存放在 sync.Map 中，互斥粒度是单个条目）。
//
// # 所有权
//
// 注册表只保存对事务/段的非拥有引用（当前指针）。段树由事务独占拥有，
// 条目的清除不影响事务本身的生命周期。
//
// 设计决策: Registry 对事务与段的指针类型做泛型抽象，而非直接引用
// xtracer 的具体类型。注册表是比追踪器更底层的构件，反向依赖会造成
// 导入环；泛型同时让注册表可以脱离追踪器单独测试。
package xcontext
