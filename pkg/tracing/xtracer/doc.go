// Package xtracer 提供进程内事务/段追踪内核：应用性能监控代理的核心。
//
// 插桩代码通过 [Tracer] 门面显式调用追踪操作；内核负责维护每个执行
// 上下文的当前事务/当前段状态、构建事务拥有的段树、在事务完成时聚合
// 指标并把采样记录交给收割层（xharvest）。
//
// # 对象模型
//
//   - [Transaction]: 顶层被追踪工作单元（如一次请求），独占拥有一棵段树，
//     同一时刻最多绑定到一个执行上下文
//   - [Segment]: 段树中的一个计时节点；parent 是非拥有的回指，
//     children 只追加且允许多个执行上下文并发写入
//   - 执行上下文（xcontext.ID）只持有指向树内的"当前指针"，不拥有任何节点
//
// # 生命周期
//
// StartTransaction 在无绑定事务的上下文上创建事务（CAS 绑定保证同一
// 上下文并发启动只产生一个事务）；StartSegment 在当前段下挂出子段并
// 成为新的当前段；Segment.End 把当前段恢复为其父段；Transaction.End
// 解除绑定，并在它拥有的全部段（跨所有执行上下文）结束后恰好提交一次。
//
// # 跨上下文传播
//
// GoTraced 在派生 goroutine 时捕获父上下文的当前事务，在新上下文中
// 创建名为 "<kind>/<seq>" 的包装段并绑定同一事务；Go 是受
// auto_propagate 配置门控的隐式变体，门控关闭时派生上下文不带事务。
//
// # 故障边界
//
// 追踪绝不破坏被监控的应用：
//
//   - 配置错误（新建事务缺少 category）作为 error 返回给插桩代码
//   - 内核自身的故障（提交、收割回调中的 panic）被 recover 并记录日志，
//     不向调用方扩散
//   - 被追踪代码的错误先记录到活跃事务上，然后原样向上传播
package xtracer
