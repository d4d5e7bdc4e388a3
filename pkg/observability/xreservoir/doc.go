// Package xreservoir 提供固定容量、按优先级加权的采样蓄水池。
//
// 蓄水池用于约束遥测事件的内存与网络成本：无论事件流多大，
// 最终只保留容量上限内统计代表性最高（优先级最高）的子集。
//
// # 核心类型
//
//   - Buffer[T]: 有界缓冲区，满后拒绝新事件（先到先留），记录 Seen/Dropped 统计
//   - PriorityBuffer[T]: 优先级蓄水池，始终保留迄今优先级最高的 capacity 个事件
//
// # 惰性构造
//
// PriorityBuffer.Append 接收 factory 函数而非事件本身：只有事件确定会被保留时
// 才调用 factory 构造事件。高流量下被拒绝的低优先级事件零构造开销。
//
// # 动态容量
//
// SetCapacity 支持运行时调整容量：扩容从不淘汰已有事件；
// 缩容到 k < size 时保留优先级最高的 k 个，被淘汰的数量计入 Dropped。
// 配合 xconf 的配置热更新，可以在不重启进程的情况下收缩采样内存占用。
//
// # 优先级派生
//
// PriorityFromKey 使用 xxhash（github.com/cespare/xxhash/v2）从 trace ID 等
// 采样 key 派生 [0,1) 区间的确定性优先级。确定性哈希保证同一条分布式链路
// 在所有进程中得到相同的优先级，蓄水池的保留决策因此跨服务一致。
//
// # 并发安全
//
// 所有方法都是并发安全的。Append/SetCapacity/Reset 在互斥锁内完成
// 最小值查找与替换；最小值维护使用 container/heap 小顶堆，单次替换 O(log n)。
//
// # 平局语义
//
// 新事件优先级等于当前最小值时不替换（先到者保留）。这避免了无意义的
// 构造与换入换出，也是蓄水池保留集合可预测性的前提。
package xreservoir
