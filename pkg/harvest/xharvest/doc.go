// Package xharvest 实现采集管线：接收已提交的事务摘要，
// 按优先级蓄水池采样事件、按名字聚合指标，并周期性导出。
//
// Harvester 实现 xtracer.Committer，是追踪内核与网络侧的边界：
//   - 采样事件进入 xreservoir.PriorityBuffer（容量有界、优先级淘汰）；
//   - 指标合并进聚合表，导出时整体交接；
//   - 周期任务由 cron 调度，导出失败时事件按原优先级合并回蓄水池，
//     与下个周期的数据一起重新参与采样；
//   - 导出路径带重试与熔断，后端持续不可用时快速失败而不是拖垮
//     被监控的进程。
//
// 孤儿回收：执行上下文异常消亡的事务永远等不到提交门槛，巡检
// 按超时强制提交（Abandon），防止注册表与事务树无界增长。
package xharvest
