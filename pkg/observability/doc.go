// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog 扩展，支持轮转与动态级别
//   - xreservoir: 固定容量的优先级采样蓄水池
//
// 设计原则：
//   - 可观测性自身的开销有界：蓄水池容量与日志轮转都有上限
//   - 支持运行期动态调整（日志级别、蓄水池容量）
package observability
