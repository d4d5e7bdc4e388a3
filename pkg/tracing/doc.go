// Package tracing 提供追踪内核的子包。
//
// 子包列表：
//   - xcontext: 执行上下文注册表，当前事务/当前段的上下文局部状态
//   - xtracer: 事务/段对象模型与跨上下文传播的门面
//
// 设计原则：
//   - 故障隔离：追踪内部的任何失败不影响被监控的业务代码
//   - 显式生命周期：上下文的注册与注销都是显式调用，不依赖 GC
package tracing
