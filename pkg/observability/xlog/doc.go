// Package xlog 提供追踪内核使用的结构化日志。
//
// 基于标准库 log/slog 封装：强制 context 传递、方法签名只接受 slog.Attr、
// 通过 slog.LevelVar 支持运行时动态调级。
//
// 追踪内核的日志遵循"失败不扩散"原则：内核捕获到的内部故障只记录日志，
// 绝不向被监控的应用传播。日志本身的失败同样被吞没——日志不可用时
// 追踪降级为静默，而不是让业务请求失败。
//
// # 输出目标
//
// 默认输出 JSON 到 stderr。通过 WithWriter 重定向，或通过 WithRotatingFile
// 写入按大小滚动的日志文件（gopkg.in/natefinch/lumberjack.v2）。
//
// # Nop
//
// Nop() 返回丢弃一切的 Logger，用于测试或显式关闭内核日志。
// 各组件对 nil Logger 的容错也统一归一化到 Nop。
package xlog
