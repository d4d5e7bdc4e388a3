// Package config 提供配置相关的子包。
//
// 子包列表：
//   - xconf: 追踪代理配置的加载、校验与热更新
package config
