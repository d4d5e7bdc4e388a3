// Package xconf 提供追踪代理的配置加载与热更新。
//
// 配置以 YAML 或 JSON 文件描述（格式由扩展名检测），通过 koanf
// 解析为类型化的 [AgentConfig]。[Loader.Config] 返回的是不可变
// 快照；热更新时整体替换而不是就地修改，读方永远看到一致的配置。
//
// 可运行期变更的项（采样率、传播开关、事件容量）由调用方在
// [Watcher] 回调里推给对应组件；其余项只在进程启动时生效。
//
// 设计决策: 不做环境变量/flag 合并。追踪代理的配置面很小，
// 单文件 + 热更新已覆盖部署需要，多 provider 合并的优先级规则
// 反而增加排错成本。
package xconf
