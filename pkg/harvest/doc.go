// Package harvest 提供采集管线的子包。
//
// 子包列表：
//   - xharvest: 周期采集、优先级采样蓄水池的排空与导出
package harvest
