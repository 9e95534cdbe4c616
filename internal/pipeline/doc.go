// Package pipeline 执行路由选出的处理器：每一次下游调用（检索、工具、生成）都经过对应服务的熔断器，
// 失败时使用降级应答，最后汇总为统一响应。
package pipeline
