// Package api 基于 gin 暴露路由服务的 HTTP 接口：同步路由、异步任务、
// 路由决策审计、熔断器运维以及健康检查。
package api
