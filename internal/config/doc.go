// Package config 负责加载路由服务的 YAML 配置，补全默认值，应用
// AGENTROUTER_* 环境变量覆盖，并在启动前完成校验。
package config
