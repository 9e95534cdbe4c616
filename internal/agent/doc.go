// Package agent 是路由服务的业务核心：补全意图、选择处理器、执行管道并记录每一次路由决策。
package agent
