package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// main 是 AgentRouter 守护进程与命令行工具的入口。
func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentrouterd",
		Short: "按意图将问题路由到专业处理器",
		Long: `agentrouterd 根据意图分析结果为用户问题挑选一个或多个专业处理器，
并在熔断器保护下完成检索、工具调用与大模型生成。`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "配置文件路径，默认读取 $AGENTROUTER_CONFIG 或 configs/agentrouter.yaml")

	root.AddCommand(serveCmd())
	root.AddCommand(routeCmd())
	root.AddCommand(catalogCmd())
	return root
}
