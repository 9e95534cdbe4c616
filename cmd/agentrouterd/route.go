package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"AgentRouter/internal/catalog"
	"AgentRouter/internal/config"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/intent"
	"AgentRouter/internal/routing"
)

func routeCmd() *cobra.Command {
	var (
		catalogPath string
		intentArg   string
	)

	cmd := &cobra.Command{
		Use:   "route [query]",
		Short: "离线计算一次路由选择，不调用任何下游服务",
		Long: `route 读取处理器目录与意图分析结果，输出候选打分与最终选择。
--intent 可以是 JSON 文件路径、内联 JSON，或 "-" 表示从标准输入读取。`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveCatalogPath(catalogPath)
			if err != nil {
				return err
			}
			snapshot, err := catalog.LoadFile(path)
			if err != nil {
				return err
			}
			in, err := readIntent(intentArg, cmd.InOrStdin())
			if err != nil {
				return err
			}

			router := routing.NewRouter(catalog.NewHolder(snapshot))
			sel, err := router.Route(cmd.Context(), in, strings.Join(args, " "))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(sel); err != nil {
				return err
			}
			if sel.Empty() {
				return xerrors.New(xerrors.CodeNoConfidentMatch, "没有处理器达到置信阈值")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "处理器目录文件，默认取配置中的 catalog.path")
	cmd.Flags().StringVar(&intentArg, "intent", "", "意图分析结果（文件路径、内联 JSON 或 -）")
	_ = cmd.MarkFlagRequired("intent")
	return cmd
}

// resolveCatalogPath 优先使用命令行参数，否则从配置文件读取目录路径。
func resolveCatalogPath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	cfg, err := config.Load(config.Path(configFile))
	if err != nil {
		return "", fmt.Errorf("未指定 --catalog 且无法读取配置: %w", err)
	}
	return cfg.Catalog.Path, nil
}

func readIntent(arg string, stdin io.Reader) (intent.Result, error) {
	var raw []byte
	switch trimmed := strings.TrimSpace(arg); {
	case trimmed == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return intent.Result{}, err
		}
		raw = data
	case strings.HasPrefix(trimmed, "{"):
		raw = []byte(trimmed)
	default:
		data, err := os.ReadFile(trimmed)
		if err != nil {
			return intent.Result{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取意图文件失败")
		}
		raw = data
	}

	var in intent.Result
	if err := json.Unmarshal(raw, &in); err != nil {
		return intent.Result{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析意图 JSON 失败")
	}
	return in, nil
}
