package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"AgentRouter/internal/catalog"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "处理器目录相关操作",
	}
	cmd.AddCommand(catalogValidateCmd())
	return cmd
}

func catalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "校验处理器目录文件并列出其中的处理器",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := ""
			if len(args) == 1 {
				explicit = args[0]
			}
			path, err := resolveCatalogPath(explicit)
			if err != nil {
				return err
			}
			snapshot, err := catalog.LoadFile(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDOMAIN\tTIER\tCAPABILITIES")
			for _, d := range snapshot.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.Name, d.Domain, d.Tier, strings.Join(d.Capabilities, ","))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s: %d 个处理器, %d 个意图映射\n", path, snapshot.Len(), len(snapshot.Intents()))
			return nil
		},
	}
}
