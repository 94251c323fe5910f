package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/stats"
)

// newStatsCommand 创建 stats 命令
func newStatsCommand(root *rootOptions) *cobra.Command {
	var (
		jsonOut bool
		reset   bool
		errs    bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "查看各提供商的调用统计",
		Long: `查看累计和当天的调用统计，包括请求数、成功率、平均延迟、字符和 token 用量、
费用以及缓存命中率。

Examples:
  # 表格形式显示统计
  translator stats

  # 显示各提供商的错误分布
  translator stats --errors

  # 以 JSON 输出
  translator stats --json

  # 清空统计
  translator stats --reset`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(root, func(a *app) error {
				out := cmd.OutOrStdout()
				if reset {
					a.engine.ClearStats()
					successColor.Fprintln(out, "✓ 统计已清空")
					return nil
				}

				snap := a.engine.GetStats()
				if jsonOut {
					return writeJSON(out, snap)
				}
				printTitle(out, "📊 Translation Statistics")
				stats.WriteTable(out, snap)
				if errs {
					printErrorBreakdown(cmd, snap)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "以 JSON 输出")
	cmd.Flags().BoolVar(&reset, "reset", false, "清空所有统计")
	cmd.Flags().BoolVar(&errs, "errors", false, "显示各提供商的错误类别分布")
	return cmd
}

// printErrorBreakdown 按提供商列出错误类别计数
func printErrorBreakdown(cmd *cobra.Command, snap stats.Snapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	warnColor.Fprintln(out, "Errors by kind")
	found := false
	for _, id := range snap.Providers() {
		c := snap.ByProvider[id]
		if len(c.Errors) == 0 {
			continue
		}
		found = true
		kinds := make([]string, 0, len(c.Errors))
		for k := range c.Errors {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		fmt.Fprintf(out, "  %s (retries %d)\n", id, c.Retries)
		for _, k := range kinds {
			fmt.Fprintf(out, "    %-24s %s\n", k, formatNumber(c.Errors[k]))
		}
	}
	if !found {
		fmt.Fprintln(out, "  none")
	}
}
