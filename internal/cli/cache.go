package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// newCacheCommand 创建 cache 命令
func newCacheCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "查看和管理翻译结果缓存",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "显示缓存容量、使用率和命中情况",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(root, func(a *app) error {
				out := cmd.OutOrStdout()
				c := a.engine.Cache()
				snap := a.engine.GetStats()
				now := time.Now()

				printTitle(out, "💾 Cache Statistics")
				fmt.Fprintf(out, "  Data Directory: %s\n", a.cfg.DataDir)
				fmt.Fprintf(out, "  Entries: %s / %s (%.1f%%)\n",
					formatNumber(int64(c.Size())), formatNumber(int64(c.Capacity())), c.UsageRatio()*100)
				fmt.Fprintf(out, "  TTL: %s\n", formatDuration(a.cfg.Engine.CacheTTL))
				fmt.Fprintf(out, "  Hit Rate: %.1f%% (%d hits, %d misses)\n",
					snap.Cache.HitRate()*100, snap.Cache.Hits, snap.Cache.Misses)

				entries := c.Entries()
				if len(entries) > 0 {
					newest, oldest := entries[0], entries[len(entries)-1]
					fmt.Fprintf(out, "  Most Recent: %s\n", formatTime(newest.CreatedAt, now))
					fmt.Fprintf(out, "  Least Recent: %s\n", formatTime(oldest.CreatedAt, now))
				}
				return nil
			})
		},
	})

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "按最近使用顺序列出缓存条目",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(root, func(a *app) error {
				entries := a.engine.Cache().Entries()
				if limit > 0 && len(entries) > limit {
					entries = entries[:limit]
				}
				now := time.Now()

				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"Key", "Provider", "Translation", "Created", "Expires"})
				for _, e := range entries {
					t.AppendRow(table.Row{
						e.Fingerprint[:min(12, len(e.Fingerprint))],
						e.Response.Provider,
						truncate(e.Response.TranslatedText, 40),
						formatTime(e.CreatedAt, now),
						formatTime(e.ExpiresAt, now),
					})
				}
				t.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "最多显示的条目数，0 表示全部")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "删除已过期的缓存条目",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(root, func(a *app) error {
				n := a.engine.Cache().Purge()
				successColor.Fprintf(cmd.OutOrStdout(), "✓ 已删除 %d 个过期条目\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "清空缓存",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(root, func(a *app) error {
				a.engine.ClearCache()
				successColor.Fprintln(cmd.OutOrStdout(), "✓ 缓存已清空")
				return nil
			})
		},
	})
	return cmd
}
