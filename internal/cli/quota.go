package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/translation"
)

// newQuotaCommand 创建 quota 命令
func newQuotaCommand(root *rootOptions) *cobra.Command {
	var (
		watch   time.Duration
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "quota [provider...]",
		Short: "查询提供商配额，默认查询所有已启用的提供商",
		Example: `  translator quota
  translator quota deepl
  translator quota --watch 5m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(root, func(a *app) error {
				ids := args
				if len(ids) == 0 {
					ids = enabledIDs(a)
				}
				for i := range ids {
					ids[i] = strings.ToLower(ids[i])
				}
				out := cmd.OutOrStdout()

				render := func(reports []translation.QuotaReport) {
					if jsonOut {
						_ = writeJSON(out, quotaJSON(reports))
						return
					}
					writeQuotaTable(out, reports, time.Now())
				}

				if watch > 0 {
					a.engine.Quota().Watch(cmd.Context(), ids, watch, render)
					return nil
				}
				render(a.engine.Quota().CheckAll(cmd.Context(), ids))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&watch, "watch", 0, "按间隔持续查询，直到中断")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "以 JSON 输出")
	return cmd
}

// enabledIDs 配置中已启用且已注册的提供商
func enabledIDs(a *app) []string {
	var ids []string
	for id := range a.cfg.Providers {
		if !providers.IsEnabled(a.cfg.Providers, id) {
			continue
		}
		if _, ok := a.registry.Info(id); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

type quotaRow struct {
	Provider  string               `json:"provider"`
	Supported bool                 `json:"supported"`
	Info      *providers.QuotaInfo `json:"info,omitempty"`
	Error     string               `json:"error,omitempty"`
	CheckedAt time.Time            `json:"checked_at"`
}

func quotaJSON(reports []translation.QuotaReport) []quotaRow {
	rows := make([]quotaRow, 0, len(reports))
	for _, r := range reports {
		row := quotaRow{Provider: r.Provider, Supported: r.Supported(), Info: r.Info, CheckedAt: r.CheckedAt}
		if r.Err != nil && r.Supported() {
			row.Error = r.Err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}

// writeQuotaTable 输出配额表格
func writeQuotaTable(w io.Writer, reports []translation.QuotaReport, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Provider Quota")
	t.AppendHeader(table.Row{"Provider", "Used", "Limit", "Remaining", "Usage", "Unit", "Reset", "Checked"})

	for _, r := range reports {
		switch {
		case !r.Supported():
			t.AppendRow(table.Row{r.Provider, "-", "-", "-", "-", "-", "-", "not supported"})
		case r.Err != nil:
			t.AppendRow(table.Row{r.Provider, "-", "-", "-", "-", "-", "-", failColor.Sprint(truncate(r.Err.Error(), 40))})
		default:
			q := r.Info
			limit, remaining := "unlimited", "unlimited"
			if q.Limit > 0 {
				limit = formatNumber(q.Limit)
				remaining = formatNumber(q.Remaining())
			}
			usage := fmt.Sprintf("%.1f%%", q.UsageRatio()*100)
			if q.UsageRatio() >= 0.9 {
				usage = warnColor.Sprint(usage)
			}
			reset := "-"
			if q.ResetAt != nil {
				reset = formatTime(*q.ResetAt, now)
			}
			t.AppendRow(table.Row{r.Provider, formatNumber(q.Used), limit, remaining, usage, string(q.Unit), reset,
				formatTime(r.CheckedAt, now)})
		}
	}
	t.Render()
}
