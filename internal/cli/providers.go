package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/factory"
)

// newProvidersCommand 创建 providers 命令
func newProvidersCommand(root *rootOptions) *cobra.Command {
	var (
		jsonOut bool
		types   bool
	)

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "列出已配置的翻译提供商",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if types {
				for _, t := range factory.Types() {
					fmt.Fprintf(out, "  - %s\n", t)
				}
				return nil
			}
			return run(root, func(a *app) error {
				infos := a.registry.List()
				if jsonOut {
					return writeJSON(out, infos)
				}

				t := table.NewWriter()
				t.SetOutputMirror(out)
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"ID", "Name", "Category", "Enabled", "Role", "Languages", "Features", "Pricing"})
				for _, info := range infos {
					enabled := failColor.Sprint("no")
					if providers.IsEnabled(a.cfg.Providers, info.ID) {
						enabled = successColor.Sprint("yes")
					}
					langs := "any"
					if n := len(info.Languages); n > 0 {
						langs = fmt.Sprintf("%d", n)
					}
					t.AppendRow(table.Row{
						info.ID,
						truncate(info.Name, 24),
						string(info.Category),
						enabled,
						providerRole(a.cfg.PrimaryProvider, a.cfg.FallbackProviders, info.ID),
						langs,
						strings.Join(info.Features, ","),
						pricingLabel(info.Pricing),
					})
				}
				t.Render()
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "以 JSON 输出")
	cmd.Flags().BoolVar(&types, "types", false, "列出支持的适配器类型")
	return cmd
}

// providerRole 提供商在回退链中的位置
func providerRole(primary string, fallbacks []string, id string) string {
	if strings.EqualFold(primary, id) {
		return "primary"
	}
	for i, f := range fallbacks {
		if strings.EqualFold(f, id) {
			return fmt.Sprintf("fallback #%d", i+1)
		}
	}
	return "-"
}

// pricingLabel 计价信息的简短描述
func pricingLabel(p providers.Pricing) string {
	cur := p.Currency
	if cur == "" {
		cur = "USD"
	}
	switch {
	case p.PerMillionChars > 0:
		return fmt.Sprintf("%.2f %s/1M chars", p.PerMillionChars, cur)
	case p.PerMillionInputTokens > 0 || p.PerMillionOutputTokens > 0:
		return fmt.Sprintf("%.2f/%.2f %s/1M tok", p.PerMillionInputTokens, p.PerMillionOutputTokens, cur)
	default:
		return "free"
	}
}

// newValidateCommand 创建 validate 命令
func newValidateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [provider...]",
		Short: "探测提供商凭据是否可用，默认检查所有已启用的提供商",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(root, func(a *app) error {
				ids := args
				if len(ids) == 0 {
					ids = enabledIDs(a)
				}
				if len(ids) == 0 {
					return errors.New("没有已启用的提供商")
				}
				sort.Strings(ids)

				out := cmd.OutOrStdout()
				failed := 0
				for _, id := range ids {
					id = strings.ToLower(id)
					settings, ok := a.cfg.Providers[id]
					if !ok {
						failColor.Fprintf(out, "✗ %-16s not configured\n", id)
						failed++
						continue
					}
					if err := a.engine.ValidateProvider(cmd.Context(), id, settings.Config); err != nil {
						failColor.Fprintf(out, "✗ %-16s %s\n", id, truncate(err.Error(), 80))
						failed++
						continue
					}
					successColor.Fprintf(out, "✓ %-16s ok\n", id)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d providers failed validation", failed, len(ids))
				}
				return nil
			})
		},
	}
}
