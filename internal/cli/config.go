package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/go-translator-hub/internal/config"
)

// newConfigCommand 创建 config 命令
func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "生成和查看配置",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "写入默认配置文件，凭据以 ${ENV} 占位",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.cfgFile
			if len(args) == 1 {
				path = args[0]
			}
			if path != "" && !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s 已存在，使用 --force 覆盖", path)
				}
			}
			if err := config.SaveConfig(config.NewDefaultConfig(), path); err != nil {
				return fmt.Errorf("写入配置失败: %w", err)
			}
			if path == "" {
				path = "~/" + config.ConfigName + ".yaml"
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ 配置已写入 %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "覆盖已存在的文件")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "显示生效的配置，凭据已脱敏",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(root.envFile); err != nil {
				return err
			}
			cfg, err := config.LoadConfig(root.cfgFile)
			if err != nil {
				return err
			}
			if root.dataDir != "" {
				cfg.DataDir = root.dataDir
			}
			showConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	})
	return cmd
}

// showConfig 分组输出配置
func showConfig(w io.Writer, cfg *config.Config) {
	printTitle(w, "🔧 当前配置信息")

	fmt.Fprintln(w, "\n📋 调度:")
	fmt.Fprintf(w, "  主提供商: %s\n", cfg.PrimaryProvider)
	fmt.Fprintf(w, "  备用提供商: %s\n", strings.Join(cfg.FallbackProviders, ", "))
	fmt.Fprintf(w, "  源语言: %s\n", cfg.SourceLang)
	fmt.Fprintf(w, "  目标语言: %s\n", cfg.TargetLang)
	fmt.Fprintf(w, "  自动回退: %t\n", cfg.Options.AutoFallback)
	fmt.Fprintf(w, "  并行竞速: %t\n", cfg.Options.ParallelTranslation)
	fmt.Fprintf(w, "  重试次数: %d\n", cfg.Options.RetryCount)
	fmt.Fprintf(w, "  请求超时: %s\n", formatDuration(cfg.Options.Timeout))
	if cfg.GlossaryPath != "" {
		fmt.Fprintf(w, "  术语表: %s\n", cfg.GlossaryPath)
	}

	if len(cfg.LanguagePairPreferences) > 0 {
		fmt.Fprintln(w, "\n🌐 语言对偏好:")
		pairs := make([]string, 0, len(cfg.LanguagePairPreferences))
		for k := range cfg.LanguagePairPreferences {
			pairs = append(pairs, k)
		}
		sort.Strings(pairs)
		for _, k := range pairs {
			fmt.Fprintf(w, "  %s → %s\n", k, cfg.LanguagePairPreferences[k])
		}
	}

	fmt.Fprintln(w, "\n💾 缓存与引擎:")
	fmt.Fprintf(w, "  启用缓存: %t\n", cfg.Options.CacheResults)
	fmt.Fprintf(w, "  缓存容量: %s\n", formatNumber(int64(cfg.Engine.CacheCapacity)))
	fmt.Fprintf(w, "  缓存有效期: %s\n", formatDuration(cfg.Engine.CacheTTL))
	fmt.Fprintf(w, "  最大并行数: %d\n", cfg.Engine.MaxParallel)
	fmt.Fprintf(w, "  熔断阈值: %d\n", cfg.Engine.BreakerFailures)
	fmt.Fprintf(w, "  速率限制: %t\n", cfg.Engine.RateLimit)
	fmt.Fprintf(w, "  数据目录: %s\n", cfg.DataDir)

	fmt.Fprintln(w, "\n🤖 提供商:")
	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := cfg.Providers[id]
		state := failColor.Sprint("disabled")
		if s.Enabled {
			state = successColor.Sprint("enabled")
		}
		fmt.Fprintf(w, "  - %s (%s)\n", id, state)
		if s.Config.Type != "" {
			fmt.Fprintf(w, "    类型: %s\n", s.Config.Type)
		}
		if s.Config.Endpoint != "" {
			fmt.Fprintf(w, "    地址: %s\n", s.Config.Endpoint)
		}
		if s.Config.Model != "" {
			fmt.Fprintf(w, "    模型: %s\n", s.Config.Model)
		}
		if key := firstNonEmpty(s.Config.APIKey, s.Config.AppID); key != "" {
			fmt.Fprintf(w, "    密钥: %s\n", maskSecret(key))
		}
		if secret := firstNonEmpty(s.Config.APISecret, s.Config.Secret); secret != "" {
			fmt.Fprintf(w, "    密钥2: %s\n", maskSecret(secret))
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
