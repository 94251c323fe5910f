package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// rootOptions 全局标志
type rootOptions struct {
	cfgFile  string
	envFile  string
	dataDir  string
	logFile  string
	debug    bool
	noColor  bool
	noSave   bool
	hideSpin bool
}

// NewRootCommand 创建根命令
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "translator",
		Short: "多提供商翻译调度工具",
		Long: `translator 将翻译请求分发到多个翻译提供商，支持自动回退、并行竞速、
重试退避、结果缓存、用量统计和配额查询。

支持的翻译提供商:
  - google: Google Cloud Translation
  - deepl: DeepL 专业翻译
  - deeplx: DeepLX (免费 DeepL 替代)
  - libretranslate: LibreTranslate (开源)
  - baidu: 百度翻译
  - openai: OpenAI GPT 模型
  - deepseek / groq / moonshot / openrouter: OpenAI 兼容服务
  - ollama: Ollama 本地大语言模型`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				disableColor()
			}
		},
	}

	addGlobalFlags(rootCmd, opts)

	rootCmd.AddCommand(
		newTranslateCommand(opts),
		newStatsCommand(opts),
		newCacheCommand(opts),
		newQuotaCommand(opts),
		newValidateCommand(opts),
		newProvidersCommand(opts),
		newConfigCommand(opts),
	)
	return rootCmd
}

// addGlobalFlags 添加全局标志
func addGlobalFlags(rootCmd *cobra.Command, opts *rootOptions) {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "配置文件路径（默认 ~/.translator-hub.yaml）")
	flags.StringVar(&opts.envFile, "env-file", "", ".env 文件路径")
	flags.StringVar(&opts.dataDir, "data-dir", "", "统计和缓存快照目录")
	flags.StringVar(&opts.logFile, "log-file", "", "日志文件路径")
	flags.BoolVar(&opts.debug, "debug", false, "启用调试日志")
	flags.BoolVar(&opts.noColor, "no-color", false, "禁用彩色输出")
	flags.BoolVar(&opts.noSave, "no-save", false, "退出时不保存统计和缓存")
	flags.BoolVar(&opts.hideSpin, "no-spinner", false, "不显示进度动画")
}
