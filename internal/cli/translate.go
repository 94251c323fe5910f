package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/nerdneilsfield/go-translator-hub/internal/config"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/translation"
)

// translateOptions translate 命令的标志
type translateOptions struct {
	source     string
	target     string
	provider   string
	strict     bool
	formality  string
	domain     string
	glossary   string
	preserve   bool
	parallel   bool
	noCache    bool
	noFallback bool
	retries    int
	timeout    time.Duration
	jsonOut    bool
	verbose    bool
}

// newTranslateCommand 创建 translate 命令
func newTranslateCommand(root *rootOptions) *cobra.Command {
	opts := &translateOptions{retries: -1}

	cmd := &cobra.Command{
		Use:   "translate [text...]",
		Short: "翻译文本，未给出参数时从标准输入读取",
		Example: `  translator translate --target zh-CN "Hello"
  echo "Bonjour" | translator translate --target en --provider deepl --strict
  translator translate --target de --parallel --json "Good morning"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return run(root, func(a *app) error {
				return runTranslate(cmd, a, opts, text)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.source, "source", "s", "", "源语言（默认取配置，auto 为自动检测）")
	flags.StringVarP(&opts.target, "target", "t", "", "目标语言（默认取配置）")
	flags.StringVarP(&opts.provider, "provider", "p", "", "优先使用的提供商")
	flags.BoolVar(&opts.strict, "strict", false, "只使用 --provider 指定的提供商")
	flags.StringVar(&opts.formality, "formality", "", "正式度: default, formal, informal")
	flags.StringVar(&opts.domain, "domain", "", "领域: general, medical, legal, technical, finance")
	flags.StringVar(&opts.glossary, "glossary", "", "术语表文件（TOML），默认取配置")
	flags.BoolVar(&opts.preserve, "preserve-formatting", false, "保留原文格式")
	flags.BoolVar(&opts.parallel, "parallel", false, "并行请求所有候选提供商，取最先成功的结果")
	flags.BoolVar(&opts.noCache, "no-cache", false, "不读写结果缓存")
	flags.BoolVar(&opts.noFallback, "no-fallback", false, "首选提供商失败时不回退")
	flags.IntVar(&opts.retries, "retries", -1, "每个提供商的重试次数（默认取配置）")
	flags.DurationVar(&opts.timeout, "timeout", 0, "整个请求的超时（默认取配置）")
	flags.BoolVar(&opts.jsonOut, "json", false, "以 JSON 输出完整结果")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "显示提供商、用量和耗时")
	return cmd
}

// readText 拼接参数，无参数时读取标准输入
func readText(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("读取标准输入失败: %w", err)
	}
	text := strings.TrimRight(string(data), "\r\n")
	if strings.TrimSpace(text) == "" {
		return "", errors.New("没有需要翻译的文本")
	}
	return text, nil
}

// buildRequest 由配置和标志构造请求与调度配置
func buildRequest(cfg *config.Config, opts *translateOptions, text string) (translation.Request, translation.ManagerConfig, error) {
	req := translation.Request{
		Text:       text,
		SourceLang: cfg.SourceLang,
		TargetLang: cfg.TargetLang,
		Options: translation.Options{
			Formality:          opts.formality,
			Domain:             opts.domain,
			PreserveFormatting: opts.preserve,
			PreferredProvider:  strings.ToLower(opts.provider),
			StrictProvider:     opts.strict,
		},
	}
	if opts.source != "" {
		req.SourceLang = opts.source
	}
	if opts.target != "" {
		req.TargetLang = opts.target
	}

	glossaryPath := cfg.GlossaryPath
	if opts.glossary != "" {
		glossaryPath = opts.glossary
	}
	if glossaryPath != "" {
		g, err := config.LoadGlossary(glossaryPath)
		if err != nil {
			return req, translation.ManagerConfig{}, err
		}
		if g.Applies(req.SourceLang, req.TargetLang) {
			req.Options.Glossary = g.Terms
		}
	}

	mcfg := cfg.ManagerConfig()
	if opts.parallel {
		mcfg.Options.ParallelTranslation = true
	}
	if opts.noCache {
		mcfg.Options.CacheResults = false
	}
	if opts.noFallback {
		mcfg.Options.AutoFallback = false
	}
	if opts.retries >= 0 {
		mcfg.Options.RetryCount = opts.retries
	}
	if opts.timeout > 0 {
		mcfg.Options.Timeout = opts.timeout
	}
	return req, mcfg, nil
}

// runTranslate 执行翻译并输出结果
func runTranslate(cmd *cobra.Command, a *app, opts *translateOptions, text string) error {
	req, mcfg, err := buildRequest(a.cfg, opts, text)
	if err != nil {
		return err
	}

	var spinner *pterm.SpinnerPrinter
	if showSpinner(cmd, a.opts, opts) {
		spinner, _ = pterm.DefaultSpinner.
			WithWriter(cmd.ErrOrStderr()).
			WithRemoveWhenDone(true).
			Start(fmt.Sprintf("正在翻译为 %s ...", req.TargetLang))
	}

	start := time.Now()
	resp, err := a.engine.Translate(cmd.Context(), req, mcfg)
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		a.log.Error("translation failed", zap.Error(err))
		printFailure(cmd.ErrOrStderr(), err)
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		return writeJSON(out, resp)
	}
	fmt.Fprintln(out, resp.TranslatedText)

	if opts.verbose {
		w := cmd.ErrOrStderr()
		source := resp.DetectedSourceLanguage
		if source == "" {
			source = req.SourceLang
		}
		origin := resp.Provider
		if resp.Model != "" {
			origin += "/" + resp.Model
		}
		if resp.FromCache {
			origin += " (cache)"
		}
		dimColor.Fprintf(w, "%s → %s via %s | %s chars | $%.6f | %s\n",
			source, req.TargetLang, origin,
			formatNumber(int64(resp.Usage.Characters)), resp.Usage.Cost,
			formatDuration(time.Since(start).Round(time.Millisecond)))
		for _, alt := range resp.Alternatives {
			dimColor.Fprintf(w, "  alt (%.2f): %s\n", alt.Confidence, alt.Text)
		}
	}
	return nil
}

// showSpinner 仅在标准错误为终端时显示
func showSpinner(cmd *cobra.Command, root *rootOptions, opts *translateOptions) bool {
	if root.hideSpin || opts.jsonOut || root.debug {
		return false
	}
	f, ok := cmd.ErrOrStderr().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printFailure 逐个列出失败的提供商
func printFailure(w io.Writer, err error) {
	var exhausted *translation.ExhaustedError
	if errors.As(err, &exhausted) {
		failColor.Fprintln(w, "✗ 所有提供商均失败:")
		for _, at := range exhausted.Attempts {
			msg := ""
			if at.Err != nil {
				msg = at.Err.Error()
			}
			fmt.Fprintf(w, "  - %-16s %-22s tries=%d %s\n", at.Provider, at.Kind, at.Tries, truncate(msg, 80))
		}
		return
	}
	var perr *providers.Error
	if errors.As(err, &perr) {
		failColor.Fprintf(w, "✗ %s\n", perr.Error())
		return
	}
	failColor.Fprintf(w, "✗ %v\n", err)
}
