package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-translator-hub/internal/config"
	"github.com/nerdneilsfield/go-translator-hub/internal/logger"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/factory"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/stats"
	"github.com/nerdneilsfield/go-translator-hub/pkg/store"
	"github.com/nerdneilsfield/go-translator-hub/pkg/translation"
)

// app 一次命令执行期间的进程级状态：从快照恢复，结束时显式写回
type app struct {
	opts     *rootOptions
	cfg      *config.Config
	log      *zap.Logger
	registry *providers.Registry
	store    store.Store
	engine   *translation.Engine

	stopAutoSave func()
}

// newApp 加载配置、注册提供商并恢复统计和缓存快照
func newApp(opts *rootOptions) (*app, error) {
	if err := config.LoadEnv(opts.envFile); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(opts.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}

	log := newLogger(opts, cfg.Log)

	registry := providers.NewRegistry()
	if err := factory.Apply(registry, cfg.Providers, log); err != nil {
		// 单个提供商创建失败时其余提供商仍可用
		log.Warn("some providers could not be created", zap.Error(err))
	}

	s, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("打开数据目录失败: %w", err)
	}

	agg := stats.NewAggregator(stats.WithLogger(log))
	if err := agg.Load(s); err != nil {
		log.Warn("failed to load stats snapshot, starting empty", zap.Error(err))
	}

	ecfg := cfg.EngineConfig()
	cache := translation.NewCache(ecfg.CacheCapacity, ecfg.CacheTTL)
	if err := cache.Load(s); err != nil {
		log.Warn("failed to load cache snapshot, starting empty", zap.Error(err))
	}

	engine := translation.NewEngine(registry, ecfg,
		translation.WithLogger(log),
		translation.WithStats(agg),
		translation.WithCache(cache),
	)

	return &app{
		opts:     opts,
		cfg:      cfg,
		log:      log,
		registry: registry,
		store:    s,
		engine:   engine,
	}, nil
}

// newLogger 未配置日志文件且未开启调试时不输出日志
func newLogger(opts *rootOptions, logOpts logger.Options) *zap.Logger {
	if opts.logFile != "" {
		logOpts.File = opts.logFile
	}
	if opts.debug {
		logOpts.Debug = true
		logOpts.Console = true
	}
	if logOpts.File == "" && !logOpts.Console {
		return zap.NewNop()
	}
	return logger.New(logOpts)
}

// startAutoSave 命令运行期间按间隔写回统计
func (a *app) startAutoSave() {
	interval := a.cfg.AutoSaveInterval
	if a.opts.noSave || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.engine.Stats().AutoSave(ctx, a.store, interval)
	}()
	a.stopAutoSave = func() {
		cancel()
		<-done
	}
}

// close 写回统计和缓存快照
func (a *app) close() error {
	defer func() {
		_ = a.log.Sync()
	}()
	if a.stopAutoSave != nil {
		a.stopAutoSave()
	}
	if a.opts.noSave {
		return nil
	}
	return errors.Join(
		a.engine.Stats().Save(a.store),
		a.engine.Cache().Save(a.store),
	)
}

// run 创建 app 执行 fn，结束后保存快照
func run(opts *rootOptions, fn func(a *app) error) (err error) {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	a.startAutoSave()
	defer func() {
		if cerr := a.close(); cerr != nil {
			a.log.Warn("failed to save snapshots", zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
	}()
	return fn(a)
}
