package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/jinx-bot/jinx-cache/internal/apicache"
	"github.com/jinx-bot/jinx-cache/internal/config"
	"github.com/jinx-bot/jinx-cache/internal/jinxxy"
	"github.com/jinx-bot/jinx-cache/internal/logging"
	"github.com/jinx-bot/jinx-cache/internal/metrics"
	"github.com/jinx-bot/jinx-cache/internal/server"
	"github.com/jinx-bot/jinx-cache/internal/server/routes"
	"github.com/jinx-bot/jinx-cache/internal/storage"
	"github.com/jinx-bot/jinx-cache/internal/version"
)

const shutdownTimeout = 10 * time.Second

// service 持有一次 serve 运行期间的全部组件。
type service struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    *storage.RedisStore
	cache    *apicache.ApiCache
	registry *prometheus.Registry
	app      *fiber.App
}

// newService 按"存储 → 上游客户端 → 指标 → 缓存 → Fiber"顺序装配组件。
// 低优先级刷新周期只在存储中尚未设置时写入配置中的种子值。
func newService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	store, err := storage.NewRedisStore(ctx, storage.Options{
		Addr:     cfg.Global.RedisAddr,
		Password: cfg.Global.RedisPassword,
		DB:       cfg.Global.RedisDB,
	})
	if err != nil {
		return nil, err
	}

	seed := cfg.Cache.LowPriorityExpiry.DurationValue()
	seeded, err := store.SeedLowPriorityExpiry(ctx, seed)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("seed low priority expiry: %w", err)
	}
	if seeded {
		logger.WithFields(logrus.Fields{
			"action":    "seed_expiry",
			"expiry_ms": seed.Milliseconds(),
		}).Info("low_priority_expiry_seeded")
	}

	client, err := jinxxy.NewClient(jinxxy.Options{
		BaseURL:            cfg.Upstream.BaseURL,
		Timeout:            cfg.Upstream.Timeout.DurationValue(),
		QPS:                cfg.Upstream.QPS,
		ParallelFetchLimit: cfg.Upstream.ParallelFetchLimit,
		Logger:             logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	cacheMetrics := metrics.NewCache(registry)

	cache, err := apicache.New(apicache.Options{
		Upstream: client,
		Store:    store,
		Settings: settingsFromConfig(cfg.Cache),
		Logger:   logger,
		Metrics:  cacheMetrics,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	metrics.RegisterSizeFuncs(registry, cache.Len, cache.ProductCount, cache.ProductVersionCount)

	app, err := server.NewApp(server.AppOptions{Logger: logger})
	if err != nil {
		cache.Close()
		_ = store.Close()
		return nil, err
	}
	routes.RegisterCacheRoutes(app, cache, store, logger)
	routes.RegisterMetricsRoute(app, registry)

	return &service{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		cache:    cache,
		registry: registry,
		app:      app,
	}, nil
}

func settingsFromConfig(c config.CacheConfig) apicache.Settings {
	return apicache.Settings{
		HighPriorityExpiry:    c.HighPriorityExpiry.DurationValue(),
		LowPriorityFudge:      c.LowPriorityFudge.DurationValue(),
		MinSleep:              c.MinSleep.DurationValue(),
		MaxWorkPerWake:        c.MaxWorkPerWake,
		HighPriorityQueueSize: c.HighPriorityQueueSize,
		ControlQueueSize:      c.ControlQueueSize,
		AutocompleteLimit:     c.AutocompleteLimit,
	}
}

// reload 应用热更新的配置。只有刷新周期与日志级别会在运行期生效，
// 其它字段需要重启进程。
func (s *service) reload(ctx context.Context, next *config.Config) {
	fields := logrus.Fields{"action": "config_reload"}

	if changed, err := logging.ApplyLevel(s.logger, next.Global.LogLevel); err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("log_level_ignored")
	} else if changed {
		fields["log_level"] = next.Global.LogLevel
	}

	prev := s.cfg.Cache.LowPriorityExpiry.DurationValue()
	expiry := next.Cache.LowPriorityExpiry.DurationValue()
	if expiry != prev {
		if err := s.store.SetLowPriorityExpiry(ctx, expiry); err != nil {
			s.logger.WithFields(fields).WithError(err).Error("low_priority_expiry_update_failed")
			return
		}
		s.cache.Bump()
		fields["expiry_ms"] = expiry.Milliseconds()
	}

	s.cfg = next
	s.logger.WithFields(fields).Info("config_applied")
}

func (s *service) Close() {
	s.cache.Close()
	_ = s.store.Close()
}

// runServe 启动服务并阻塞，直到收到 SIGINT/SIGTERM 或监听失败。
func runServe(ctx context.Context, opts cliOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}
	defer svc.Close()

	go func() {
		if err := config.Watch(ctx, opts.configPath, logger, func(next *config.Config) {
			svc.reload(ctx, next)
		}); err != nil {
			logger.WithFields(logging.BaseFields("config_watch", opts.configPath)).
				WithError(err).Warn("config_watch_unavailable")
		}
	}()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_addr"] = cfg.Global.ListenAddr
	fields["redis_addr"] = cfg.Global.RedisAddr
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.app.Listen(cfg.Global.ListenAddr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("服务停止")
	return svc.app.ShutdownWithTimeout(shutdownTimeout)
}
