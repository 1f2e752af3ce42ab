package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"algohub/internal/config"
	"algohub/internal/master/api"
	"algohub/internal/master/ingest"
	"algohub/internal/master/launcher"
	"algohub/internal/master/registry"
	"algohub/internal/master/selector"
	"algohub/internal/pkg/logger"
	"algohub/internal/pkg/metrics"
	"algohub/pkg/store"
)

func runMaster(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// 1. 加载配置
	config.LoadDotEnv()
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if backend != "" {
		cfg.Registry.Backend = backend
	}
	if err := cfg.Validate(config.RoleMaster); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lm, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics()
	}

	// 2. 初始化注册表存储
	store.SetLogger(lm.GetLogger())
	st, err := store.New(storeOptions(&cfg.Registry))
	if err != nil {
		return fmt.Errorf("init registry store: %w", err)
	}
	defer st.Close()
	logger.LogSystemEvent("master", "store", "registry backend: "+backendName(cfg.Registry.Backend), logger.InfoLevel, nil)

	reg := registry.New(st, cfg.Liveness, registry.WithMetrics(m))
	sel := selector.New(cfg.Liveness.Threshold)

	errCh := make(chan error, 2)

	// 3. 离线检测
	sweeper := registry.NewSweeper(reg, cfg.Liveness.Interval)
	go sweeper.Run(ctx)

	// 4. UDP 心跳监听
	udp, err := ingest.ListenUDP(cfg.UDP.Addr(), cfg.UDP.ReadTimeout, reg)
	if err != nil {
		return err
	}
	go func() { errCh <- udp.Serve(ctx) }()

	// 5. 容器启动器 (可选)
	var opts []api.Option
	if m != nil {
		opts = append(opts, api.WithMetrics(m, cfg.Metrics.Path))
	}
	if cfg.Launcher.Enabled {
		engine, err := launcher.NewDockerEngine()
		if err != nil {
			return err
		}
		l := launcher.New(engine, cfg.Launcher, launcher.WithStatusSetter(reg), launcher.WithMetrics(m))
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Launcher.StopTimeout+5*time.Second)
			defer cancel()
			if err := l.Close(closeCtx); err != nil {
				logger.Warnf("[Master] close launcher: %v", err)
			}
		}()
		opts = append(opts, api.WithLauncher(l))
	}

	// 6. HTTP 服务
	srv := api.New(cfg.HTTP, reg, sel, cfg.Registry.SidecarPort, opts...)
	go func() { errCh <- srv.Run(ctx) }()

	// 7. 配置热更新: 日志级别、离线阈值、扫描间隔
	if watcher, err := config.NewConfigWatcher(configPath(), config.RoleMaster, cfg); err != nil {
		logger.Warnf("[Master] config watcher disabled: %v", err)
	} else {
		watcher.AddCallback(func(_, next *config.Config) error {
			if err := lm.UpdateConfig(&next.Log); err != nil {
				return err
			}
			reg.SetLiveness(next.Liveness.Threshold, next.Liveness.RemoteOnly)
			sel.SetThreshold(next.Liveness.Threshold)
			sweeper.SetInterval(next.Liveness.Interval)
			return nil
		})
		if err := watcher.Start(); err != nil {
			logger.Warnf("[Master] config watcher disabled: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	logger.LogSystemEvent("master", "startup", fmt.Sprintf("UDP %s, HTTP %s", udp.Addr(), cfg.HTTP.Addr()), logger.InfoLevel, nil)

	// 8. 等待退出信号或组件失败
	pending := 2
	var runErr error
	select {
	case <-ctx.Done():
		logger.Infof("Shutting down master...")
	case runErr = <-errCh:
		pending--
	}
	stop()

	// 等待 UDP 和 HTTP 服务退出
	timeout := time.After(10 * time.Second)
	for ; pending > 0; pending-- {
		select {
		case err := <-errCh:
			if runErr == nil {
				runErr = err
			}
		case <-timeout:
			logger.Warnf("[Master] shutdown timed out")
			return runErr
		}
	}
	return runErr
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigFile
}

func storeOptions(r *config.RegistryConfig) store.Options {
	return store.Options{
		Backend:          r.Backend,
		FilePath:         r.FilePath,
		EtcdEndpoints:    r.Etcd.Endpoints,
		EtcdDialTimeout:  r.Etcd.DialTimeout,
		EtcdPrefix:       r.Etcd.Prefix,
		RedisAddr:        r.Redis.Addr(),
		RedisPassword:    r.Redis.Password,
		RedisDB:          r.Redis.Database,
		RedisPoolSize:    r.Redis.PoolSize,
		RedisDialTimeout: r.Redis.DialTimeout,
		RedisPrefix:      r.Redis.Prefix,
	}
}

func backendName(b string) string {
	if b == "" {
		return "file"
	}
	return b
}
