package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"algohub/internal/config"
	"algohub/internal/pkg/logger"
	"algohub/internal/worker"
	"algohub/internal/worker/reporter"
	"algohub/internal/worker/sidecar"
)

func runWorker(parent context.Context, command []string) error {
	if parent == nil {
		parent = context.Background()
	}

	// 1. 加载配置，命令行参数优先
	config.LoadDotEnv()
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	applyFlags(cfg)
	if err := cfg.Validate(config.RoleWorker); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 上报器
	rep, err := reporter.New(cfg.Report)
	if err != nil {
		return err
	}
	defer rep.Close()

	opts := []worker.Option{}
	if sampler, err := reporter.NewSampler(); err != nil {
		logger.Warnf("[Worker] resource sampling disabled: %v", err)
	} else {
		opts = append(opts, worker.WithSampler(sampler))
	}

	// 3. 终止服务
	if cfg.Sidecar.Enabled {
		sc := sidecar.New(cfg.Sidecar, sidecar.Identity{Name: cfg.Worker.Name, ServicePort: cfg.Worker.ServicePort})
		opts = append(opts, worker.WithSidecar(sc))
	}
	agent := worker.NewAgent(cfg.Worker, cfg.Report, rep, opts...)

	// 4. 托管算法进程 (可选)，进程退出时 worker 一起退出
	if len(command) > 0 {
		child, err := startChild(command)
		if err != nil {
			return err
		}
		agent.RegisterProcess("1", int32(child.Process.Pid))
		exited := make(chan struct{})
		go func() {
			err := child.Wait()
			close(exited)
			logger.LogSystemEvent("worker", "child_exit", fmt.Sprintf("算法进程退出: %v", err), logger.InfoLevel,
				map[string]interface{}{"pid": child.Process.Pid})
			stop()
		}()
		defer func() {
			select {
			case <-exited:
			default:
				_ = child.Process.Signal(syscall.SIGTERM)
			}
		}()
	}

	// 5. 运行直到收到信号或终止请求
	return agent.Run(ctx)
}

func applyFlags(cfg *config.Config) {
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if name != "" {
		cfg.Worker.Name = name
	}
	if port != 0 {
		cfg.Worker.ServicePort = port
	}
	if monitorURL != "" {
		cfg.Report.URL = monitorURL
	}
	if transport != "" {
		cfg.Report.Transport = transport
	}
}

func startChild(command []string) (*exec.Cmd, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command[0], err)
	}
	logger.LogSystemEvent("worker", "child_start", "启动算法进程 "+command[0], logger.InfoLevel,
		map[string]interface{}{"pid": cmd.Process.Pid})
	return cmd, nil
}
