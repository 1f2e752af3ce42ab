package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"algohub/internal/config"
	"algohub/internal/pkg/logger"
	"algohub/internal/worker/reporter"
	"algohub/internal/worker/sidecar"
	"algohub/pkg/model"
)

// Agent 算法进程的运行时: 周期上报状态，托管终止服务
type Agent struct {
	cfg      config.WorkerConfig
	interval time.Duration
	timeout  time.Duration

	reporter reporter.Reporter
	sidecar  *sidecar.Sidecar
	sampler  *reporter.Sampler
	ip       string

	mu     sync.RWMutex
	status model.Status
	notify chan struct{}
}

type Option func(*Agent)

func WithSidecar(s *sidecar.Sidecar) Option {
	return func(a *Agent) { a.sidecar = s }
}

func WithSampler(s *reporter.Sampler) Option {
	return func(a *Agent) { a.sampler = s }
}

func NewAgent(cfg config.WorkerConfig, report config.ReportConfig, rep reporter.Reporter, opts ...Option) *Agent {
	a := &Agent{
		cfg:      cfg,
		interval: report.Interval,
		timeout:  report.Timeout,
		reporter: rep,
		status:   model.StatusIdle,
		notify:   make(chan struct{}, 1),
	}
	if a.interval <= 0 {
		a.interval = 2 * time.Second
	}
	if a.timeout <= 0 {
		a.timeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(a)
	}

	a.ip = cfg.IP
	if a.ip == "" {
		a.ip = sidecar.PrimaryIP()
	}
	return a
}

// Run 阻塞直到 ctx 结束或收到终止请求，退出前上报离线
func (a *Agent) Run(ctx context.Context) error {
	// 1. 启动终止服务
	var terminated <-chan struct{}
	if a.sidecar != nil {
		if err := a.sidecar.Start(); err != nil {
			return err
		}
		terminated = a.sidecar.Done()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.timeout)
			defer cancel()
			_ = a.sidecar.Shutdown(shutdownCtx)
		}()
	}

	logger.LogSystemEvent("worker", "start",
		fmt.Sprintf("算法 %s 开始上报状态 (每 %s)", a.cfg.Name, a.interval), logger.InfoLevel,
		map[string]interface{}{"ip": a.ip, "port": a.cfg.ServicePort})

	// 2. 心跳循环: 立即上报一次，之后按周期或状态变化上报
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	a.report(ctx, a.Status())

	for {
		select {
		case <-ctx.Done():
			a.reportOffline()
			return nil
		case <-terminated:
			logger.LogSystemEvent("worker", "terminate", "收到终止请求，正在退出", logger.InfoLevel, nil)
			a.reportOffline()
			return nil
		case <-ticker.C:
			a.report(ctx, a.Status())
		case <-a.notify:
			a.report(ctx, a.Status())
		}
	}
}

// SetStatus 算法代码在调用前后切换 busy/idle，变化会立即上报
func (a *Agent) SetStatus(st model.Status) error {
	if st != model.StatusIdle && st != model.StatusBusy {
		return fmt.Errorf("%w: worker can only set idle or busy, got %q", model.ErrInvalidStatus, st)
	}
	a.mu.Lock()
	changed := a.status != st
	a.status = st
	a.mu.Unlock()

	if changed {
		select {
		case a.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

func (a *Agent) Status() model.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Invoke 在 busy 状态下执行一次算法调用
func (a *Agent) Invoke(fn func() error) error {
	_ = a.SetStatus(model.StatusBusy)
	defer a.SetStatus(model.StatusIdle)
	return fn()
}

// RegisterProcess 把子进程暴露给终止服务
func (a *Agent) RegisterProcess(number string, pid int32) {
	if a.sidecar != nil {
		a.sidecar.RegisterProcess(number, pid)
	}
}

// Message 当前状态对应的上报消息
func (a *Agent) Message(st model.Status) *model.StatusMessage {
	usage := a.sampler.Sample()
	port := model.Port(a.cfg.ServicePort)
	remote := a.cfg.IsRemote
	now := time.Now().UnixMilli()

	var sidecarPort *model.Port
	if a.sidecar != nil && a.sidecar.Port() > 0 {
		p := model.Port(a.sidecar.Port())
		sidecarPort = &p
	}

	return &model.StatusMessage{
		Name:        a.cfg.Name,
		Category:    a.cfg.Category,
		Class:       a.cfg.Class,
		Subcategory: a.cfg.Subcategory,
		Version:     a.cfg.Version,
		Creator:     a.cfg.Creator,
		Maintainer:  a.cfg.Maintainer,
		Description: a.cfg.Description,
		NetworkInfo: &model.MessageNetworkInfo{
			IP:          a.ip,
			Port:        &port,
			Status:      st,
			IsRemote:    &remote,
			CPUUsage:    usage.CPU,
			MemoryUsage: usage.Memory,
			GPUUsage:    usage.GPU,
			SidecarPort: sidecarPort,
			LastUpdate:  &now,
		},
	}
}

func (a *Agent) report(ctx context.Context, st model.Status) {
	sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	// 失败已在 reporter 内记录，下个周期重试
	_ = a.reporter.Send(sendCtx, a.Message(st))
}

// reportOffline 退出时的最后一次上报，ctx 已经结束，使用独立的超时
func (a *Agent) reportOffline() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.reporter.Send(ctx, a.Message(model.StatusOffline)); err == nil {
		logger.Infof("[Worker] 已上报离线状态: %s", a.cfg.Name)
	}
}
