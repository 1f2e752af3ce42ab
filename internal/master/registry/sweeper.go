package registry

import (
	"context"
	"time"

	"algohub/internal/pkg/logger"
)

// Sweeper 周期性离线检测
type Sweeper struct {
	registry *Registry
	interval time.Duration
	reset    chan time.Duration
}

// NewSweeper 构造函数
func NewSweeper(r *Registry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{
		registry: r,
		interval: interval,
		reset:    make(chan time.Duration, 1),
	}
}

// SetInterval 热更新扫描间隔，下一个周期生效
func (s *Sweeper) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	// 只保留最新的一次
	select {
	case <-s.reset:
	default:
	}
	s.reset <- d
}

// Run 启动离线检测主循环 (后台常驻 Goroutine)，ctx 结束时返回
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.LogSystemEvent("sweeper", "startup", "liveness sweep started", logger.InfoLevel,
		map[string]interface{}{"interval": s.interval.String()})

	for {
		select {
		case <-ctx.Done():
			logger.LogSystemEvent("sweeper", "shutdown", "liveness sweep stopped", logger.InfoLevel, nil)
			return

		case d := <-s.reset:
			s.interval = d
			ticker.Reset(d)
			logger.Infof("[Sweeper] interval updated to %s", d)

		case <-ticker.C:
			if _, err := s.registry.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.LogError(err, "sweeper", nil)
			}
		}
	}
}
