package reporter

import (
	"context"
	"fmt"

	"algohub/internal/config"
	"algohub/pkg/model"
)

// Reporter 把算法进程的状态上报给监控端
type Reporter interface {
	Send(ctx context.Context, msg *model.StatusMessage) error
	Close() error
}

// New 按 report.transport 创建上报器
func New(cfg config.ReportConfig) (Reporter, error) {
	switch cfg.Transport {
	case "", "http":
		return NewHTTP(cfg.URL, cfg.Timeout, cfg.Retries), nil
	case "udp":
		return NewUDP(cfg.UDPAddr)
	default:
		return nil, fmt.Errorf("unknown report transport %q", cfg.Transport)
	}
}
