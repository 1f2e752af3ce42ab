package launcher

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Engine 启动器对容器运行时的最小需求
type Engine interface {
	Create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string) error
	Close() error
}

type dockerEngine struct {
	cli *client.Client
}

// NewDockerEngine 自动从环境变量或默认路径连接本地 Docker
func NewDockerEngine() (Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("init docker client: %w", err)
	}
	return &dockerEngine{cli: cli}, nil
}

func (e *dockerEngine) Create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := e.cli.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *dockerEngine) Start(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, types.ContainerStartOptions{})
}

func (e *dockerEngine) Stop(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
}

func (e *dockerEngine) Remove(ctx context.Context, id string) error {
	return e.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
}

func (e *dockerEngine) Close() error {
	return e.cli.Close()
}
