package launcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"algohub/internal/config"
	"algohub/internal/pkg/logger"
	"algohub/internal/pkg/metrics"
	"algohub/pkg/model"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
)

var (
	ErrNotFound       = errors.New("instance not found")
	ErrNoFreePort     = errors.New("no free port in launcher range")
	ErrAlreadyRunning = errors.New("algorithm instance already running")
)

// ContainerPrefix 容器命名前缀: algohub-<name>
const ContainerPrefix = "algohub-"

// Spec 启动参数
type Spec struct {
	Name  string   `json:"name" binding:"required"`
	Image string   `json:"image" binding:"required"`
	Port  int      `json:"port"` // 0 表示在端口范围内自动分配
	Env   []string `json:"env,omitempty"`
	Cmd   []string `json:"cmd,omitempty"`
}

// Instance 启动器托管的一个算法容器
type Instance struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
}

// StatusSetter 容器停止后把注册记录标记为离线
type StatusSetter interface {
	SetStatus(ctx context.Context, name string, status model.Status) error
}

// Launcher 以容器方式启动和终止内部算法
type Launcher struct {
	engine  Engine
	cfg     config.LauncherConfig
	status  StatusSetter
	metrics *metrics.Metrics

	// portFree 探测端口是否空闲 (测试可替换)
	portFree func(port int) bool

	mu        sync.Mutex
	instances map[string]*Instance
}

type Option func(*Launcher)

func WithStatusSetter(s StatusSetter) Option {
	return func(l *Launcher) { l.status = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Launcher) { l.metrics = m }
}

func WithPortProbe(fn func(port int) bool) Option {
	return func(l *Launcher) { l.portFree = fn }
}

func New(engine Engine, cfg config.LauncherConfig, opts ...Option) *Launcher {
	l := &Launcher{
		engine:    engine,
		cfg:       cfg,
		portFree:  tcpPortFree,
		instances: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch 创建并启动容器
func (l *Launcher) Launch(ctx context.Context, spec Spec) (*Instance, error) {
	l.mu.Lock()
	for _, inst := range l.instances {
		if inst.Name == spec.Name {
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, spec.Name)
		}
	}
	port := spec.Port
	if port == 0 {
		p, err := l.allocatePortLocked()
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		port = p
	}
	// 先占位，防止并发启动分到同一个端口
	placeholder := &Instance{Name: spec.Name, Image: spec.Image, Port: port}
	key := "pending:" + spec.Name
	l.instances[key] = placeholder
	l.mu.Unlock()

	inst, err := l.start(ctx, spec, port)

	l.mu.Lock()
	delete(l.instances, key)
	if err == nil {
		l.instances[inst.ID] = inst
	}
	n := len(l.instances)
	l.mu.Unlock()
	l.metrics.SetInstancesRunning(n)

	if err != nil {
		logger.LogBusinessOperation("launch", spec.Name, "", "failed", fmt.Sprintf("启动算法 %s 失败: %v", spec.Name, err), nil)
		return nil, err
	}
	logger.LogBusinessOperation("launch", spec.Name, "", "success",
		fmt.Sprintf("启动算法 %s 端口 %d", spec.Name, port),
		map[string]interface{}{"container_id": shortID(inst.ID), "image": spec.Image})
	return inst, nil
}

func (l *Launcher) start(ctx context.Context, spec Spec, port int) (*Instance, error) {
	containerPort, err := nat.NewPort("tcp", strconv.Itoa(port))
	if err != nil {
		return nil, err
	}

	// 容器内运行 worker，通过环境变量告诉它名称和端口
	env := append([]string{
		"ALGOHUB_WORKER_NAME=" + spec.Name,
		"ALGOHUB_WORKER_SERVICE_PORT=" + strconv.Itoa(port),
		"ALGOHUB_WORKER_IS_REMOTE=false",
	}, spec.Env...)

	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          env,
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
		Labels:       map[string]string{"algohub.name": spec.Name},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(port)}},
		},
	}

	// 1. 创建容器 (Create Container)
	id, err := l.engine.Create(ctx, ContainerPrefix+spec.Name, cfg, host)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	// 2. 启动容器 (Start Container)，失败时清理
	if err := l.engine.Start(ctx, id); err != nil {
		_ = l.engine.Remove(ctx, id)
		return nil, fmt.Errorf("start container: %w", err)
	}

	return &Instance{
		ID:        id,
		Name:      spec.Name,
		Image:     spec.Image,
		Port:      port,
		StartedAt: time.Now(),
	}, nil
}

// Stop 停止并删除容器，注册记录标记为离线
func (l *Launcher) Stop(ctx context.Context, id string) error {
	l.mu.Lock()
	inst, ok := l.instances[id]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := l.engine.Stop(ctx, id, l.cfg.StopTimeout); err != nil {
		logger.Warnf("[Launcher] stop %s: %v, removing forcibly", shortID(id), err)
	}
	if err := l.engine.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}

	l.mu.Lock()
	delete(l.instances, id)
	n := len(l.instances)
	l.mu.Unlock()
	l.metrics.SetInstancesRunning(n)

	if l.status != nil {
		if err := l.status.SetStatus(ctx, inst.Name, model.StatusOffline); err != nil {
			logger.Debugf("[Launcher] mark %s offline: %v", inst.Name, err)
		}
	}
	logger.LogBusinessOperation("terminate", inst.Name, "", "success",
		fmt.Sprintf("终止算法 %s", inst.Name), map[string]interface{}{"container_id": shortID(id)})
	return nil
}

// List 当前托管的实例 (按名称排序)
func (l *Launcher) List() []*Instance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Instance, 0, len(l.instances))
	for _, inst := range l.instances {
		if inst.ID == "" {
			continue
		}
		c := *inst
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close 停止所有托管实例并关闭客户端
func (l *Launcher) Close(ctx context.Context) error {
	for _, inst := range l.List() {
		if err := l.Stop(ctx, inst.ID); err != nil {
			logger.Warnf("[Launcher] close: %v", err)
		}
	}
	return l.engine.Close()
}

// allocatePortLocked 在端口范围内找第一个未被托管实例占用且本机空闲的端口
func (l *Launcher) allocatePortLocked() (int, error) {
	used := make(map[int]bool, len(l.instances))
	for _, inst := range l.instances {
		used[inst.Port] = true
	}
	for p := l.cfg.PortMin; p <= l.cfg.PortMax; p++ {
		if !used[p] && l.portFree(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w %d-%d", ErrNoFreePort, l.cfg.PortMin, l.cfg.PortMax)
}

func tcpPortFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
