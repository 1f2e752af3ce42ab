package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"algohub/internal/config"
	"algohub/internal/master/launcher"
	"algohub/internal/master/registry"
	"algohub/internal/master/selector"
	"algohub/internal/pkg/logger"
	"algohub/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Server 监控端 HTTP 服务: 心跳接收、查询、选择、终止转发、实例管理
type Server struct {
	cfg         config.ServerConfig
	registry    *registry.Registry
	selector    *selector.Selector
	launcher    *launcher.Launcher // nil 表示未启用
	metrics     *metrics.Metrics
	metricsPath string

	sidecarPort int
	client      *http.Client
	hub         *Hub
	engine      *gin.Engine
}

type Option func(*Server)

func WithLauncher(l *launcher.Launcher) Option {
	return func(s *Server) { s.launcher = l }
}

// WithMetrics 同时在 path 挂载 prometheus 端点，path 为空时用 /metrics
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// WithHTTPClient 转发终止请求使用的客户端
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.client = c }
}

func New(cfg config.ServerConfig, reg *registry.Registry, sel *selector.Selector, sidecarPort int, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		registry:    reg,
		selector:    sel,
		sidecarPort: sidecarPort,
		client:      &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(reg, s.metrics)

	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), logger.AccessLogMiddleware(), s.metricsMiddleware())
	s.setupRoutes()
	return s
}

// Handler 供测试和自定义监听使用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub 事件推送中心 (Serve 时启动)
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.index)
	s.engine.GET("/health", s.health)

	// 兼容 HTTP 上报器的固定路径
	s.engine.POST("/resource/webSocketOnMessage", s.receiveStatus)

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/algorithms", s.listAlgorithms)
		v1.GET("/algorithms/:name", s.getAlgorithm)
		v1.DELETE("/algorithms/:name", s.deleteAlgorithm)
		v1.POST("/algorithms/:name/terminate", s.terminateAlgorithm)
		v1.GET("/select", s.selectAlgorithm)

		if s.launcher != nil {
			v1.GET("/instances", s.listInstances)
			v1.POST("/instances", s.launchInstance)
			v1.DELETE("/instances/:id", s.stopInstance)
		}
	}

	s.engine.GET("/ws/status", s.hub.HandleWebSocket)

	if s.metrics != nil {
		path := s.metricsPath
		if path == "" {
			path = "/metrics"
		}
		s.engine.GET(path, gin.WrapH(s.metrics.Handler()))
	}
}

// Run 阻塞直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	s.hub.Start(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.LogSystemEvent("api", "start", "HTTP 服务监听 "+ln.Addr().String(), logger.InfoLevel, nil)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.LogSystemEvent("api", "stop", "HTTP 服务已关闭", logger.InfoLevel, nil)
	return nil
}

// metricsMiddleware path 标签取路由模板而不是原始路径
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
