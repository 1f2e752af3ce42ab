package sidecar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"algohub/internal/config"
	"algohub/internal/pkg/logger"
	"algohub/pkg/model"

	"github.com/gin-gonic/gin"
)

// ErrAlreadyTerminating 进程已经进入退出流程
var ErrAlreadyTerminating = errors.New("process is already terminating")

// State sidecar 状态: listening -> terminating -> 退出
type State int32

const (
	StateListening State = iota
	StateTerminating
)

func (s State) String() string {
	if s == StateTerminating {
		return "terminating"
	}
	return "listening"
}

// Identity 本进程的标识，终止请求据此匹配
type Identity struct {
	Name        string
	ServicePort int
}

// Sidecar 终止服务: 接收终止请求，校验后结束本进程或登记的子进程
type Sidecar struct {
	cfg      config.SidecarConfig
	identity Identity
	pid      int

	state    atomic.Int32
	logs     *requestLog
	localIPs map[string]bool
	exitHook func()
	killer   func(pid int32) error

	mu       sync.Mutex
	children map[string]int32 // process_number -> pid

	port   atomic.Int32
	server *http.Server
	done   chan struct{}
}

type Option func(*Sidecar)

// WithExitHook 匹配到本进程时调用，缺省向自己发送 SIGTERM
func WithExitHook(fn func()) Option {
	return func(s *Sidecar) { s.exitHook = fn }
}

// WithProcessKiller 结束子进程的方式，缺省 SIGTERM
func WithProcessKiller(fn func(pid int32) error) Option {
	return func(s *Sidecar) { s.killer = fn }
}

// WithLocalIPs 覆盖本机地址探测
func WithLocalIPs(ips ...string) Option {
	return func(s *Sidecar) {
		s.localIPs = make(map[string]bool, len(ips))
		for _, ip := range ips {
			s.localIPs[ip] = true
		}
	}
}

func New(cfg config.SidecarConfig, id Identity, opts ...Option) *Sidecar {
	s := &Sidecar{
		cfg:      cfg,
		identity: id,
		pid:      os.Getpid(),
		logs:     newRequestLog(cfg.LogCapacity),
		killer:   terminateProcess,
		children: make(map[string]int32),
		done:     make(chan struct{}),
	}
	s.exitHook = func() {
		if err := terminateProcess(int32(s.pid)); err != nil {
			logger.Errorf("[Sidecar] 终止当前进程失败: %v", err)
			os.Exit(0)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.localIPs == nil {
		WithLocalIPs(LocalIPs()...)(s)
	}
	s.port.Store(int32(cfg.Port))
	return s
}

// RegisterProcess 登记子进程，终止请求可以用 process_number 指向它
func (s *Sidecar) RegisterProcess(number string, pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[number] = pid
}

func (s *Sidecar) State() State {
	return State(s.state.Load())
}

// Port 实际监听的端口 (可能因为占用而顺延)
func (s *Sidecar) Port() int {
	return int(s.port.Load())
}

// Done 进入 terminating 后关闭
func (s *Sidecar) Done() <-chan struct{} {
	return s.done
}

// Logs 请求记录
func (s *Sidecar) Logs() []LogEntry {
	return s.logs.snapshot()
}

// Start 绑定端口并在后台提供服务
func (s *Sidecar) Start() error {
	ln, err := listen(s.cfg.Host, s.cfg.Port, s.cfg.ReclaimPort, s.cfg.PortAttempts)
	if err != nil {
		return fmt.Errorf("sidecar listen: %w", err)
	}
	s.port.Store(int32(ln.Addr().(*net.TCPAddr).Port))
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError(err, "sidecar", nil)
		}
	}()
	logger.LogSystemEvent("sidecar", "start", fmt.Sprintf("终止服务监听 %s (pid %d)", ln.Addr(), s.pid), logger.InfoLevel, nil)
	return nil
}

func (s *Sidecar) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler 终止服务的路由
func (s *Sidecar) Handler() http.Handler {
	r := gin.New()
	// 白名单按 TCP 对端地址判断，不信任转发头
	_ = r.SetTrustedProxies(nil)
	r.Use(gin.Recovery(), logger.AccessLogMiddleware())

	r.GET("/status", s.status)
	r.POST("/terminate", s.terminate)
	r.GET("/logs", s.getLogs)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "404", "message": "Endpoint not found"})
	})
	return r
}

func (s *Sidecar) record(c *gin.Context, action, target, reason string) {
	s.logs.add(LogEntry{
		Endpoint:  c.FullPath(),
		IP:        c.ClientIP(),
		Host:      c.Request.Host,
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Action:    action,
		Target:    target,
		Reason:    reason,
	})
}

func (s *Sidecar) status(c *gin.Context) {
	s.record(c, "status_check", "", "")
	c.JSON(http.StatusOK, gin.H{
		"status":      "200",
		"server":      "TerminateService",
		"name":        s.identity.Name,
		"pid":         s.pid,
		"port":        s.Port(),
		"state":       s.State().String(),
		"client_ip":   c.ClientIP(),
		"client_host": c.Request.Host,
	})
}

func (s *Sidecar) getLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "200",
		"logs":      s.Logs(),
		"client_ip": c.ClientIP(),
	})
}

func (s *Sidecar) terminate(c *gin.Context) {
	clientIP := c.ClientIP()
	reply := func(code int, status, msg string, pid int) {
		c.JSON(code, model.TerminateResponse{Status: status, Message: msg, ClientIP: clientIP, PID: pid})
	}

	// 1. 白名单
	if len(s.cfg.AllowedIPs) > 0 && !contains(s.cfg.AllowedIPs, clientIP) {
		s.record(c, "terminate_rejected", "", "IP not whitelisted")
		logger.LogBusinessOperation("terminate", s.identity.Name, clientIP, "rejected", "IP 不在白名单内", nil)
		reply(http.StatusForbidden, model.TerminateRejected, fmt.Sprintf("Access denied for IP %s", clientIP), 0)
		return
	}

	// 2. 请求体
	var req model.TerminateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.record(c, "terminate_invalid", "", err.Error())
		reply(http.StatusBadRequest, model.TerminateError, "Invalid request body: "+err.Error(), 0)
		return
	}

	// 3. 不是发给本机的请求直接忽略
	if req.TargetIP != "" && !s.localIPs[req.TargetIP] {
		s.record(c, "terminate_ignored", req.TargetIP, "target_ip is not local")
		reply(http.StatusOK, model.TerminateIgnored, fmt.Sprintf("Target %s is not this host", req.TargetIP), 0)
		return
	}

	// 4. 至少一个进程标识
	if !req.HasIdentifier() {
		s.record(c, "terminate_invalid", "", "missing identifier")
		reply(http.StatusBadRequest, model.TerminateError, "Missing process identifier (pid, port, process_number or name)", 0)
		return
	}

	// 5. 所有标识必须指向同一个进程
	pid, err := s.resolve(&req)
	if err != nil {
		s.record(c, "terminate_rejected", describe(&req), err.Error())
		logger.LogBusinessOperation("terminate", s.identity.Name, clientIP, "rejected", err.Error(), nil)
		reply(http.StatusConflict, model.TerminateRejected, err.Error(), 0)
		return
	}

	// 6. 子进程: 直接结束，自身保持监听
	if pid != s.pid {
		if err := s.killer(int32(pid)); err != nil {
			s.record(c, "terminate_failed", strconv.Itoa(pid), err.Error())
			reply(http.StatusInternalServerError, model.TerminateError, err.Error(), pid)
			return
		}
		s.forgetChild(int32(pid))
		s.record(c, "terminate", strconv.Itoa(pid), "")
		logger.LogBusinessOperation("terminate", s.identity.Name, clientIP, "success", fmt.Sprintf("已终止子进程 %d", pid), nil)
		reply(http.StatusOK, model.TerminateAccepted, fmt.Sprintf("Termination signal sent to process %d", pid), pid)
		return
	}

	// 本进程: 进入 terminating，延迟退出让响应先发出去
	if err := s.beginTermination(); err != nil {
		s.record(c, "terminate_rejected", strconv.Itoa(pid), err.Error())
		reply(http.StatusConflict, model.TerminateRejected, err.Error(), pid)
		return
	}
	s.record(c, "terminate", strconv.Itoa(pid), "")
	logger.LogBusinessOperation("terminate", s.identity.Name, clientIP, "success",
		fmt.Sprintf("收到来自 %s 的终止请求，%s 后退出", clientIP, s.cfg.KillDelay), map[string]interface{}{"pid": pid})
	time.AfterFunc(s.cfg.KillDelay, s.exitHook)
	reply(http.StatusOK, model.TerminateAccepted, fmt.Sprintf("Termination signal sent to process %d", pid), pid)
}

func (s *Sidecar) beginTermination() error {
	if !s.state.CompareAndSwap(int32(StateListening), int32(StateTerminating)) {
		return ErrAlreadyTerminating
	}
	close(s.done)
	return nil
}

// resolve 把请求里的每个标识解析成 pid，全部一致才算匹配
func (s *Sidecar) resolve(req *model.TerminateRequest) (int, error) {
	if s.State() == StateTerminating {
		return 0, ErrAlreadyTerminating
	}

	target := -1
	agree := func(field string, pid int, ok bool) error {
		if !ok {
			return fmt.Errorf("%s does not match this process", field)
		}
		if target >= 0 && target != pid {
			return fmt.Errorf("%s points to a different process", field)
		}
		target = pid
		return nil
	}

	if v := string(req.PID); v != "" {
		pid, ok := s.lookupPID(v)
		if err := agree("pid "+v, pid, ok); err != nil {
			return 0, err
		}
	}
	if v := string(req.Port); v != "" {
		port, err := model.ParsePort(v)
		ok := err == nil && port != 0 && (port == s.identity.ServicePort || port == s.Port())
		if err := agree("port "+v, s.pid, ok); err != nil {
			return 0, err
		}
	}
	if v := req.Name; v != "" {
		if err := agree("name "+v, s.pid, v == s.identity.Name); err != nil {
			return 0, err
		}
	}
	if v := string(req.ProcessNumber); v != "" {
		pid, ok := s.lookupProcessNumber(v)
		if err := agree("process_number "+v, pid, ok); err != nil {
			return 0, err
		}
	}
	return target, nil
}

func (s *Sidecar) lookupPID(v string) (int, bool) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	if n == s.pid {
		return n, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pid := range s.children {
		if int(pid) == n {
			return n, true
		}
	}
	return 0, false
}

func (s *Sidecar) lookupProcessNumber(v string) (int, bool) {
	s.mu.Lock()
	pid, ok := s.children[v]
	s.mu.Unlock()
	if ok {
		return int(pid), true
	}
	if v == strconv.Itoa(s.pid) {
		return s.pid, true
	}
	return 0, false
}

func (s *Sidecar) forgetChild(pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for number, p := range s.children {
		if p == pid {
			delete(s.children, number)
		}
	}
}

func describe(req *model.TerminateRequest) string {
	switch {
	case req.PID != "":
		return "pid=" + string(req.PID)
	case req.Port != "":
		return "port=" + string(req.Port)
	case req.ProcessNumber != "":
		return "process_number=" + string(req.ProcessNumber)
	}
	return "name=" + req.Name
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
