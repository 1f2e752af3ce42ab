package config

import (
	"fmt"
	"strings"
	"time"
)

// 进程角色，决定 Validate 校验哪些段
const (
	RoleMaster = "master"
	RoleWorker = "worker"
)

// Config 应用配置结构体 [字段和配置文件中一级字段保持一致]
type Config struct {
	App      AppConfig      `yaml:"app" mapstructure:"app"`           // 应用信息
	Log      LogConfig      `yaml:"log" mapstructure:"log"`           // 日志配置
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"` // 注册中心存储
	Liveness LivenessConfig `yaml:"liveness" mapstructure:"liveness"` // 离线检测
	UDP      UDPConfig      `yaml:"udp" mapstructure:"udp"`           // UDP 心跳监听
	HTTP     ServerConfig   `yaml:"http" mapstructure:"http"`         // 监控端 HTTP 服务
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`   // prometheus
	Launcher LauncherConfig `yaml:"launcher" mapstructure:"launcher"` // docker 启动器
	Worker   WorkerConfig   `yaml:"worker" mapstructure:"worker"`     // 算法进程自身信息
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`     // 心跳上报
	Sidecar  SidecarConfig  `yaml:"sidecar" mapstructure:"sidecar"`   // 终止服务
}

type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式: json, text
	Output     string `yaml:"output" mapstructure:"output"`           // 输出方式: stdout, stderr, file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 保留的日志文件数量
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 日志文件保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩日志文件
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
}

// RegistryConfig 注册中心存储配置
type RegistryConfig struct {
	Backend     string      `yaml:"backend" mapstructure:"backend"`           // file, etcd, redis
	FilePath    string      `yaml:"file_path" mapstructure:"file_path"`       // file 后端的 JSON 文档
	SidecarPort int         `yaml:"sidecar_port" mapstructure:"sidecar_port"` // 转发终止请求时使用的 sidecar 端口
	Etcd        EtcdConfig  `yaml:"etcd" mapstructure:"etcd"`
	Redis       RedisConfig `yaml:"redis" mapstructure:"redis"`
}

type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints" mapstructure:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	Prefix      string        `yaml:"prefix" mapstructure:"prefix"`
}

type RedisConfig struct {
	Host        string        `yaml:"host" mapstructure:"host"`
	Port        int           `yaml:"port" mapstructure:"port"`
	Password    string        `yaml:"password" mapstructure:"password"`
	Database    int           `yaml:"database" mapstructure:"database"`
	PoolSize    int           `yaml:"pool_size" mapstructure:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	Prefix      string        `yaml:"prefix" mapstructure:"prefix"`
}

// Addr redis 地址
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LivenessConfig 离线检测，可热更新
type LivenessConfig struct {
	Interval   time.Duration `yaml:"interval" mapstructure:"interval"`       // 扫描间隔
	Threshold  time.Duration `yaml:"threshold" mapstructure:"threshold"`     // 超过该时长未上报视为离线
	RemoteOnly bool          `yaml:"remote_only" mapstructure:"remote_only"` // 只检测 is_remote 的记录
}

type UDPConfig struct {
	Host        string        `yaml:"host" mapstructure:"host"`
	Port        int           `yaml:"port" mapstructure:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
}

func (u UDPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Mode         string        `yaml:"mode" mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// LauncherConfig 以容器方式托管内部算法
type LauncherConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	PortMin     int           `yaml:"port_min" mapstructure:"port_min"`
	PortMax     int           `yaml:"port_max" mapstructure:"port_max"`
	StopTimeout time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout"`
}

// WorkerConfig 算法进程对外声明的元数据
type WorkerConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Category    string `yaml:"category" mapstructure:"category"`
	Class       string `yaml:"class" mapstructure:"class"`
	Subcategory string `yaml:"subcategory" mapstructure:"subcategory"`
	Version     string `yaml:"version" mapstructure:"version"`
	Creator     string `yaml:"creator" mapstructure:"creator"`
	Maintainer  string `yaml:"maintainer" mapstructure:"maintainer"`
	Description string `yaml:"description" mapstructure:"description"`
	IP          string `yaml:"ip" mapstructure:"ip"` // 为空时自动探测
	ServicePort int    `yaml:"service_port" mapstructure:"service_port"`
	IsRemote    bool   `yaml:"is_remote" mapstructure:"is_remote"`
}

// ReportConfig 心跳上报
type ReportConfig struct {
	Transport string        `yaml:"transport" mapstructure:"transport"` // http, udp
	URL       string        `yaml:"url" mapstructure:"url"`             // http 上报地址
	UDPAddr   string        `yaml:"udp_addr" mapstructure:"udp_addr"`   // udp 上报地址
	Interval  time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Retries   int           `yaml:"retries" mapstructure:"retries"`
}

// SidecarConfig 终止服务
type SidecarConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	AllowedIPs   []string      `yaml:"allowed_ips" mapstructure:"allowed_ips"` // 为空表示不限制
	KillDelay    time.Duration `yaml:"kill_delay" mapstructure:"kill_delay"`
	LogCapacity  int           `yaml:"log_capacity" mapstructure:"log_capacity"`
	ReclaimPort  bool          `yaml:"reclaim_port" mapstructure:"reclaim_port"`   // 端口被占用时结束占用进程
	PortAttempts int           `yaml:"port_attempts" mapstructure:"port_attempts"` // 否则顺延尝试的端口数
}

// Validate 按角色校验配置
func (c *Config) Validate(role string) error {
	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	if !contains(validLogLevels, c.Log.Level) {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if !contains([]string{"json", "text"}, c.Log.Format) {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	if !contains([]string{"stdout", "stderr", "file"}, c.Log.Output) {
		return fmt.Errorf("invalid log output: %s", c.Log.Output)
	}
	if c.Log.Output == "file" && c.Log.FilePath == "" {
		return fmt.Errorf("log file path is required when output is file")
	}

	switch role {
	case RoleMaster:
		return c.validateMaster()
	case RoleWorker:
		return c.validateWorker()
	default:
		return fmt.Errorf("unknown role: %s", role)
	}
}

func (c *Config) validateMaster() error {
	switch c.Registry.Backend {
	case "file":
		if strings.TrimSpace(c.Registry.FilePath) == "" {
			return fmt.Errorf("registry.file_path is required for file backend")
		}
	case "etcd":
		if len(c.Registry.Etcd.Endpoints) == 0 {
			return fmt.Errorf("registry.etcd.endpoints is required for etcd backend")
		}
	case "redis":
		if c.Registry.Redis.Host == "" {
			return fmt.Errorf("registry.redis.host is required for redis backend")
		}
	default:
		return fmt.Errorf("invalid registry backend: %s", c.Registry.Backend)
	}

	if c.Liveness.Interval <= 0 {
		return fmt.Errorf("liveness.interval must be positive")
	}
	if c.Liveness.Threshold <= 0 {
		return fmt.Errorf("liveness.threshold must be positive")
	}
	if c.UDP.Port < 0 || c.UDP.Port > 65535 {
		return fmt.Errorf("invalid udp port: %d", c.UDP.Port)
	}
	if c.UDP.ReadTimeout <= 0 {
		return fmt.Errorf("udp.read_timeout must be positive")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if !contains([]string{"debug", "release", "test"}, c.HTTP.Mode) {
		return fmt.Errorf("invalid http mode: %s", c.HTTP.Mode)
	}
	if c.Launcher.Enabled && (c.Launcher.PortMin <= 0 || c.Launcher.PortMax < c.Launcher.PortMin) {
		return fmt.Errorf("invalid launcher port range: %d-%d", c.Launcher.PortMin, c.Launcher.PortMax)
	}
	return nil
}

func (c *Config) validateWorker() error {
	if strings.TrimSpace(c.Worker.Name) == "" {
		return fmt.Errorf("worker.name is required")
	}
	if c.Worker.ServicePort < 0 || c.Worker.ServicePort > 65535 {
		return fmt.Errorf("invalid worker service port: %d", c.Worker.ServicePort)
	}

	switch c.Report.Transport {
	case "http":
		if c.Report.URL == "" {
			return fmt.Errorf("report.url is required for http transport")
		}
	case "udp":
		if c.Report.UDPAddr == "" {
			return fmt.Errorf("report.udp_addr is required for udp transport")
		}
	default:
		return fmt.Errorf("invalid report transport: %s", c.Report.Transport)
	}
	if c.Report.Interval <= 0 {
		return fmt.Errorf("report.interval must be positive")
	}

	if c.Sidecar.Enabled {
		if c.Sidecar.Port <= 0 || c.Sidecar.Port > 65535 {
			return fmt.Errorf("invalid sidecar port: %d", c.Sidecar.Port)
		}
		if c.Sidecar.LogCapacity <= 0 {
			return fmt.Errorf("sidecar.log_capacity must be positive")
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
