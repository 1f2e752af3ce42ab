package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix 环境变量前缀，例如 ALGOHUB_UDP_PORT 覆盖 udp.port
	EnvPrefix = "ALGOHUB"

	DefaultConfigFile = "configs/config.yaml"
)

// envSearchDirs .env 文件搜索目录
var envSearchDirs = []string{".", ".."}

// LoadDotEnv 加载 .env 到进程环境变量，已存在的环境变量不会被覆盖
// 找不到 .env 不是错误
func LoadDotEnv() {
	for _, dir := range envSearchDirs {
		p := filepath.Join(dir, ".env")
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			return
		}
	}
}

// LoadConfig 加载配置文件
// configPath 为空时使用默认路径；文件不存在时只使用内置默认值和环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	// 设置环境变量前缀
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvironmentVariables(v)

	if configPath == "" {
		configPath = DefaultConfigFile
	}
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults 内置默认值，保证没有配置文件也能运行
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "algohub")
	v.SetDefault("app.environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/algohub.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.caller", false)

	v.SetDefault("registry.backend", "file")
	v.SetDefault("registry.file_path", "algorithm_data.json")
	v.SetDefault("registry.sidecar_port", 8090)
	v.SetDefault("registry.etcd.endpoints", []string{"127.0.0.1:2379"})
	v.SetDefault("registry.etcd.dial_timeout", 5*time.Second)
	v.SetDefault("registry.etcd.prefix", "/algohub/algorithms/")
	v.SetDefault("registry.redis.host", "127.0.0.1")
	v.SetDefault("registry.redis.password", "")
	v.SetDefault("registry.redis.port", 6379)
	v.SetDefault("registry.redis.database", 0)
	v.SetDefault("registry.redis.pool_size", 10)
	v.SetDefault("registry.redis.dial_timeout", 5*time.Second)
	v.SetDefault("registry.redis.prefix", "algohub:algorithms:")

	v.SetDefault("liveness.interval", time.Second)
	v.SetDefault("liveness.threshold", 8*time.Second)
	v.SetDefault("liveness.remote_only", true)

	v.SetDefault("udp.host", "0.0.0.0")
	v.SetDefault("udp.port", 12345)
	v.SetDefault("udp.read_timeout", time.Second)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("launcher.enabled", false)
	v.SetDefault("launcher.port_min", 8080)
	v.SetDefault("launcher.port_max", 8100)
	v.SetDefault("launcher.stop_timeout", 10*time.Second)

	// worker 段每个键都要有默认值，否则 AutomaticEnv 的覆盖在没有配置文件时不生效
	v.SetDefault("worker.name", "")
	v.SetDefault("worker.category", "")
	v.SetDefault("worker.class", "")
	v.SetDefault("worker.subcategory", "")
	v.SetDefault("worker.version", "1.0")
	v.SetDefault("worker.creator", "")
	v.SetDefault("worker.maintainer", "")
	v.SetDefault("worker.description", "")
	v.SetDefault("worker.ip", "")
	v.SetDefault("worker.service_port", 0)
	v.SetDefault("worker.is_remote", true)

	v.SetDefault("report.transport", "http")
	v.SetDefault("report.url", "http://127.0.0.1:8080/resource/webSocketOnMessage")
	v.SetDefault("report.udp_addr", "127.0.0.1:12345")
	v.SetDefault("report.interval", 2*time.Second)
	v.SetDefault("report.timeout", 5*time.Second)
	v.SetDefault("report.retries", 3)

	v.SetDefault("sidecar.enabled", true)
	v.SetDefault("sidecar.host", "0.0.0.0")
	v.SetDefault("sidecar.port", 8090)
	v.SetDefault("sidecar.allowed_ips", []string{})
	v.SetDefault("sidecar.kill_delay", 500*time.Millisecond)
	v.SetDefault("sidecar.log_capacity", 1000)
	v.SetDefault("sidecar.reclaim_port", false)
	v.SetDefault("sidecar.port_attempts", 10)
}

// bindEnvironmentVariables 绑定不遵循前缀规则的常用环境变量
func bindEnvironmentVariables(v *viper.Viper) {
	v.BindEnv("registry.redis.password", "ALGOHUB_REDIS_PASSWORD")
	v.BindEnv("registry.redis.host", "ALGOHUB_REDIS_HOST")
	v.BindEnv("registry.etcd.endpoints", "ALGOHUB_ETCD_ENDPOINTS")

	v.BindEnv("report.url", "ALGOHUB_REPORT_URL", "MONITOR_URL")
	v.BindEnv("worker.name", "ALGOHUB_WORKER_NAME", "ALGORITHM_NAME")
	v.BindEnv("log.level", "ALGOHUB_LOG_LEVEL", "LOG_LEVEL")
}
