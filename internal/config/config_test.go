package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Registry.Backend)
	assert.Equal(t, "algorithm_data.json", cfg.Registry.FilePath)
	assert.Equal(t, time.Second, cfg.Liveness.Interval)
	assert.Equal(t, 8*time.Second, cfg.Liveness.Threshold)
	assert.True(t, cfg.Liveness.RemoteOnly)
	assert.Equal(t, "0.0.0.0:12345", cfg.UDP.Addr())
	assert.Equal(t, time.Second, cfg.UDP.ReadTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Sidecar.KillDelay)
	assert.Equal(t, 1000, cfg.Sidecar.LogCapacity)
	assert.Equal(t, 2*time.Second, cfg.Report.Interval)
	assert.Equal(t, 3, cfg.Report.Retries)

	require.NoError(t, cfg.Validate(RoleMaster))
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	p := writeConfig(t, `
log:
  level: debug
  format: json
registry:
  backend: etcd
  etcd:
    endpoints: ["10.0.0.1:2379", "10.0.0.2:2379"]
liveness:
  threshold: 15s
udp:
  port: 23456
`)
	t.Setenv("ALGOHUB_UDP_HOST", "127.0.0.1")
	t.Setenv("ALGOHUB_LIVENESS_INTERVAL", "3s")

	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "etcd", cfg.Registry.Backend)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, cfg.Registry.Etcd.Endpoints)
	assert.Equal(t, 15*time.Second, cfg.Liveness.Threshold)
	assert.Equal(t, 3*time.Second, cfg.Liveness.Interval)
	assert.Equal(t, "127.0.0.1:23456", cfg.UDP.Addr())
	require.NoError(t, cfg.Validate(RoleMaster))
}

// 容器里只有环境变量，没有配置文件
func TestLoadConfig_WorkerEnvWithoutFile(t *testing.T) {
	t.Setenv("ALGOHUB_WORKER_NAME", "EKF")
	t.Setenv("ALGOHUB_WORKER_SERVICE_PORT", "8085")
	t.Setenv("ALGOHUB_WORKER_IS_REMOTE", "false")
	t.Setenv("ALGOHUB_WORKER_CLASS", "滤波类")
	t.Setenv("ALGOHUB_WORKER_CATEGORY", "状态估计")
	t.Setenv("ALGOHUB_WORKER_SUBCATEGORY", "卡尔曼")
	t.Setenv("ALGOHUB_WORKER_CREATOR", "alice")
	t.Setenv("ALGOHUB_WORKER_IP", "10.0.0.7")
	t.Setenv("ALGOHUB_SIDECAR_ALLOWED_IPS", "10.0.0.1")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "EKF", cfg.Worker.Name)
	assert.Equal(t, 8085, cfg.Worker.ServicePort)
	assert.False(t, cfg.Worker.IsRemote)
	assert.Equal(t, "滤波类", cfg.Worker.Class)
	assert.Equal(t, "状态估计", cfg.Worker.Category)
	assert.Equal(t, "卡尔曼", cfg.Worker.Subcategory)
	assert.Equal(t, "alice", cfg.Worker.Creator)
	assert.Equal(t, "10.0.0.7", cfg.Worker.IP)
	assert.Equal(t, "1.0", cfg.Worker.Version)
	assert.Equal(t, []string{"10.0.0.1"}, cfg.Sidecar.AllowedIPs)
	require.NoError(t, cfg.Validate(RoleWorker))
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	p := writeConfig(t, "log: [unterminated")
	_, err := LoadConfig(p)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		role    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"master defaults", RoleMaster, func(c *Config) {}, false},
		{"bad log level", RoleMaster, func(c *Config) { c.Log.Level = "verbose" }, true},
		{"unknown backend", RoleMaster, func(c *Config) { c.Registry.Backend = "mysql" }, true},
		{"zero threshold", RoleMaster, func(c *Config) { c.Liveness.Threshold = 0 }, true},
		{"bad launcher range", RoleMaster, func(c *Config) {
			c.Launcher.Enabled = true
			c.Launcher.PortMin, c.Launcher.PortMax = 9000, 8000
		}, true},
		{"worker without name", RoleWorker, func(c *Config) {}, true},
		{"worker ok", RoleWorker, func(c *Config) { c.Worker.Name = "EKF" }, false},
		{"worker udp without addr", RoleWorker, func(c *Config) {
			c.Worker.Name = "EKF"
			c.Report.Transport = "udp"
			c.Report.UDPAddr = ""
		}, true},
		{"unknown role", "gateway", func(c *Config) {}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate(tt.role)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigWatcher_ReloadInvokesCallbacks(t *testing.T) {
	p := writeConfig(t, "liveness:\n  threshold: 8s\n")
	cur, err := LoadConfig(p)
	require.NoError(t, err)

	w, err := NewConfigWatcher(p, RoleMaster, cur)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	got := make(chan time.Duration, 1)
	w.AddCallback(func(oldCfg, newCfg *Config) error {
		assert.Equal(t, 8*time.Second, oldCfg.Liveness.Threshold)
		got <- newCfg.Liveness.Threshold
		return nil
	})

	require.NoError(t, os.WriteFile(p, []byte("liveness:\n  threshold: 12s\n"), 0o644))

	select {
	case th := <-got:
		assert.Equal(t, 12*time.Second, th)
		assert.Equal(t, 12*time.Second, w.Current().Liveness.Threshold)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback not invoked")
	}
}
