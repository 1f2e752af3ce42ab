package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	logLevel   string
	name       string
	port       int
	monitorURL string
	transport  string
)

var rootCmd = &cobra.Command{
	Use:   "algohub-worker [flags] [-- command args...]",
	Short: "算法进程运行时: 状态上报 + 终止服务",
	Long: `algohub-worker 周期性向监控端上报算法状态，并在本机启动终止服务。
在 -- 之后给出命令时，worker 会启动并托管该算法进程，进程退出后上报离线并退出。

示例:
  algohub-worker --name EKF --port 9090
  algohub-worker --name UKF --transport udp -- python ukf_server.py`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context(), args)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "配置文件路径 (默认: ./configs/config.yaml)")
	f.StringVar(&logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")
	f.StringVar(&name, "name", "", "算法名称 (覆盖 worker.name)")
	f.IntVar(&port, "port", 0, "算法服务端口 (覆盖 worker.service_port)")
	f.StringVar(&monitorURL, "monitor-url", "", "HTTP 上报地址 (覆盖 report.url)")
	f.StringVar(&transport, "transport", "", "上报方式 http 或 udp (覆盖 report.transport)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
