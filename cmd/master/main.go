package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	backend  string
)

var rootCmd = &cobra.Command{
	Use:   "algohub-master",
	Short: "算法状态监控端",
	Long: `algohub-master 接收算法进程的 UDP/HTTP 心跳，维护算法注册表，
超时未上报的外部算法标记为离线，并提供查询、选择、终止和容器启动接口。

示例:
  algohub-master --config configs/config.yaml
  algohub-master --backend redis --log-level debug`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaster(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "配置文件路径 (默认: ./configs/config.yaml)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&backend, "backend", "", "注册表存储后端 (file, etcd, redis)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
