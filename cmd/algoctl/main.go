package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version 构建时通过 -ldflags "-X main.Version=..." 注入
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "algoctl",
	Short: "algohub 监控端命令行",
	Long: `algoctl 查询算法注册表、选择空闲实例、发送终止请求、管理容器实例。

示例:
  algoctl list --status idle
  algoctl get EKF -o yaml
  algoctl select --class 滤波类
  algoctl terminate EKF
  algoctl report --name EKF --status busy --udp 127.0.0.1:12345`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("server", "http://127.0.0.1:8080", "监控端地址")
	pf.StringP("output", "o", "table", "输出格式 (table, json, yaml)")
	pf.Duration("timeout", 0, "请求超时 (默认 10s)")

	// ALGOHUB_SERVER 等环境变量
	viper.SetEnvPrefix("ALGOHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("server", pf.Lookup("server"))
	_ = viper.BindPFlag("output", pf.Lookup("output"))
	_ = viper.BindPFlag("timeout", pf.Lookup("timeout"))

	rootCmd.AddCommand(
		newListCmd(),
		newGetCmd(),
		newDeleteCmd(),
		newSelectCmd(),
		newTerminateCmd(),
		newInstancesCmd(),
		newReportCmd(),
		newVersionCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
