package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"time"

	"algohub/internal/config"
	"algohub/internal/master/launcher"
	"algohub/internal/worker/reporter"
	"algohub/pkg/model"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// filterFlags list / select 共用的分类过滤条件
type filterFlags struct {
	category    string
	class       string
	subcategory string
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.category, "category", "", "按大类过滤")
	cmd.Flags().StringVar(&f.class, "class", "", "按类别过滤")
	cmd.Flags().StringVar(&f.subcategory, "subcategory", "", "按子类过滤")
}

func (f *filterFlags) values() url.Values {
	q := url.Values{}
	if f.category != "" {
		q.Set("category", f.category)
	}
	if f.class != "" {
		q.Set("class", f.class)
	}
	if f.subcategory != "" {
		q.Set("subcategory", f.subcategory)
	}
	return q
}

func newListCmd() *cobra.Command {
	var (
		filters filterFlags
		status  string
		remote  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出注册的算法",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := filters.values()
			if status != "" {
				q.Set("status", status)
			}
			if remote != "" {
				q.Set("remote", remote)
			}
			records, err := newClient().list(cmd.Context(), q)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), records, func() error { return printAlgorithms(records) })
		},
	}
	filters.bind(cmd)
	cmd.Flags().StringVar(&status, "status", "", "按状态过滤 (idle, busy, offline)")
	cmd.Flags().StringVar(&remote, "remote", "", "按远程标记过滤 (true, false)")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "查看一条算法记录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := newClient().get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), rec, func() error { return printRecord(rec) })
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "从注册表删除一条记录",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			pterm.Success.Printfln("Deleted %s", args[0])
			return nil
		},
	}
}

func newSelectCmd() *cobra.Command {
	var filters filterFlags
	cmd := &cobra.Command{
		Use:   "select",
		Short: "按分类选择一个负载最低的空闲算法",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := newClient().selectOne(cmd.Context(), filters.values())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), rec, func() error { return printRecord(rec) })
		},
	}
	filters.bind(cmd)
	return cmd
}

func newTerminateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "terminate NAME",
		Short: "通过算法所在主机的终止服务结束算法进程",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().terminate(cmd.Context(), args[0])
			if err != nil {
				var apiErr *apiError
				if errors.As(err, &apiErr) && resp.Status != "" {
					return fmt.Errorf("%s: %s", resp.Status, resp.Message)
				}
				return err
			}
			return render(cmd.OutOrStdout(), resp, func() error {
				switch resp.Status {
				case model.TerminateAccepted:
					pterm.Success.Printfln("%s (pid %d)", resp.Message, resp.PID)
				default:
					pterm.Warning.Printfln("%s: %s", resp.Status, resp.Message)
				}
				return nil
			})
		},
	}
}

func newInstancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instances",
		Aliases: []string{"inst"},
		Short:   "管理监控端托管的算法容器",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "列出运行中的容器",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().instances(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), items, func() error { return printInstances(items) })
		},
	}

	var spec launcher.Spec
	launch := &cobra.Command{
		Use:   "launch NAME",
		Short: "以容器方式启动一个算法",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name = args[0]
			inst, err := newClient().launch(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), inst, func() error {
				pterm.Success.Printfln("Launched %s on port %d (%s)", inst.Name, inst.Port, inst.ID)
				return nil
			})
		},
	}
	launch.Flags().StringVar(&spec.Image, "image", "", "镜像名称")
	launch.Flags().IntVar(&spec.Port, "port", 0, "服务端口，0 表示自动分配")
	launch.Flags().StringArrayVarP(&spec.Env, "env", "e", nil, "额外环境变量 KEY=VALUE")
	_ = launch.MarkFlagRequired("image")

	stop := &cobra.Command{
		Use:   "stop ID|NAME",
		Short: "停止并删除容器",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().stop(cmd.Context(), args[0]); err != nil {
				return err
			}
			pterm.Success.Printfln("Stopped %s", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, launch, stop)
	return cmd
}

// newReportCmd 手工发送一条状态消息，调试上报链路用
func newReportCmd() *cobra.Command {
	var (
		cfg      config.ReportConfig
		msg      model.StatusMessage
		ip       string
		port     int
		status   string
		remote   bool
		cpu, mem float64
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "向监控端发送一条状态消息",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := model.ParseStatus(status)
			if err != nil {
				return err
			}
			if cfg.URL == "" && cfg.Transport != "udp" {
				cfg.URL = serverURL() + "/resource/webSocketOnMessage"
			}
			rep, err := reporter.New(cfg)
			if err != nil {
				return err
			}
			defer rep.Close()

			p := model.Port(port)
			now := time.Now().UnixMilli()
			msg.NetworkInfo = &model.MessageNetworkInfo{
				IP:          ip,
				Port:        &p,
				Status:      st,
				IsRemote:    &remote,
				CPUUsage:    model.Percent(cpu),
				MemoryUsage: model.Percent(mem),
				GPUUsage:    model.GPUList{},
				LastUpdate:  &now,
			}
			if err := msg.Validate(); err != nil {
				return err
			}
			if err := rep.Send(cmd.Context(), &msg); err != nil {
				return err
			}
			pterm.Success.Printfln("Reported %s as %s", msg.Name, st)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&msg.Name, "name", "", "算法名称")
	f.StringVar(&msg.Category, "category", "", "大类")
	f.StringVar(&msg.Class, "class", "", "类别")
	f.StringVar(&msg.Subcategory, "subcategory", "", "子类")
	f.StringVar(&ip, "ip", "127.0.0.1", "算法服务 IP")
	f.IntVar(&port, "port", 0, "算法服务端口")
	f.StringVar(&status, "status", "idle", "状态 (idle, busy, offline)")
	f.BoolVar(&remote, "remote", false, "是否远程部署")
	f.Float64Var(&cpu, "cpu", 0, "CPU 使用率")
	f.Float64Var(&mem, "mem", 0, "内存使用率")
	f.StringVar(&cfg.Transport, "transport", "http", "上报方式 http 或 udp")
	f.StringVar(&cfg.URL, "url", "", "HTTP 上报地址 (默认 <server>/resource/webSocketOnMessage)")
	f.StringVar(&cfg.UDPAddr, "udp", "127.0.0.1:12345", "UDP 上报地址")
	f.DurationVar(&cfg.Timeout, "report-timeout", 5*time.Second, "单次上报超时")
	f.IntVar(&cfg.Retries, "retries", 1, "HTTP 上报重试次数")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "打印版本",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "algoctl %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func printRecord(rec *model.AlgorithmRecord) error {
	ni := rec.NetworkInfo
	rows := [][]string{
		{"Name", rec.Name},
		{"Category", rec.Category},
		{"Class", rec.Class},
		{"Subcategory", rec.Subcategory},
		{"Version", rec.Version},
		{"Creator", rec.Creator},
		{"Description", rec.Description},
		{"Status", fmt.Sprintf("%s (%s)", ni.Status, ni.Status.Label())},
		{"Address", fmt.Sprintf("%s:%d", ni.IP, ni.Port)},
		{"Sidecar Port", sidecarPort(ni.SidecarPort)},
		{"Remote", strconv.FormatBool(ni.IsRemote)},
		{"CPU", fmt.Sprintf("%.1f%%", float64(ni.CPUUsage))},
		{"Memory", fmt.Sprintf("%.1f%%", float64(ni.MemoryUsage))},
		{"GPU", fmt.Sprintf("%.1f%% (%d)", ni.GPUUsage.Mean(), len(ni.GPUUsage))},
		{"Inputs", strconv.Itoa(len(rec.Inputs))},
		{"Outputs", strconv.Itoa(len(rec.Outputs))},
		{"Last Update", lastSeen(ni.LastUpdate)},
	}
	return printTable([]string{"FIELD", "VALUE"}, rows)
}

func sidecarPort(p model.Port) string {
	if p == 0 {
		return "-"
	}
	return strconv.Itoa(int(p))
}

func serverURL() string {
	if c := newClient(); c.base != "" {
		return c.base
	}
	return "http://127.0.0.1:8080"
}

func init() {
	// pterm 在非终端输出时不带颜色
	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		pterm.DisableColor()
	}
}
