package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"algohub/internal/master/launcher"
	"algohub/internal/pkg/logger"
	"algohub/pkg/model"

	"github.com/pterm/pterm"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// render 按 -o 输出，table 格式使用传入的表格函数
func render(w io.Writer, v interface{}, table func() error) error {
	switch format := viper.GetString("output"); format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	case "yaml":
		// 先转成 JSON 再转 YAML，字段名与 API 保持一致
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	case "table", "":
		return table()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func algorithmRows(records []*model.AlgorithmRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		ni := r.NetworkInfo
		rows = append(rows, []string{
			r.Name,
			r.Class,
			r.Subcategory,
			ni.Status.Label(),
			ni.IP,
			strconv.Itoa(int(ni.Port)),
			strconv.FormatBool(ni.IsRemote),
			fmt.Sprintf("%.1f", float64(ni.CPUUsage)),
			fmt.Sprintf("%.1f", float64(ni.MemoryUsage)),
			lastSeen(ni.LastUpdate),
		})
	}
	return rows
}

func printAlgorithms(records []*model.AlgorithmRecord) error {
	if len(records) == 0 {
		pterm.Warning.Println("No algorithms registered.")
		return nil
	}
	return printTable(
		[]string{"NAME", "CLASS", "SUBCATEGORY", "STATUS", "IP", "PORT", "REMOTE", "CPU%", "MEM%", "LAST UPDATE"},
		algorithmRows(records),
	)
}

func printInstances(list []*launcher.Instance) error {
	if len(list) == 0 {
		pterm.Warning.Println("No instances running.")
		return nil
	}
	rows := make([][]string, 0, len(list))
	for _, inst := range list {
		id := inst.ID
		if len(id) > 12 {
			id = id[:12]
		}
		rows = append(rows, []string{id, inst.Name, inst.Image, strconv.Itoa(inst.Port), logger.FormatTimestamp(inst.StartedAt)})
	}
	return printTable([]string{"ID", "NAME", "IMAGE", "PORT", "STARTED"}, rows)
}

func printTable(headers []string, rows [][]string) error {
	tableData := pterm.TableData{headers}
	tableData = append(tableData, rows...)
	if err := pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(tableData).Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func lastSeen(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return logger.FormatTimestamp(time.UnixMilli(ms))
}
