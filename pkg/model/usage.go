package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Percent 资源使用率 (0-100)
// 历史生产者有的发数字，有的发 "42.70" 或 "42.70%"，在解码时统一成 float64
type Percent float64

func (p *Percent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = 0
		return nil
	}
	if data[0] != '"' {
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("invalid percent %s: %w", string(data), err)
		}
		*p = Percent(f)
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f, err := parsePercent(raw)
	if err != nil {
		return err
	}
	*p = Percent(f)
	return nil
}

func parsePercent(raw string) (float64, error) {
	s := strings.TrimSuffix(strings.TrimSpace(raw), "%")
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	// NaN/Inf 无法写入 JSON 文档，在边界处拒绝
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid percent %q", raw)
	}
	return f, nil
}

// GPUUsage 单块 GPU 的使用情况
type GPUUsage struct {
	Index         int     `json:"index"`
	Name          string  `json:"name,omitempty"`
	Usage         Percent `json:"usage"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
}

// GPUList GPU 使用列表
// 兼容两种上报方式: 对象数组，或者单个百分比 (数字/字符串)
type GPUList []GPUUsage

func (g *GPUList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*g = nil
		return nil
	}
	if data[0] == '[' {
		var list []GPUUsage
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("invalid gpu_usage: %w", err)
		}
		*g = list
		return nil
	}

	var p Percent
	if err := p.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid gpu_usage: %w", err)
	}
	*g = GPUList{{Index: 0, Usage: p}}
	return nil
}

// Mean 所有 GPU 的平均使用率，没有 GPU 时为 0
func (g GPUList) Mean() float64 {
	if len(g) == 0 {
		return 0
	}
	var sum float64
	for _, u := range g {
		sum += float64(u.Usage)
	}
	return sum / float64(len(g))
}

// FlexString 兼容数字和字符串两种写法的字段 (维度、进程编号、端口等)
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected number or string, got %s", string(data))
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Int 解析为整数
func (f FlexString) Int() (int, error) {
	return strconv.Atoi(string(f))
}
