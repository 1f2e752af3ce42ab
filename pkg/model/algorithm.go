package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Param 算法输入/输出参数描述
// Type 是软枚举 (int/float/double/str/bool/vector/...)，不做校验
type Param struct {
	Name        string     `json:"name"`
	Symbol      string     `json:"symbol"`
	Type        string     `json:"type"`
	Dimension   FlexString `json:"dimension"`
	Description string     `json:"description,omitempty"`
}

// Port 端口号，兼容 8080 / "8080" / "10.0.0.1:8080" 三种写法
type Port int

func (p *Port) UnmarshalJSON(data []byte) error {
	var f FlexString
	if err := f.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	n, err := ParsePort(string(f))
	if err != nil {
		return err
	}
	*p = Port(n)
	return nil
}

// ParsePort 解析端口，空字符串为 0
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return n, nil
}

// NetworkInfo 算法进程的网络与资源状态，每次心跳整体覆盖
type NetworkInfo struct {
	IP          string  `json:"ip"`
	Port        Port    `json:"port"`
	Status      Status  `json:"status"`
	IsRemote    bool    `json:"is_remote"`
	CPUUsage    Percent `json:"cpu_usage"`
	MemoryUsage Percent `json:"memory_usage"`
	GPUUsage    GPUList `json:"gpu_usage"`

	// 终止服务实际监听的端口，0 表示未上报，转发时使用配置的默认端口
	SidecarPort Port `json:"sidecar_port,omitempty"`

	// 毫秒级 Unix 时间戳，由注册中心在收到心跳时写入
	LastUpdate int64 `json:"last_update_timestamp"`
}

// AlgorithmRecord 注册中心里的一条算法记录，以 Name 为主键
type AlgorithmRecord struct {
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Class       string  `json:"class"`
	Subcategory string  `json:"subcategory"`
	Version     string  `json:"version"`
	Creator     string  `json:"creator"`
	CreateTime  string  `json:"create_time,omitempty"`
	Maintainer  string  `json:"maintainer,omitempty"`
	UpdateTime  string  `json:"update_time,omitempty"`
	Description string  `json:"description"`
	Inputs      []Param `json:"inputs"`
	Outputs     []Param `json:"outputs"`

	NetworkInfo NetworkInfo `json:"network_info"`
}

// LastUpdateTime 最后一次心跳时间
func (r *AlgorithmRecord) LastUpdateTime() time.Time {
	return time.UnixMilli(r.NetworkInfo.LastUpdate)
}

// IsStale 心跳是否已超过阈值
func (r *AlgorithmRecord) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.LastUpdateTime()) > threshold
}

// IsOnline 非离线即在线
func (r *AlgorithmRecord) IsOnline() bool {
	return r.NetworkInfo.Status != StatusOffline
}

// Clone 深拷贝，store 之间传递记录时使用，避免共享切片
func (r *AlgorithmRecord) Clone() *AlgorithmRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Inputs = append([]Param(nil), r.Inputs...)
	c.Outputs = append([]Param(nil), r.Outputs...)
	c.NetworkInfo.GPUUsage = append(GPUList(nil), r.NetworkInfo.GPUUsage...)
	return &c
}

// MarshalRecord / UnmarshalRecord 是各个存储后端共用的序列化方式
func MarshalRecord(r *AlgorithmRecord) ([]byte, error) {
	return json.Marshal(r)
}

func UnmarshalRecord(data []byte) (*AlgorithmRecord, error) {
	var r AlgorithmRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
