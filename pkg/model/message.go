package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingName  = errors.New("status message missing name")
	ErrEmptyPayload = errors.New("empty status payload")
)

// 首次注册时缺省字段的取值
const (
	DefaultCategory    = "未分类"
	DefaultClass       = "未知类"
	DefaultSubcategory = "未知子类"
	DefaultVersion     = "1.0"
	DefaultCreator     = "未知"
)

// MessageNetworkInfo 心跳消息里的 network_info，指针字段用来区分"没传"和"零值"
type MessageNetworkInfo struct {
	IP          string  `json:"ip"`
	Port        *Port   `json:"port"`
	Status      Status  `json:"status"`
	IsRemote    *bool   `json:"is_remote"`
	CPUUsage    Percent `json:"cpu_usage"`
	MemoryUsage Percent `json:"memory_usage"`
	GPUUsage    GPUList `json:"gpu_usage"`
	SidecarPort *Port   `json:"sidecar_port,omitempty"`

	// 只接受整数毫秒，ISO 字符串或小数会在解码时被拒绝
	LastUpdate *int64 `json:"last_update_timestamp"`
}

// StatusMessage UDP/HTTP 上报的状态消息
// ClassName / IP / Port 是 HTTP 上报器放在顶层的旧字段，合并时折叠进记录
type StatusMessage struct {
	Name        string  `json:"name"`
	Category    string  `json:"category,omitempty"`
	Class       string  `json:"class,omitempty"`
	ClassName   string  `json:"className,omitempty"`
	Subcategory string  `json:"subcategory,omitempty"`
	Version     string  `json:"version,omitempty"`
	Creator     string  `json:"creator,omitempty"`
	CreateTime  string  `json:"create_time,omitempty"`
	Maintainer  string  `json:"maintainer,omitempty"`
	UpdateTime  string  `json:"update_time,omitempty"`
	Description string  `json:"description,omitempty"`
	Inputs      []Param `json:"inputs,omitempty"`
	Outputs     []Param `json:"outputs,omitempty"`

	IP   string `json:"ip,omitempty"`
	Port *Port  `json:"port,omitempty"`

	NetworkInfo *MessageNetworkInfo `json:"network_info,omitempty"`
}

// DecodeStatusMessages 解码一个 JSON 对象，或者一个对象数组
func DecodeStatusMessages(data []byte) ([]StatusMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	if data[0] == '[' {
		var msgs []StatusMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return nil, ErrEmptyPayload
		}
		return msgs, nil
	}

	var msg StatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return []StatusMessage{msg}, nil
}

// Validate 边界校验: 名称必填，状态必须属于枚举
func (m *StatusMessage) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return ErrMissingName
	}
	if m.NetworkInfo != nil && m.NetworkInfo.Status != "" && !m.NetworkInfo.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, m.NetworkInfo.Status)
	}
	if m.NetworkInfo != nil && m.NetworkInfo.LastUpdate != nil && *m.NetworkInfo.LastUpdate < 0 {
		return fmt.Errorf("negative last_update_timestamp %d", *m.NetworkInfo.LastUpdate)
	}
	return nil
}

// Merge 把一条心跳合并进现有记录 (cur 为 nil 表示首次注册)
//   - 消息里出现的标识字段覆盖旧值，缺省的保持不变
//   - network_info 整体覆盖
//   - last_update_timestamp 使用注册中心的接收时间，且不会倒退
func Merge(cur *AlgorithmRecord, msg *StatusMessage, now time.Time) *AlgorithmRecord {
	var next *AlgorithmRecord
	if cur == nil {
		next = &AlgorithmRecord{
			Name:        msg.Name,
			Category:    DefaultCategory,
			Class:       DefaultClass,
			Subcategory: DefaultSubcategory,
			Version:     DefaultVersion,
			Creator:     DefaultCreator,
			Inputs:      []Param{},
			Outputs:     []Param{},
		}
	} else {
		next = cur.Clone()
	}

	overwrite(&next.Category, msg.Category)
	if msg.Class != "" {
		next.Class = msg.Class
	} else {
		overwrite(&next.Class, msg.ClassName)
	}
	overwrite(&next.Subcategory, msg.Subcategory)
	overwrite(&next.Version, msg.Version)
	overwrite(&next.Creator, msg.Creator)
	overwrite(&next.CreateTime, msg.CreateTime)
	overwrite(&next.Maintainer, msg.Maintainer)
	overwrite(&next.UpdateTime, msg.UpdateTime)
	overwrite(&next.Description, msg.Description)
	if msg.Inputs != nil {
		next.Inputs = append([]Param{}, msg.Inputs...)
	}
	if msg.Outputs != nil {
		next.Outputs = append([]Param{}, msg.Outputs...)
	}

	ni := NetworkInfo{Status: StatusIdle, IsRemote: true}
	if in := msg.NetworkInfo; in != nil {
		ni.IP = in.IP
		if in.Port != nil {
			ni.Port = *in.Port
		}
		if in.Status != "" {
			ni.Status = in.Status
		}
		if in.IsRemote != nil {
			ni.IsRemote = *in.IsRemote
		}
		ni.CPUUsage = in.CPUUsage
		ni.MemoryUsage = in.MemoryUsage
		ni.GPUUsage = append(GPUList(nil), in.GPUUsage...)
		if in.SidecarPort != nil {
			ni.SidecarPort = *in.SidecarPort
		}
	}
	if ni.IP == "" {
		ni.IP = msg.IP
	}
	if ni.Port == 0 && msg.Port != nil {
		ni.Port = *msg.Port
	}

	stamp := now.UnixMilli()
	if cur != nil && cur.NetworkInfo.LastUpdate > stamp {
		stamp = cur.NetworkInfo.LastUpdate
	}
	ni.LastUpdate = stamp
	next.NetworkInfo = ni

	return next
}

func overwrite(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
