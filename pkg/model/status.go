package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidStatus 状态不在 {idle, busy, offline} 之内
var ErrInvalidStatus = errors.New("invalid algorithm status")

// Status 算法进程生命周期状态 (封闭枚举)
type Status string

const (
	StatusIdle    Status = "idle"    // 空闲
	StatusBusy    Status = "busy"    // 调用中
	StatusOffline Status = "offline" // 离线 (心跳超时或主动下线)
)

// 历史生产者使用的状态标签，只在边界处做一次归一化
var statusAliases = map[string]Status{
	"idle":    StatusIdle,
	"free":    StatusIdle,
	"空闲":      StatusIdle,
	"busy":    StatusBusy,
	"running": StatusBusy,
	"运行中":     StatusBusy,
	"calling": StatusBusy,
	"调用中":     StatusBusy,
	"调用":      StatusBusy,
	"offline": StatusOffline,
	"离线":      StatusOffline,
}

// ParseStatus 把生产者上报的状态字符串解析为枚举值
func ParseStatus(s string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if st, ok := statusAliases[key]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Valid 是否是合法的枚举值
func (s Status) Valid() bool {
	return s == StatusIdle || s == StatusBusy || s == StatusOffline
}

// Label 中文显示标签
func (s Status) Label() string {
	switch s {
	case StatusIdle:
		return "空闲"
	case StatusBusy:
		return "调用中"
	case StatusOffline:
		return "离线"
	default:
		return "未知"
	}
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, string(data))
	}
	// 空字符串留给 Merge 处理默认值
	if raw == "" {
		*s = ""
		return nil
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
