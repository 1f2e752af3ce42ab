package store

import (
	"context"
	"errors"

	"algohub/pkg/model"
)

var (
	ErrNotFound = errors.New("algorithm record not found")
	// ErrConflict 乐观事务重试次数用尽
	ErrConflict = errors.New("concurrent update conflict")
	ErrClosed   = errors.New("store closed")
)

// EventType 定义监听事件类型
type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

func (t EventType) String() string {
	if t == EventDelete {
		return "delete"
	}
	return "put"
}

// Event 记录变化事件，Delete 事件的 Record 为 nil
type Event struct {
	Type   EventType
	Name   string
	Record *model.AlgorithmRecord
}

// UpdateFunc 在存储层的原子步骤里执行
// cur 是当前记录的副本 (不存在时为 nil)，返回 nil 表示不需要写入
type UpdateFunc func(cur *model.AlgorithmRecord) (*model.AlgorithmRecord, error)

// Store 接口定义了注册中心对存储层的所有需求
// 所有的读-改-写都必须走 Update，由后端保证原子性
type Store interface {
	// Get 按名称读取，不存在返回 ErrNotFound
	Get(ctx context.Context, name string) (*model.AlgorithmRecord, error)

	// List 返回全部记录 (按名称排序)
	List(ctx context.Context) ([]*model.AlgorithmRecord, error)

	// Update 原子地读-改-写一条记录，返回最终记录以及是否发生了写入
	Update(ctx context.Context, name string, fn UpdateFunc) (*model.AlgorithmRecord, bool, error)

	// Delete 删除记录，不存在返回 ErrNotFound
	Delete(ctx context.Context, name string) error

	// Watch 监听记录变化 (返回一个只读通道，ctx 结束时关闭)
	Watch(ctx context.Context) <-chan Event

	Close() error
}
