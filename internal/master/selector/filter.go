package selector

import (
	"errors"
	"sync/atomic"
	"time"

	"algohub/internal/pkg/logger"
	"algohub/pkg/model"
)

// ErrNoCandidate 没有满足条件的空闲实例
var ErrNoCandidate = errors.New("no idle algorithm matches the request")

// Request 选择条件，空字段表示不限
type Request struct {
	Category    string `form:"category" json:"category"`
	Class       string `form:"class" json:"class"`
	Subcategory string `form:"subcategory" json:"subcategory"`
}

// Selector 从注册中心的快照里挑一个空闲的算法实例
type Selector struct {
	// 超过该时长未上报的记录即使状态还是空闲也不参与选择
	threshold atomic.Int64
}

func New(threshold time.Duration) *Selector {
	s := &Selector{}
	s.SetThreshold(threshold)
	return s
}

// SetThreshold 配置热更新时与离线阈值保持一致
func (s *Selector) SetThreshold(d time.Duration) {
	s.threshold.Store(int64(d))
}

// Select Filter -> Score，返回得分最高 (负载最低) 的实例
func (s *Selector) Select(records []*model.AlgorithmRecord, req Request, now time.Time) (*model.AlgorithmRecord, error) {
	// Step 1: Filter (过滤) - 剔除非空闲或不匹配的实例
	candidates := s.filter(records, req, now)
	if len(candidates) == 0 {
		return nil, ErrNoCandidate
	}
	// Step 2: Score (打分)
	return s.best(candidates), nil
}

// filter 遍历记录，返回满足硬性条件的候选者
func (s *Selector) filter(records []*model.AlgorithmRecord, req Request, now time.Time) []*model.AlgorithmRecord {
	candidates := make([]*model.AlgorithmRecord, 0, len(records))
	for _, rec := range records {
		if s.check(rec, req, now) {
			candidates = append(candidates, rec)
		}
	}
	return candidates
}

// check 执行具体的 Predicate 检查逻辑
func (s *Selector) check(rec *model.AlgorithmRecord, req Request, now time.Time) bool {
	// 1. 只选空闲实例
	if rec.NetworkInfo.Status != model.StatusIdle {
		return false
	}

	// 2. 分类匹配
	if req.Category != "" && rec.Category != req.Category {
		return false
	}
	if req.Class != "" && rec.Class != req.Class {
		return false
	}
	if req.Subcategory != "" && rec.Subcategory != req.Subcategory {
		return false
	}

	// 3. 心跳新鲜度，扫描尚未把它标记离线
	if threshold := time.Duration(s.threshold.Load()); threshold > 0 && rec.IsStale(now, threshold) {
		logger.Debugf("[Selector] %s filtered: last heartbeat too old", rec.Name)
		return false
	}
	return true
}
