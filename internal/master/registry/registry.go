package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"algohub/internal/config"
	"algohub/internal/pkg/logger"
	"algohub/internal/pkg/metrics"
	"algohub/pkg/model"
	"algohub/pkg/store"
)

// ErrMalformed 上报内容无法解码或字段非法，注册中心不做任何修改
var ErrMalformed = errors.New("malformed status payload")

// 上报通道
const (
	TransportUDP  = "udp"
	TransportHTTP = "http"
)

// Source 一次上报的来源
type Source struct {
	Transport string
	Addr      string
}

// Query 列表过滤条件，空值表示不过滤
type Query struct {
	Category    string
	Class       string
	Subcategory string
	Status      model.Status
	Remote      *bool
}

func (q Query) match(r *model.AlgorithmRecord) bool {
	switch {
	case q.Category != "" && r.Category != q.Category:
		return false
	case q.Class != "" && r.Class != q.Class:
		return false
	case q.Subcategory != "" && r.Subcategory != q.Subcategory:
		return false
	case q.Status != "" && r.NetworkInfo.Status != q.Status:
		return false
	case q.Remote != nil && r.NetworkInfo.IsRemote != *q.Remote:
		return false
	}
	return true
}

// Registry 算法注册中心: 合并心跳、查询、离线检测
// 所有读-改-写都通过 store.Update 完成
type Registry struct {
	store   store.Store
	now     func() time.Time
	metrics *metrics.Metrics

	mu         sync.RWMutex
	threshold  time.Duration
	remoteOnly bool
}

type Option func(*Registry)

// WithClock 替换时钟 (测试用)
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New 构造注册中心
func New(s store.Store, liveness config.LivenessConfig, opts ...Option) *Registry {
	r := &Registry{
		store:      s,
		now:        time.Now,
		threshold:  liveness.Threshold,
		remoteOnly: liveness.RemoteOnly,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLiveness 热更新离线阈值
func (r *Registry) SetLiveness(threshold time.Duration, remoteOnly bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold, r.remoteOnly = threshold, remoteOnly
}

func (r *Registry) liveness() (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.threshold, r.remoteOnly
}

// RegisterPayload 解码一个上报报文 (对象或数组) 并逐条注册，返回注册条数
// 报文中任何一条非法时整体丢弃
func (r *Registry) RegisterPayload(ctx context.Context, src Source, data []byte) (int, error) {
	msgs, err := model.DecodeStatusMessages(data)
	if err != nil {
		r.metrics.RecordDecodeError(src.Transport)
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			r.metrics.RecordDecodeError(src.Transport)
			return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}

	for i := range msgs {
		if _, err := r.Register(ctx, &msgs[i], src); err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}

// Register 把一条心跳合并进注册中心
func (r *Registry) Register(ctx context.Context, msg *model.StatusMessage, src Source) (*model.AlgorithmRecord, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var prevStatus model.Status
	created := false
	rec, _, err := r.store.Update(ctx, msg.Name, func(cur *model.AlgorithmRecord) (*model.AlgorithmRecord, error) {
		created = cur == nil
		if cur != nil {
			prevStatus = cur.NetworkInfo.Status
		}
		return model.Merge(cur, msg, r.now()), nil
	})
	if err != nil {
		logger.LogError(err, "registry", map[string]interface{}{"name": msg.Name})
		return nil, fmt.Errorf("register %s: %w", msg.Name, err)
	}
	r.metrics.RecordHeartbeat(src.Transport)

	switch {
	case created:
		r.metrics.RecordRegistration()
		logger.LogBusinessOperation("register", rec.Name, src.Addr, "success",
			fmt.Sprintf("成功注册算法 %s 来自 %s", rec.Name, src.Addr),
			map[string]interface{}{"transport": src.Transport, "status": rec.NetworkInfo.Status})
	case prevStatus == model.StatusOffline && rec.NetworkInfo.Status != model.StatusOffline:
		logger.LogBusinessOperation("online", rec.Name, src.Addr, "success",
			fmt.Sprintf("算法 %s 重新上线", rec.Name), nil)
	default:
		logger.Debugf("[Registry] heartbeat %s status=%s from %s/%s", rec.Name, rec.NetworkInfo.Status, src.Transport, src.Addr)
	}
	return rec, nil
}

func (r *Registry) Get(ctx context.Context, name string) (*model.AlgorithmRecord, error) {
	return r.store.Get(ctx, name)
}

// List 线性扫描过滤
func (r *Registry) List(ctx context.Context, q Query) ([]*model.AlgorithmRecord, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.AlgorithmRecord, 0, len(all))
	for _, rec := range all {
		if q.match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Delete 运维删除
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := r.store.Delete(ctx, name); err != nil {
		return err
	}
	logger.LogBusinessOperation("delete", name, "", "success", fmt.Sprintf("删除算法记录 %s", name), nil)
	return nil
}

// SetStatus 直接修改状态 (容器被停止时标记离线)，状态未变时不写入
func (r *Registry) SetStatus(ctx context.Context, name string, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidStatus, status)
	}
	_, _, err := r.store.Update(ctx, name, func(cur *model.AlgorithmRecord) (*model.AlgorithmRecord, error) {
		if cur == nil {
			return nil, store.ErrNotFound
		}
		if cur.NetworkInfo.Status == status {
			return nil, nil
		}
		cur.NetworkInfo.Status = status
		return cur, nil
	})
	return err
}

// Watch 记录变化事件
func (r *Registry) Watch(ctx context.Context) <-chan store.Event {
	return r.store.Watch(ctx)
}

// Sweep 离线检测: 超过阈值未上报且未离线的记录标记为离线，返回本次被标记的名称
// 在原子更新里重新判断是否过期，与之竞争的心跳优先
func (r *Registry) Sweep(ctx context.Context) ([]string, error) {
	start := time.Now()
	now := r.now()
	threshold, remoteOnly := r.liveness()

	records, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep list: %w", err)
	}

	shouldFlip := func(rec *model.AlgorithmRecord) bool {
		if remoteOnly && !rec.NetworkInfo.IsRemote {
			return false
		}
		return rec.NetworkInfo.Status != model.StatusOffline && rec.IsStale(now, threshold)
	}

	var (
		flipped []string
		errs    []error
	)
	counts := make(map[string]int)
	for _, rec := range records {
		status := rec.NetworkInfo.Status
		if shouldFlip(rec) {
			next, written, err := r.store.Update(ctx, rec.Name, func(cur *model.AlgorithmRecord) (*model.AlgorithmRecord, error) {
				if cur == nil || !shouldFlip(cur) {
					return nil, nil
				}
				cur.NetworkInfo.Status = model.StatusOffline
				return cur, nil
			})
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("mark %s offline: %w", rec.Name, err))
			case written:
				flipped = append(flipped, rec.Name)
				logger.LogBusinessOperation("offline", rec.Name, rec.NetworkInfo.IP, "success",
					fmt.Sprintf("外部算法 %s 已离线", rec.Name),
					map[string]interface{}{"last_update_timestamp": rec.NetworkInfo.LastUpdate})
			}
			if next != nil {
				status = next.NetworkInfo.Status
			}
		}
		counts[string(status)]++
	}

	r.metrics.RecordSweep(time.Since(start), len(flipped), counts)
	return flipped, errors.Join(errs...)
}
