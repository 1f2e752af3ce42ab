package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"algohub/pkg/model"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultEtcdPrefix 记录 Key 的前缀 (Schema Design): <prefix><name> -> JSON
const DefaultEtcdPrefix = "/algohub/algorithms/"

// maxTxnRetries 乐观事务的最大重试次数
const maxTxnRetries = 10

type EtcdManager struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdManager 初始化 Etcd 连接
func NewEtcdManager(endpoints []string, dialTimeout time.Duration, prefix string) (*EtcdManager, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd %v: %w", endpoints, err)
	}
	return &EtcdManager{client: cli, prefix: prefix}, nil
}

func (e *EtcdManager) key(name string) string {
	return e.prefix + name
}

func (e *EtcdManager) Get(ctx context.Context, name string) (*model.AlgorithmRecord, error) {
	resp, err := e.client.Get(ctx, e.key(name))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return model.UnmarshalRecord(resp.Kvs[0].Value)
}

func (e *EtcdManager) List(ctx context.Context) ([]*model.AlgorithmRecord, error) {
	// 获取前缀下的所有 Key
	resp, err := e.client.Get(ctx, e.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	records := make([]*model.AlgorithmRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		rec, err := model.UnmarshalRecord(kv.Value)
		if err != nil {
			log.Warnf("[Etcd] Failed to unmarshal record %s: %v", kv.Key, err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// Update 乐观事务: 读出当前值和 ModRevision，修改后以 Compare-And-Swap 提交
// 不存在的 Key 比较 CreateRevision == 0，冲突时重新读取再试
func (e *EtcdManager) Update(ctx context.Context, name string, fn UpdateFunc) (*model.AlgorithmRecord, bool, error) {
	key := e.key(name)

	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		resp, err := e.client.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}

		var (
			cur *model.AlgorithmRecord
			cmp clientv3.Cmp
		)
		if len(resp.Kvs) == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		} else {
			kv := resp.Kvs[0]
			cur, err = model.UnmarshalRecord(kv.Value)
			if err != nil {
				return nil, false, fmt.Errorf("decode %s: %w", key, err)
			}
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)
		}

		next, err := fn(cur.Clone())
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			return cur, false, nil
		}
		next.Name = name

		data, err := model.MarshalRecord(next)
		if err != nil {
			return nil, false, err
		}

		txnResp, err := e.client.Txn(ctx).
			If(cmp).
			Then(clientv3.OpPut(key, string(data))).
			Commit()
		if err != nil {
			return nil, false, err
		}
		if txnResp.Succeeded {
			return next, true, nil
		}
		log.Debugf("[Etcd] txn conflict on %s, retry %d", key, attempt+1)
	}
	return nil, false, fmt.Errorf("update %s: %w", name, ErrConflict)
}

func (e *EtcdManager) Delete(ctx context.Context, name string) error {
	resp, err := e.client.Delete(ctx, e.key(name))
	if err != nil {
		return err
	}
	if resp.Deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// Watch 将 Etcd 的 Watch 转换为业务 Channel
func (e *EtcdManager) Watch(ctx context.Context) <-chan Event {
	eventChan := make(chan Event, watchBuffer)

	go func() {
		defer close(eventChan)
		watchChan := e.client.Watch(ctx, e.prefix, clientv3.WithPrefix())

		for watchResp := range watchChan {
			if err := watchResp.Err(); err != nil {
				log.Warnf("[Etcd] watch error: %v", err)
				continue
			}
			for _, ev := range watchResp.Events {
				out := Event{Name: strings.TrimPrefix(string(ev.Kv.Key), e.prefix)}
				switch ev.Type {
				case clientv3.EventTypePut:
					// Create 和 Update 在 Etcd 都是 Put
					rec, err := model.UnmarshalRecord(ev.Kv.Value)
					if err != nil {
						log.Warnf("[Etcd] Failed to unmarshal record: %v", err)
						continue
					}
					out.Type, out.Record = EventPut, rec
				case clientv3.EventTypeDelete:
					out.Type = EventDelete
				}

				select {
				case eventChan <- out:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventChan
}

func (e *EtcdManager) Close() error {
	return e.client.Close()
}
