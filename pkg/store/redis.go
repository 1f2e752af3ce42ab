package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"algohub/pkg/model"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix 记录 Key 前缀: <prefix><name> -> JSON
// 另有 <prefix>index (名称集合) 和 <prefix>events (变更通知频道)
const DefaultRedisPrefix = "algohub:algorithms:"

// RedisStore 基于 Redis 的注册中心存储
type RedisStore struct {
	client *redis.Client
	prefix string
}

// redisEvent 发布到 pub/sub 频道的变更通知
type redisEvent struct {
	Type   string                 `json:"type"`
	Name   string                 `json:"name"`
	Record *model.AlgorithmRecord `json:"record,omitempty"`
}

// NewRedisStore 创建 Redis 存储实例
func NewRedisStore(opts *redis.Options, prefix string) (*RedisStore, error) {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infof("[Redis] Connected to %s", opts.Addr)
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(name string) string { return s.prefix + name }
func (s *RedisStore) indexKey() string       { return s.prefix + "index" }
func (s *RedisStore) channel() string        { return s.prefix + "events" }

func (s *RedisStore) Get(ctx context.Context, name string) (*model.AlgorithmRecord, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.UnmarshalRecord(data)
}

func (s *RedisStore) List(ctx context.Context) ([]*model.AlgorithmRecord, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []*model.AlgorithmRecord{}, nil
	}

	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.key(n)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*model.AlgorithmRecord, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// 索引里残留的名称
			continue
		}
		rec, err := model.UnmarshalRecord([]byte(str))
		if err != nil {
			log.Warnf("[Redis] Failed to unmarshal record %s: %v", names[i], err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// Update WATCH/MULTI 乐观事务，Key 在读取后被改动时 EXEC 失败并重试
func (s *RedisStore) Update(ctx context.Context, name string, fn UpdateFunc) (*model.AlgorithmRecord, bool, error) {
	key := s.key(name)

	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		var (
			result  *model.AlgorithmRecord
			written bool
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var cur *model.AlgorithmRecord
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == redis.Nil:
			case err != nil:
				return err
			default:
				if cur, err = model.UnmarshalRecord(data); err != nil {
					return fmt.Errorf("decode %s: %w", key, err)
				}
			}

			next, err := fn(cur.Clone())
			if err != nil {
				return err
			}
			if next == nil {
				result = cur
				return nil
			}
			next.Name = name

			payload, err := model.MarshalRecord(next)
			if err != nil {
				return err
			}
			event, err := json.Marshal(redisEvent{Type: EventPut.String(), Name: name, Record: next})
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				pipe.SAdd(ctx, s.indexKey(), name)
				pipe.Publish(ctx, s.channel(), event)
				return nil
			})
			if err != nil {
				return err
			}
			result, written = next, true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			log.Debugf("[Redis] txn conflict on %s, retry %d", key, attempt+1)
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return result, written, nil
	}
	return nil, false, fmt.Errorf("update %s: %w", name, ErrConflict)
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	event, err := json.Marshal(redisEvent{Type: EventDelete.String(), Name: name})
	if err != nil {
		return err
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(name))
		pipe.SRem(ctx, s.indexKey(), name)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return s.client.Publish(ctx, s.channel(), event).Err()
}

// Watch 订阅变更频道
func (s *RedisStore) Watch(ctx context.Context) <-chan Event {
	eventChan := make(chan Event, watchBuffer)
	sub := s.client.Subscribe(ctx, s.channel())

	go func() {
		defer close(eventChan)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev redisEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warnf("[Redis] Failed to decode event: %v", err)
					continue
				}
				out := Event{Type: EventPut, Name: ev.Name, Record: ev.Record}
				if ev.Type == EventDelete.String() {
					out = Event{Type: EventDelete, Name: ev.Name}
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

func (s *RedisStore) Close() error {
	return s.client.Close()
}
