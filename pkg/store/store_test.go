package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"algohub/pkg/model"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(name string, status model.Status) *model.AlgorithmRecord {
	return &model.AlgorithmRecord{
		Name:     name,
		Category: "内置服务",
		Class:    "滤波类",
		Version:  "1.0",
		Inputs:   []model.Param{},
		Outputs:  []model.Param{},
		NetworkInfo: model.NetworkInfo{
			IP:         "10.0.0.5",
			Port:       9090,
			Status:     status,
			IsRemote:   true,
			LastUpdate: time.Now().UnixMilli(),
		},
	}
}

func put(rec *model.AlgorithmRecord) UpdateFunc {
	return func(*model.AlgorithmRecord) (*model.AlgorithmRecord, error) { return rec, nil }
}

// runStoreSuite 所有后端共享的行为测试
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
	})

	t.Run("update creates and returns record", func(t *testing.T) {
		rec, written, err := s.Update(ctx, "EKF", func(cur *model.AlgorithmRecord) (*model.AlgorithmRecord, error) {
			assert.Nil(t, cur)
			return newRecord("ignored-name", model.StatusIdle), nil
		})
		require.NoError(t, err)
		assert.True(t, written)
		assert.Equal(t, "EKF", rec.Name, "key name wins over record name")

		got, err := s.Get(ctx, "EKF")
		require.NoError(t, err)
		assert.Equal(t, model.StatusIdle, got.NetworkInfo.Status)
		assert.Equal(t, "内置服务", got.Category)
	})

	t.Run("nil result means no write", func(t *testing.T) {
		rec, written, err := s.Update(ctx, "EKF", func(cur *model.AlgorithmRecord) (*model.AlgorithmRecord, error) {
			require.NotNil(t, cur)
			return nil, nil
		})
		require.NoError(t, err)
		assert.False(t, written)
		assert.Equal(t, "EKF", rec.Name)
	})

	t.Run("update error leaves record untouched", func(t *testing.T) {
		boom := errors.New("boom")
		_, _, err := s.Update(ctx, "EKF", func(cur *model.AlgorithmRecord) (*model.AlgorithmRecord, error) {
			cur.NetworkInfo.Status = model.StatusOffline
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.Get(ctx, "EKF")
		require.NoError(t, err)
		assert.Equal(t, model.StatusIdle, got.NetworkInfo.Status)
	})

	t.Run("list sorted by name", func(t *testing.T) {
		for _, n := range []string{"zeta", "alpha"} {
			_, _, err := s.Update(ctx, n, put(newRecord(n, model.StatusBusy)))
			require.NoError(t, err)
		}
		list, err := s.List(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(list))
		for _, r := range list {
			names = append(names, r.Name)
		}
		assert.Equal(t, []string{"EKF", "alpha", "zeta"}, names)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "zeta"))
		_, err := s.Get(ctx, "zeta")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent updates are atomic", func(t *testing.T) {
		const n = 40
		_, _, err := s.Update(ctx, "counter", put(newRecord("counter", model.StatusIdle)))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := s.Update(ctx, "counter", func(cur *model.AlgorithmRecord) (*model.AlgorithmRecord, error) {
					cur.NetworkInfo.CPUUsage++
					return cur, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, model.Percent(n), got.NetworkInfo.CPUUsage)
	})

	t.Run("watch", func(t *testing.T) {
		wctx, cancel := context.WithCancel(ctx)
		events := s.Watch(wctx)
		// pub/sub 订阅是异步建立的
		time.Sleep(100 * time.Millisecond)

		_, _, err := s.Update(ctx, "watched", put(newRecord("watched", model.StatusBusy)))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "watched"))

		ev := recvEvent(t, events)
		assert.Equal(t, EventPut, ev.Type)
		assert.Equal(t, "watched", ev.Name)
		require.NotNil(t, ev.Record)
		assert.Equal(t, model.StatusBusy, ev.Record.NetworkInfo.Status)

		ev = recvEvent(t, events)
		assert.Equal(t, EventDelete, ev.Type)
		assert.Nil(t, ev.Record)

		cancel()
		assert.Eventually(t, func() bool {
			select {
			case _, ok := <-events:
				return !ok
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "algorithm_data.json"))
	require.NoError(t, err)
	defer s.Close()
	runStoreSuite(t, s)
}

func TestFileStore_PersistsPrettyUnicodeDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "algorithm_data.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	_, _, err = s.Update(context.Background(), "EKF", put(newRecord("EKF", model.StatusIdle)))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := string(data)
	assert.True(t, strings.HasPrefix(doc, "{\n    \"EKF\": {\n        \"name\": \"EKF\""), doc)
	assert.Contains(t, doc, "内置服务", "non-ASCII is kept verbatim")

	// 重新打开后数据仍在
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), "EKF")
	require.NoError(t, err)
	assert.Equal(t, "滤波类", got.Class)
}

func TestFileStore_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "algorithm_data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"EKF": {`), 0o644))
	_, err := NewFileStore(path)
	assert.Error(t, err)

	// 空文件视为空注册表
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()
	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileStore_WriteFailureRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "algorithm_data.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, _, err = s.Update(ctx, "EKF", put(newRecord("EKF", model.StatusIdle)))
	require.NoError(t, err)

	// 临时文件路径被目录占用，写盘必然失败
	require.NoError(t, os.Mkdir(path+".tmp", 0o755))

	_, _, err = s.Update(ctx, "EKF", put(newRecord("EKF", model.StatusOffline)))
	assert.Error(t, err)
	_, _, err = s.Update(ctx, "new", put(newRecord("new", model.StatusIdle)))
	assert.Error(t, err)
	assert.Error(t, s.Delete(ctx, "EKF"))

	got, err := s.Get(ctx, "EKF")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIdle, got.NetworkInfo.Status)
	_, err = s.Get(ctx, "new")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_Closed(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "algorithm_data.json"))
	require.NoError(t, err)
	events := s.Watch(context.Background())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := <-events
	assert.False(t, ok)
}

// 以下后端需要外部服务，设置环境变量后运行

func TestNew_Backends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "algorithm_data.json")
	s, err := New(Options{FilePath: path})
	require.NoError(t, err)
	_, ok := s.(*FileStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	_, err = New(Options{Backend: "sqlite"})
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("ALGOHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ALGOHUB_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(&redis.Options{Addr: addr}, fmt.Sprintf("algohub-test:%d:", time.Now().UnixNano()))
	require.NoError(t, err)
	defer s.Close()
	runStoreSuite(t, s)
}

func TestEtcdStore(t *testing.T) {
	endpoints := os.Getenv("ALGOHUB_TEST_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ALGOHUB_TEST_ETCD_ENDPOINTS not set")
	}
	s, err := NewEtcdManager(strings.Split(endpoints, ","), 5*time.Second, fmt.Sprintf("/algohub-test/%d/", time.Now().UnixNano()))
	require.NoError(t, err)
	defer s.Close()
	runStoreSuite(t, s)
}
