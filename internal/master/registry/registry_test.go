package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"algohub/internal/config"
	"algohub/pkg/model"
	"algohub/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1_729_468_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var (
	udpSrc  = Source{Transport: TransportUDP, Addr: "10.0.0.5:50000"}
	liveCfg = config.LivenessConfig{Interval: time.Second, Threshold: 8 * time.Second, RemoteOnly: true}
)

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "algorithm_data.json")
	s, err := store.NewFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := newFakeClock()
	return New(s, liveCfg, WithClock(clock.Now)), clock, path
}

func TestRegisterPayload_StatusReadBack(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	for payload, want := range map[string]model.Status{
		`{"name":"a","network_info":{"status":"空闲"}}`:   model.StatusIdle,
		`{"name":"b","network_info":{"status":"调用中"}}`:  model.StatusBusy,
		`[{"name":"c","network_info":{"status":"busy"}}]`: model.StatusBusy,
		`{"name":"d","network_info":{"status":"离线"}}`:   model.StatusOffline,
	} {
		n, err := r.RegisterPayload(ctx, udpSrc, []byte(payload))
		require.NoError(t, err, payload)
		assert.Equal(t, 1, n)
		msgs, _ := model.DecodeStatusMessages([]byte(payload))

		rec, err := r.Get(ctx, msgs[0].Name)
		require.NoError(t, err)
		assert.Equal(t, want, rec.NetworkInfo.Status, payload)
	}
}

func TestRegister_LastWriteWinsWithoutDuplicates(t *testing.T) {
	r, clock, path := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.RegisterPayload(ctx, udpSrc, []byte(`{"name":"EKF","network_info":{"status":"空闲","cpu_usage":10}}`))
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = r.RegisterPayload(ctx, udpSrc, []byte(`{"name":"EKF","network_info":{"status":"调用中","cpu_usage":55}}`))
	require.NoError(t, err)

	list, err := r.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.StatusBusy, list[0].NetworkInfo.Status)
	assert.Equal(t, model.Percent(55), list[0].NetworkInfo.CPUUsage)
	assert.Equal(t, clock.Now().UnixMilli(), list[0].NetworkInfo.LastUpdate)

	var doc map[string]json.RawMessage
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc, 1)
}

func TestRegisterPayload_MalformedLeavesRegistryUnchanged(t *testing.T) {
	r, _, path := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.RegisterPayload(ctx, udpSrc, []byte(`{"name":"EKF"}`))
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	for _, payload := range []string{
		`{"name":"EKF","network_info":`,
		`not json`,
		`{"name":""}`,
		`[{"name":"ok"},{"name":"bad","network_info":{"status":"sleeping"}}]`,
		`{"name":"EKF","network_info":{"last_update_timestamp":"2024-10-21T08:00:00"}}`,
		`{"name":"EKF","network_info":{"cpu_usage":"NaN"}}`,
		`{"name":"EKF","network_info":{"memory_usage":"+Inf%"}}`,
		`{"name":"EKF","network_info":{"gpu_usage":"-inf"}}`,
	} {
		_, err := r.RegisterPayload(ctx, udpSrc, []byte(payload))
		assert.ErrorIs(t, err, ErrMalformed, payload)
	}

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	_, err = r.Get(ctx, "ok")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// EKF 在阈值 + 1 秒内没有心跳，扫描后变为离线，且重复扫描不会反转
func TestSweep_MarksStaleRecordOffline(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	ctx := context.Background()

	payload := `{"name":"EKF","network_info":{"status":"空闲","last_update_timestamp":1729468000000}}`
	_, err := r.RegisterPayload(ctx, udpSrc, []byte(payload))
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	flipped, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, flipped)

	clock.Advance(4 * time.Second)
	flipped, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"EKF"}, flipped)

	rec, err := r.Get(ctx, "EKF")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, rec.NetworkInfo.Status)

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		flipped, err = r.Sweep(ctx)
		require.NoError(t, err)
		assert.Empty(t, flipped)
		rec, err = r.Get(ctx, "EKF")
		require.NoError(t, err)
		assert.Equal(t, model.StatusOffline, rec.NetworkInfo.Status)
	}

	// 新的心跳让它重新上线
	_, err = r.RegisterPayload(ctx, udpSrc, []byte(`{"name":"EKF","network_info":{"status":"空闲"}}`))
	require.NoError(t, err)
	rec, err = r.Get(ctx, "EKF")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIdle, rec.NetworkInfo.Status)
}

func TestSweep_RemoteOnly(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.RegisterPayload(ctx, udpSrc, []byte(`{"name":"internal","network_info":{"is_remote":false}}`))
	require.NoError(t, err)
	_, err = r.RegisterPayload(ctx, udpSrc, []byte(`{"name":"external"}`))
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	flipped, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"external"}, flipped)

	r.SetLiveness(8*time.Second, false)
	flipped, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"internal"}, flipped)
}

// staleListStore 返回旧快照，模拟扫描读取列表之后心跳才到达
type staleListStore struct {
	store.Store
	snapshot []*model.AlgorithmRecord
}

func (s *staleListStore) List(context.Context) ([]*model.AlgorithmRecord, error) {
	return s.snapshot, nil
}

func TestSweep_HeartbeatRacingSweepWins(t *testing.T) {
	base, clock, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := base.RegisterPayload(ctx, udpSrc, []byte(`{"name":"EKF"}`))
	require.NoError(t, err)
	snapshot, err := base.store.List(ctx)
	require.NoError(t, err)

	clock.Advance(9 * time.Second)
	_, err = base.RegisterPayload(ctx, udpSrc, []byte(`{"name":"EKF","network_info":{"status":"busy"}}`))
	require.NoError(t, err)

	racing := New(&staleListStore{Store: base.store, snapshot: snapshot}, liveCfg, WithClock(clock.Now))
	flipped, err := racing.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, flipped)

	rec, err := base.Get(ctx, "EKF")
	require.NoError(t, err)
	assert.Equal(t, model.StatusBusy, rec.NetworkInfo.Status)
}

func TestList_Query(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, p := range []string{
		`{"name":"EKF","category":"内置服务","class":"滤波类","network_info":{"status":"idle"}}`,
		`{"name":"UKF","category":"内置服务","class":"滤波类","network_info":{"status":"busy"}}`,
		`{"name":"YOLO","category":"外部服务","class":"检测类","network_info":{"status":"idle","is_remote":false}}`,
	} {
		_, err := r.RegisterPayload(ctx, udpSrc, []byte(p))
		require.NoError(t, err)
	}

	names := func(q Query) []string {
		list, err := r.List(ctx, q)
		require.NoError(t, err)
		out := []string{}
		for _, rec := range list {
			out = append(out, rec.Name)
		}
		return out
	}
	remote := false

	assert.Equal(t, []string{"EKF", "UKF", "YOLO"}, names(Query{}))
	assert.Equal(t, []string{"EKF", "UKF"}, names(Query{Class: "滤波类"}))
	assert.Equal(t, []string{"EKF", "YOLO"}, names(Query{Status: model.StatusIdle}))
	assert.Equal(t, []string{"YOLO"}, names(Query{Remote: &remote}))
	assert.Empty(t, names(Query{Category: "内置服务", Subcategory: "x"}))
}

func TestSetStatusAndDelete(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.SetStatus(ctx, "missing", model.StatusOffline), store.ErrNotFound)
	assert.ErrorIs(t, r.SetStatus(ctx, "missing", "weird"), model.ErrInvalidStatus)

	_, err := r.RegisterPayload(ctx, udpSrc, []byte(`{"name":"EKF"}`))
	require.NoError(t, err)
	require.NoError(t, r.SetStatus(ctx, "EKF", model.StatusOffline))
	rec, err := r.Get(ctx, "EKF")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, rec.NetworkInfo.Status)

	require.NoError(t, r.Delete(ctx, "EKF"))
	assert.ErrorIs(t, r.Delete(ctx, "EKF"), store.ErrNotFound)
}

func TestSweeper_RunAndStop(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := r.RegisterPayload(ctx, udpSrc, []byte(`{"name":"EKF"}`))
	require.NoError(t, err)
	clock.Advance(9 * time.Second)

	sw := NewSweeper(r, 10*time.Millisecond)
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	sw.SetInterval(5 * time.Millisecond)

	assert.Eventually(t, func() bool {
		rec, err := r.Get(context.Background(), "EKF")
		return err == nil && rec.NetworkInfo.Status == model.StatusOffline
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
