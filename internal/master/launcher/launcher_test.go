package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"algohub/internal/config"
	"algohub/pkg/model"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu       sync.Mutex
	seq      int
	created  map[string]*container.HostConfig
	names    map[string]string
	started  map[string]bool
	removed  []string
	startErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		created: make(map[string]*container.HostConfig),
		names:   make(map[string]string),
		started: make(map[string]bool),
	}
}

func (e *fakeEngine) Create(_ context.Context, name string, _ *container.Config, host *container.HostConfig) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := fmt.Sprintf("%064d", e.seq)
	e.created[id] = host
	e.names[id] = name
	return id, nil
}

func (e *fakeEngine) Start(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.started[id] = true
	return nil
}

func (e *fakeEngine) Stop(_ context.Context, id string, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started[id] = false
	return nil
}

func (e *fakeEngine) Remove(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, id)
	return nil
}

func (e *fakeEngine) Close() error { return nil }

type fakeStatus struct {
	calls map[string]model.Status
}

func (s *fakeStatus) SetStatus(_ context.Context, name string, status model.Status) error {
	s.calls[name] = status
	return nil
}

var launcherCfg = config.LauncherConfig{Enabled: true, PortMin: 8080, PortMax: 8082, StopTimeout: time.Second}

func allFree(int) bool { return true }

func TestLaunch_AllocatesPortsAndPublishes(t *testing.T) {
	eng := newFakeEngine()
	l := New(eng, launcherCfg, WithPortProbe(allFree))
	ctx := context.Background()

	a, err := l.Launch(ctx, Spec{Name: "EKF", Image: "algohub/worker:latest"})
	require.NoError(t, err)
	assert.Equal(t, 8080, a.Port)
	assert.Equal(t, "algohub-EKF", eng.names[a.ID])
	assert.True(t, eng.started[a.ID])

	bindings := eng.created[a.ID].PortBindings[nat.Port("8080/tcp")]
	require.Len(t, bindings, 1)
	assert.Equal(t, "8080", bindings[0].HostPort)

	b, err := l.Launch(ctx, Spec{Name: "UKF", Image: "algohub/worker:latest"})
	require.NoError(t, err)
	assert.Equal(t, 8081, b.Port)

	_, err = l.Launch(ctx, Spec{Name: "EKF", Image: "algohub/worker:latest"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	list := l.List()
	require.Len(t, list, 2)
	assert.Equal(t, "EKF", list[0].Name)
}

func TestLaunch_NoFreePort(t *testing.T) {
	l := New(newFakeEngine(), launcherCfg, WithPortProbe(func(p int) bool { return p == 8081 }))
	ctx := context.Background()

	inst, err := l.Launch(ctx, Spec{Name: "a", Image: "img"})
	require.NoError(t, err)
	assert.Equal(t, 8081, inst.Port)

	_, err = l.Launch(ctx, Spec{Name: "b", Image: "img"})
	assert.ErrorIs(t, err, ErrNoFreePort)
}

func TestLaunch_StartFailureCleansUp(t *testing.T) {
	eng := newFakeEngine()
	eng.startErr = errors.New("port is already allocated")
	l := New(eng, launcherCfg, WithPortProbe(allFree))

	_, err := l.Launch(context.Background(), Spec{Name: "a", Image: "img", Port: 9000})
	assert.Error(t, err)
	assert.Len(t, eng.removed, 1)
	assert.Empty(t, l.List())
}

func TestStop_MarksOffline(t *testing.T) {
	eng := newFakeEngine()
	st := &fakeStatus{calls: map[string]model.Status{}}
	l := New(eng, launcherCfg, WithPortProbe(allFree), WithStatusSetter(st))
	ctx := context.Background()

	inst, err := l.Launch(ctx, Spec{Name: "EKF", Image: "img"})
	require.NoError(t, err)

	require.NoError(t, l.Stop(ctx, inst.ID))
	assert.Equal(t, model.StatusOffline, st.calls["EKF"])
	assert.False(t, eng.started[inst.ID])
	assert.Empty(t, l.List())

	assert.ErrorIs(t, l.Stop(ctx, inst.ID), ErrNotFound)
}

func TestClose_StopsEverything(t *testing.T) {
	eng := newFakeEngine()
	l := New(eng, launcherCfg, WithPortProbe(allFree))
	ctx := context.Background()
	for _, n := range []string{"a", "b"} {
		_, err := l.Launch(ctx, Spec{Name: n, Image: "img"})
		require.NoError(t, err)
	}
	require.NoError(t, l.Close(ctx))
	assert.Len(t, eng.removed, 2)
}
