package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spineflow/engine/internal/engine/connection"
	"github.com/spineflow/engine/internal/engine/eventbus"
	"github.com/spineflow/engine/internal/engine/item"
	"github.com/spineflow/engine/internal/engine/pipeline"
	"github.com/spineflow/engine/internal/engine/resource"
)

type fakeItem struct {
	name   string
	output []*resource.Resource
}

func (f *fakeItem) ReadyToExecute(map[string]any) bool { return true }
func (f *fakeItem) Execute(ctx context.Context, forward, backward []*resource.Resource, lock item.Locker) (item.FinishState, error) {
	lock.Lock()
	defer lock.Unlock()
	return item.Success, nil
}
func (f *fakeItem) ExcludeExecution(ctx context.Context, forward, backward []*resource.Resource, lock item.Locker) {
}
func (f *fakeItem) OutputResources(direction string) []*resource.Resource { return f.output }
func (f *fakeItem) Update(forward, backward []*resource.Resource)         {}
func (f *fakeItem) StopExecution()                                       {}
func (f *fakeItem) ItemType() string                                      { return "fake" }
func (f *fakeItem) IsFilterTerminus() bool                                { return false }

func noFilters(ctx context.Context, conn *connection.Connection, r *resource.Resource) ([]string, error) {
	return nil, nil
}

func TestEngineRunsLinearChainToCompletion(t *testing.T) {
	factory := item.Factory(func(ctx context.Context, itemType string, dict map[string]any, name, projectDir string, settings, specs map[string]any, logger item.Logger, dbProxy item.DBProxy) (item.ExecutableItem, error) {
		return &fakeItem{name: name}, nil
	})

	conn := connection.NewConnection("a", "b")
	cfg := Config{
		Items: []ItemSpec{
			{Name: "a", Type: "fake"},
			{Name: "b", Type: "fake"},
		},
		Connections: []*connection.Connection{conn},
		Factory:     factory,
		ListFilters: pipeline.FilterValueLister(noFilters),
	}

	e, err := New(context.Background(), cfg)
	require.NoError(t, err)

	e.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var sawFinished bool
loop:
	for {
		ev, ok := e.GetEvent(ctx)
		if !ok {
			t.Fatal("timed out waiting for dag_exec_finished")
		}
		if ev.Type == eventbus.DAGExecFinished {
			sawFinished = true
			break loop
		}
	}
	assert.True(t, sawFinished)
	assert.Equal(t, StateCompleted, e.State())
}

func TestEngineRejectsCyclicTopology(t *testing.T) {
	factory := item.Factory(func(ctx context.Context, itemType string, dict map[string]any, name, projectDir string, settings, specs map[string]any, logger item.Logger, dbProxy item.DBProxy) (item.ExecutableItem, error) {
		return &fakeItem{name: name}, nil
	})
	cfg := Config{
		Items: []ItemSpec{{Name: "a"}, {Name: "b"}},
		Connections: []*connection.Connection{
			connection.NewConnection("a", "b"),
			connection.NewConnection("b", "a"),
		},
		Factory:     factory,
		ListFilters: noFilters,
	}
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestEngineStopSetsUserStoppedState(t *testing.T) {
	blocked := make(chan struct{})
	factory := item.Factory(func(ctx context.Context, itemType string, dict map[string]any, name, projectDir string, settings, specs map[string]any, logger item.Logger, dbProxy item.DBProxy) (item.ExecutableItem, error) {
		return &blockingItem{blocked: blocked}, nil
	})
	cfg := Config{
		Items:       []ItemSpec{{Name: "a"}},
		Factory:     factory,
		ListFilters: noFilters,
	}
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)

	e.Run(context.Background())
	e.Stop()

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("engine did not settle after Stop")
	}
	assert.Equal(t, StateUserStopped, e.State())
}

type blockingItem struct {
	blocked chan struct{}
}

func (b *blockingItem) ReadyToExecute(map[string]any) bool { return true }
func (b *blockingItem) Execute(ctx context.Context, forward, backward []*resource.Resource, lock item.Locker) (item.FinishState, error) {
	select {
	case <-b.blocked:
	case <-ctx.Done():
	}
	return item.Stopped, ctx.Err()
}
func (b *blockingItem) ExcludeExecution(ctx context.Context, forward, backward []*resource.Resource, lock item.Locker) {
}
func (b *blockingItem) OutputResources(direction string) []*resource.Resource { return nil }
func (b *blockingItem) Update(forward, backward []*resource.Resource)         {}
func (b *blockingItem) StopExecution()                                       { close(b.blocked) }
func (b *blockingItem) ItemType() string                                     { return "blocking" }
func (b *blockingItem) IsFilterTerminus() bool                               { return false }
