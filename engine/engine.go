// Package engine assembles the engine facade (component I): it validates
// the topology, builds one forward and one backward solid per item, wires
// the scheduler and event bus, and exposes the small synchronous surface
// an embedding application drives an execution through.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spineflow/engine/internal/engine/connection"
	"github.com/spineflow/engine/internal/engine/eventbus"
	"github.com/spineflow/engine/internal/engine/item"
	"github.com/spineflow/engine/internal/engine/limiter"
	"github.com/spineflow/engine/internal/engine/pipeline"
	"github.com/spineflow/engine/internal/engine/resource"
	"github.com/spineflow/engine/internal/engine/scheduler"
	"github.com/spineflow/engine/internal/engine/solid"
	"github.com/spineflow/engine/internal/engine/topology"
)

// State is the engine's run state, mirroring SpineEngineState.
type State string

const (
	StateRunning     State = "RUNNING"
	StateCompleted   State = "COMPLETED"
	StateUserStopped State = "USER_STOPPED"
	StateFailed      State = "FAILED"
)

// ItemSpec declares one project item's static shape: its concrete type is
// resolved by Config.Factory, everything else drives the topology.
type ItemSpec struct {
	Name           string
	Type           string
	Dict           map[string]any
	Specifications map[string]any
}

// Config is everything New needs to assemble a run.
type Config struct {
	Items       []ItemSpec
	Connections []*connection.Connection
	Jumps       []*connection.Jump

	Factory       item.Factory
	DBProxy       item.DBProxy
	FilterConfigs item.FilterConfigLibrary
	ListFilters   pipeline.FilterValueLister

	ProjectDir string
	Settings   map[string]any

	MaxConcurrentSolids int
	OneShotPermits      int
	PersistentPermits   int
	BusCapacity         int
	PromptCacheSize     int
}

func (c *Config) setDefaults() {
	if c.MaxConcurrentSolids <= 0 {
		c.MaxConcurrentSolids = scheduler.DefaultMaxConcurrent
	}
	if c.OneShotPermits <= 0 {
		c.OneShotPermits = limiter.Unlimited
	}
	if c.PersistentPermits <= 0 {
		c.PersistentPermits = limiter.Unlimited
	}
	if c.BusCapacity <= 0 {
		c.BusCapacity = 4096
	}
	if c.PromptCacheSize <= 0 {
		c.PromptCacheSize = 256
	}
}

// Engine runs one DAG execution from construction to completion.
type Engine struct {
	cfg   Config
	graph *topology.Graph

	bus      *eventbus.Bus
	prompter *eventbus.Prompter
	cache    *lru.Cache[string, string]
	limits   *limiter.Limiter
	sched    *scheduler.Scheduler

	items map[string]item.ExecutableItem
	locks map[string]*sync.Mutex

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	doneCh  chan struct{}
	runErr  error
}

// New validates the topology and builds the schedule, but does not start
// running it: call Run for that.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	cfg.setDefaults()

	successors := map[string][]string{}
	for _, it := range cfg.Items {
		if _, ok := successors[it.Name]; !ok {
			successors[it.Name] = nil
		}
	}
	for _, c := range cfg.Connections {
		successors[c.Source] = append(successors[c.Source], c.Destination)
	}
	graph := topology.MakeDAG(successors)
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("engine init: %w", err)
	}

	var outbound []topology.OutboundConnection
	for _, c := range cfg.Connections {
		outbound = append(outbound, topology.OutboundConnection{Source: c.Source, Destination: c.Destination, WriteIndex: c.Options.WriteIndex})
	}
	if err := graph.CheckWriteIndexConflicts(outbound); err != nil {
		return nil, fmt.Errorf("engine init: %w", err)
	}
	linkSiblings(cfg.Connections)

	var jumpSpecs []topology.JumpSpec
	jumpByID := map[string]*connection.Jump{}
	for i, j := range cfg.Jumps {
		id := fmt.Sprintf("jump-%d:%s->%s", i, j.Source, j.Destination)
		jumpByID[id] = j
		jumpSpecs = append(jumpSpecs, topology.JumpSpec{ID: id, Source: j.Source, Destination: j.Destination})
	}
	keptJumps, itemNames := topology.FilterUnneededJumps(graph, jumpSpecs)
	if err := topology.ValidateJumps(graph, keptJumps, itemNames); err != nil {
		return nil, fmt.Errorf("engine init: %w", err)
	}

	bus := eventbus.NewBus(cfg.BusCapacity)
	prompter, cache := eventbus.NewPrompter(cfg.PromptCacheSize)

	e := &Engine{
		cfg:    cfg,
		graph:  graph,
		bus:    bus,
		prompter: prompter,
		cache:  cache,
		limits: limiter.New(cfg.OneShotPermits, cfg.PersistentPermits),
		items:  map[string]item.ExecutableItem{},
		locks:  map[string]*sync.Mutex{},
		state:  StateRunning,
		doneCh: make(chan struct{}),
	}

	incoming := map[string][]*connection.Connection{}
	outgoing := map[string][]*connection.Connection{}
	for _, c := range cfg.Connections {
		incoming[c.Destination] = append(incoming[c.Destination], c)
		outgoing[c.Source] = append(outgoing[c.Source], c)
	}

	var dbProxy item.DBProxy
	if cfg.DBProxy != nil {
		dbProxy = item.NewRetryingDBProxy(cfg.DBProxy, nil)
	}

	var solids []*solid.Solid
	for _, spec := range cfg.Items {
		activeLogger := eventbus.NewLogger(bus, spec.Name, prompter, cache)
		silentLogger := eventbus.NewSilentLogger(bus, spec.Name, prompter, cache)
		it, err := cfg.Factory(ctx, spec.Type, spec.Dict, spec.Name, cfg.ProjectDir, cfg.Settings, spec.Specifications, activeLogger, dbProxy)
		if err != nil {
			return nil, fmt.Errorf("build item %s: %w", spec.Name, err)
		}
		e.items[spec.Name] = it
		e.locks[spec.Name] = &sync.Mutex{}

		solids = append(solids, e.buildForwardSolid(spec.Name, it, activeLogger, incoming[spec.Name]))
		solids = append(solids, e.buildBackwardSolid(spec.Name, it, silentLogger, outgoing[spec.Name]))
	}

	var controllers []scheduler.JumpController
	for _, spec := range keptJumps {
		controllers = append(controllers, scheduler.NewJumpAdapter(jumpByID[spec.ID], itemNames[spec.ID]))
	}

	e.sched = scheduler.New(scheduler.Config{MaxConcurrent: cfg.MaxConcurrentSolids}, solids, controllers)
	e.sched.OnFlash(func(itemName string) {
		bus.Put(eventbus.Event{Type: eventbus.Flash, Payload: eventbus.Payload{"item_name": itemName}})
	})

	return e, nil
}

func linkSiblings(conns []*connection.Connection) {
	byDestination := map[string][]*connection.Connection{}
	for _, c := range conns {
		byDestination[c.Destination] = append(byDestination[c.Destination], c)
	}
	for _, group := range byDestination {
		for _, c := range group {
			c.SetSiblings(group)
		}
	}
}

// buildForwardSolid gathers every incoming connection's converted forward
// resources, fans them out by filter combination, and drives the item's
// forward execution once per combination.
func (e *Engine) buildForwardSolid(name string, it item.ExecutableItem, logger *eventbus.Logger, incoming []*connection.Connection) *solid.Solid {
	var defs []solid.InputDefinition
	for _, c := range incoming {
		defs = append(defs, solid.InputDefinition{Key: solid.Key{ItemName: c.Source, Direction: solid.Forward}})
	}
	compute := func(ctx context.Context, inputs map[solid.Key][]*resource.Resource) ([]*resource.Resource, error) {
		var converted []*resource.Resource
		for _, c := range incoming {
			raw := inputs[solid.Key{ItemName: c.Source, Direction: solid.Forward}]
			converted = append(converted, c.ConvertForwardResources(raw)...)
		}
		combos, err := pipeline.Expand(ctx, converted, incoming, e.cfg.ListFilters, false)
		if err != nil {
			return nil, fmt.Errorf("expand forward resources for %s: %w", name, err)
		}
		if len(combos) == 0 {
			combos = [][]*resource.Resource{nil}
		}

		var out []*resource.Resource
		var errs *multierror.Error
		for _, combo := range combos {
			filterID := pipeline.FilterID(combo)
			logger.SetFilterID(filterID)
			if !it.ReadyToExecute(e.cfg.Settings) {
				it.ExcludeExecution(ctx, combo, nil, e.locks[name])
				continue
			}
			bus := e.bus
			bus.Put(eventbus.Event{Type: eventbus.ExecStarted, Payload: eventbus.Payload{"item_name": name, "direction": "forward", "filter_id": filterID}})
			state, err := it.Execute(ctx, combo, nil, e.locks[name])
			bus.Put(eventbus.Event{Type: eventbus.ExecFinished, Payload: eventbus.Payload{"item_name": name, "direction": "forward", "filter_id": filterID, "state": string(state)}})
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s forward (%s): %w", name, filterID, err))
				continue
			}
			out = append(out, it.OutputResources("forward")...)
		}
		it.Update(out, nil)
		return out, errs.ErrorOrNil()
	}
	return solid.New(name, solid.Forward, defs, compute)
}

// buildBackwardSolid mirrors buildForwardSolid for the backward direction:
// it waits on every outgoing connection's destination backward solid.
func (e *Engine) buildBackwardSolid(name string, it item.ExecutableItem, logger *eventbus.Logger, outgoing []*connection.Connection) *solid.Solid {
	var defs []solid.InputDefinition
	for _, c := range outgoing {
		defs = append(defs, solid.InputDefinition{Key: solid.Key{ItemName: c.Destination, Direction: solid.Backward}})
	}
	compute := func(ctx context.Context, inputs map[solid.Key][]*resource.Resource) ([]*resource.Resource, error) {
		var converted []*resource.Resource
		for _, c := range outgoing {
			raw := inputs[solid.Key{ItemName: c.Destination, Direction: solid.Backward}]
			if err := c.CleanUpBackwardResources(ctx, raw); err != nil {
				return nil, fmt.Errorf("clean up backward resources for %s: %w", name, err)
			}
			converted = append(converted, c.ConvertBackwardResources(raw)...)
		}
		combos, err := pipeline.Expand(ctx, converted, outgoing, e.cfg.ListFilters, true)
		if err != nil {
			return nil, fmt.Errorf("expand backward resources for %s: %w", name, err)
		}
		if len(combos) == 0 {
			combos = [][]*resource.Resource{nil}
		}

		var out []*resource.Resource
		var errs *multierror.Error
		for _, combo := range combos {
			filterID := pipeline.FilterID(combo)
			logger.SetFilterID(filterID)
			e.bus.Put(eventbus.Event{Type: eventbus.ExecStarted, Payload: eventbus.Payload{"item_name": name, "direction": "backward", "filter_id": filterID}})
			state, err := it.Execute(ctx, nil, combo, e.locks[name])
			e.bus.Put(eventbus.Event{Type: eventbus.ExecFinished, Payload: eventbus.Payload{"item_name": name, "direction": "backward", "filter_id": filterID, "state": string(state)}})
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s backward (%s): %w", name, filterID, err))
				continue
			}
			out = append(out, it.OutputResources("backward")...)
		}
		it.Update(nil, out)
		return out, errs.ErrorOrNil()
	}
	return solid.New(name, solid.Backward, defs, compute)
}

// Run drives the scheduled execution to completion (or cancellation),
// posting dag_exec_finished on the bus when it settles. It returns
// immediately; consume GetEvent and wait on Done to observe completion.
func (e *Engine) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		err := e.sched.Run(runCtx)
		e.mu.Lock()
		switch {
		case e.state == StateUserStopped:
			// already set by Stop.
		case err != nil:
			e.state = StateFailed
			e.runErr = err
		default:
			e.state = StateCompleted
		}
		final := e.state
		e.mu.Unlock()
		e.bus.Put(eventbus.Event{Type: eventbus.DAGExecFinished, Payload: eventbus.Payload{"state": string(final)}})
		close(e.doneCh)
	}()
}

// GetEvent blocks until the next event is available or ctx is canceled.
func (e *Engine) GetEvent(ctx context.Context) (eventbus.Event, bool) {
	select {
	case ev := <-e.bus.Chan():
		return ev, true
	case <-ctx.Done():
		return eventbus.Event{}, false
	}
}

// AnswerPrompt delivers an answer for a pending prompt raised via GetEvent.
func (e *Engine) AnswerPrompt(promptID, answer string) error {
	return eventbus.AnswerPrompt(e.prompter, promptID, answer)
}

// Stop cooperatively halts the run: already in-flight items are asked to
// stop, and no further solids are dispatched. It does not block; wait on
// Done to observe the final state.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.state = StateUserStopped
	cancel := e.cancel
	e.mu.Unlock()
	for _, it := range e.items {
		it.StopExecution()
	}
	if cancel != nil {
		cancel()
	}
}

// Done returns a channel closed once the run has settled into a terminal
// state.
func (e *Engine) Done() <-chan struct{} { return e.doneCh }

// State reports the engine's current run state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the aggregated failure, if the run ended in StateFailed.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runErr
}

// SortedItemNames is a small convenience for callers rendering a summary
// of the items an engine was built with.
func SortedItemNames(items []ItemSpec) []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	sort.Strings(names)
	return names
}
