// Package scheduler implements the step executor (component E) and the
// jump controller (component F): a single coordination goroutine drains
// one bounded event channel, shared by every solid goroutine, on a short
// tick, dispatching ready solids onto their own goroutine and re-queuing
// jump bodies on a positive loop condition. There is no per-solid channel.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/spineflow/engine/internal/engine/resource"
	"github.com/spineflow/engine/internal/engine/solid"
)

// DefaultMaxConcurrent matches the original's hard-coded default.
const DefaultMaxConcurrent = 100

// DefaultTick is the non-blocking poll interval the coordination loop
// uses to drain solid event channels.
const DefaultTick = 20 * time.Millisecond

type stepEventType int

const (
	stepStart stepEventType = iota
	stepOutput
	stepFinish
	stepFailure
)

type stepEvent struct {
	key     solid.Key
	typ     stepEventType
	output  []*resource.Resource
	err     error
}

// JumpController evaluates a jump's condition and reports whether its body
// should re-execute. Implemented by package connection's Jump via an
// adapter the caller supplies (keeps this package free of a dependency on
// connection, avoiding an import cycle with higher-level wiring).
type JumpController interface {
	Source() string
	Destination() string
	ItemNames() map[string]bool
	Evaluate(ctx context.Context, counter int, forward, backward []*resource.Resource) (bool, error)
}

// Config configures one Scheduler run.
type Config struct {
	MaxConcurrent int
	Tick          time.Duration
}

// Scheduler runs the solids of one engine execution to completion.
type Scheduler struct {
	cfg    Config
	solids map[solid.Key]*solid.Solid
	jumps  []JumpController

	mu              sync.Mutex
	readyToExecute  map[solid.Key]bool
	inFlight        map[solid.Key]bool
	waiting         map[solid.Key]bool
	iterating       map[solid.Key]bool
	iteratingActive map[solid.Key]bool
	iteratingFailed map[string]bool // by item name: the item's forward solid failed mid-loop.
	activeIters     map[solid.Key]bool
	outputValue     map[solid.Key][]*resource.Resource

	unfinishedJumps map[string]bool // by jump source
	iterCounters    map[string]int  // by jump source

	events    chan stepEvent
	flashHook FlashHook
}

// New builds a Scheduler for the given solids and jumps, all starting in
// readyToExecute except those with unsatisfied dependencies, which start
// waiting.
func New(cfg Config, solids []*solid.Solid, jumps []JumpController) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	s := &Scheduler{
		cfg:             cfg,
		solids:          map[solid.Key]*solid.Solid{},
		jumps:           jumps,
		readyToExecute:  map[solid.Key]bool{},
		inFlight:        map[solid.Key]bool{},
		waiting:         map[solid.Key]bool{},
		iterating:       map[solid.Key]bool{},
		iteratingActive: map[solid.Key]bool{},
		iteratingFailed: map[string]bool{},
		activeIters:     map[solid.Key]bool{},
		outputValue:     map[solid.Key][]*resource.Resource{},
		unfinishedJumps: map[string]bool{},
		iterCounters:    map[string]int{},
		events:          make(chan stepEvent, 4096),
	}
	for _, sd := range solids {
		s.solids[sd.Key] = sd
		if len(sd.InputDefs) == 0 {
			s.readyToExecute[sd.Key] = true
		} else {
			s.waiting[sd.Key] = true
		}
	}
	for _, j := range jumps {
		s.unfinishedJumps[j.Source()] = true
		s.iterCounters[j.Source()] = 1
	}
	return s
}

// Run dispatches and drains solids until the schedule is complete (all of
// readyToExecute, inFlight and activeIters are empty), returning a
// composite error if any solid failed.
func (s *Scheduler) Run(ctx context.Context) error {
	var errs *multierror.Error
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		s.dispatch(ctx)

		if s.isComplete() {
			return errs.ErrorOrNil()
		}

		select {
		case <-ctx.Done():
			errs = multierror.Append(errs, ctx.Err())
			return errs.ErrorOrNil()
		case ev := <-s.events:
			s.handleEvent(ctx, ev, &errs)
		case <-ticker.C:
			// non-blocking poll tick; loop back to dispatch.
		}
	}
}

func (s *Scheduler) isComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readyToExecute) == 0 && len(s.inFlight) == 0 && len(s.activeIters) == 0
}

// dispatch launches every ready solid whose predecessor-item rule is
// satisfied, up to MaxConcurrent active iterations.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	if len(s.activeIters) >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		return
	}
	var candidates []solid.Key
	for k := range s.readyToExecute {
		candidates = append(candidates, k)
	}
	for k := range s.iterating {
		if s.solids[k].IsReady() {
			candidates = append(candidates, k)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].String() < candidates[j].String() })

	var toRun []solid.Key
	for _, k := range candidates {
		if len(s.activeIters)+len(toRun) >= s.cfg.MaxConcurrent {
			break
		}
		if k.Direction == solid.Forward && s.isBlockedByJump(k.ItemName) {
			delete(s.readyToExecute, k)
			delete(s.iterating, k)
			s.waiting[k] = true
			continue
		}
		toRun = append(toRun, k)
	}
	for _, k := range toRun {
		delete(s.readyToExecute, k)
		delete(s.iterating, k)
		s.inFlight[k] = true
		s.activeIters[k] = true
		sd := s.solids[k]
		inputs := s.collectInputs(sd)
		s.mu.Unlock()
		s.runGoroutine(ctx, sd, inputs)
		s.mu.Lock()
	}
	s.mu.Unlock()
}

// isBlockedByJump implements the §4.5 predecessor-items rule: a forward
// solid for itemName must not dispatch while some unfinished jump that
// does NOT contain itemName still has any pending forward solid, whether
// or not that solid feeds itemName.
func (s *Scheduler) isBlockedByJump(itemName string) bool {
	for _, j := range s.jumps {
		if !s.unfinishedJumps[j.Source()] {
			continue
		}
		if j.ItemNames()[itemName] {
			continue
		}
		for member := range j.ItemNames() {
			k := solid.Key{ItemName: member, Direction: solid.Forward}
			if s.inFlight[k] || s.readyToExecute[k] || s.waiting[k] {
				return true
			}
		}
	}
	return false
}

func (s *Scheduler) collectInputs(sd *solid.Solid) map[solid.Key][]*resource.Resource {
	inputs := map[solid.Key][]*resource.Resource{}
	for _, def := range sd.InputDefs {
		inputs[def.Key] = s.outputValue[def.Key]
	}
	return inputs
}

// runGoroutine executes one solid on its own goroutine, synthesizing a
// failure event if the compute function panics.
func (s *Scheduler) runGoroutine(ctx context.Context, sd *solid.Solid, inputs map[solid.Key][]*resource.Resource) {
	s.events <- stepEvent{key: sd.Key, typ: stepStart}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.events <- stepEvent{key: sd.Key, typ: stepFailure, err: fmt.Errorf("panic in solid %s: %v\n%s", sd.Key, r, debug.Stack())}
			}
		}()
		output, err := sd.Compute(ctx, inputs)
		if err != nil {
			s.events <- stepEvent{key: sd.Key, typ: stepFailure, err: err}
			return
		}
		s.events <- stepEvent{key: sd.Key, typ: stepOutput, output: output}
		s.events <- stepEvent{key: sd.Key, typ: stepFinish}
	}()
}

func (s *Scheduler) handleEvent(ctx context.Context, ev stepEvent, errs **multierror.Error) {
	switch ev.typ {
	case stepStart:
		// exec_started already reflected by inFlight membership.
	case stepOutput:
		s.mu.Lock()
		s.outputValue[ev.key] = append(s.outputValue[ev.key], ev.output...)
		for k, other := range s.solids {
			for _, def := range other.InputDefs {
				if def.Key == ev.key {
					other.MarkReceived(ev.key)
				}
			}
			if s.waiting[k] && other.IsReady() {
				delete(s.waiting, k)
				s.readyToExecute[k] = true
			}
		}
		s.mu.Unlock()
	case stepFinish:
		s.mu.Lock()
		delete(s.inFlight, ev.key)
		delete(s.activeIters, ev.key)
		s.mu.Unlock()
		if ev.key.Direction == solid.Forward {
			s.onForwardFinished(ctx, ev.key.ItemName, errs)
		}
	case stepFailure:
		s.mu.Lock()
		delete(s.inFlight, ev.key)
		delete(s.activeIters, ev.key)
		s.iteratingFailed[ev.key.ItemName] = true
		s.mu.Unlock()
		*errs = multierror.Append(*errs, fmt.Errorf("solid %s: %w", ev.key, ev.err))
		s.failContainingJumps(ev.key.ItemName)
	}
}

// failContainingJumps marks every unfinished jump containing itemName as
// permanently failed: its body will not re-enter on a later outer
// iteration (Open Question (a), intentionally kept).
func (s *Scheduler) failContainingJumps(itemName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jumps {
		if j.ItemNames()[itemName] {
			delete(s.unfinishedJumps, j.Source())
		}
	}
}
