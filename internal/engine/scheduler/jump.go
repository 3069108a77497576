package scheduler

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/spineflow/engine/internal/engine/connection"
	"github.com/spineflow/engine/internal/engine/resource"
	"github.com/spineflow/engine/internal/engine/solid"
)

// FlashHook is called whenever a jump's condition comes out true and control
// flows back to its destination for another iteration: callers wire this to
// a flash event so the engine facade can report the jump being taken.
type FlashHook func(itemName string)

// jumpAdapter exposes a connection.Jump (plus its precomputed item-name
// set) through the JumpController interface the scheduler depends on,
// keeping this package from importing connection's full surface.
type jumpAdapter struct {
	j         *connection.Jump
	itemNames map[string]bool
}

// NewJumpAdapter wraps j for use with New/Scheduler.
func NewJumpAdapter(j *connection.Jump, itemNames map[string]bool) JumpController {
	return &jumpAdapter{j: j, itemNames: itemNames}
}

func (a *jumpAdapter) Source() string             { return a.j.Source }
func (a *jumpAdapter) Destination() string        { return a.j.Destination }
func (a *jumpAdapter) ItemNames() map[string]bool { return a.itemNames }

func (a *jumpAdapter) Evaluate(ctx context.Context, counter int, forward, backward []*resource.Resource) (bool, error) {
	return a.j.IsConditionTrue(ctx, counter, forward, backward)
}

// OnFlash registers hook to be called whenever any jump is taken (its
// condition evaluated true).
func (s *Scheduler) OnFlash(hook FlashHook) { s.flashHook = hook }

// onForwardFinished is invoked after every forward solid completes. If
// itemName is some jump's source, its condition is evaluated and, on a
// true result, the jump's whole item set is reset and re-queued as a new
// iteration; on false (or on a prior failure inside the loop), the jump is
// marked finished and blocked siblings become dispatchable again.
func (s *Scheduler) onForwardFinished(ctx context.Context, itemName string, errs **multierror.Error) {
	jc := s.jumpBySource(itemName)
	if jc == nil {
		return
	}

	s.mu.Lock()
	if !s.unfinishedJumps[jc.Source()] {
		s.mu.Unlock()
		return
	}
	anyFailed := false
	for member := range jc.ItemNames() {
		if s.iteratingFailed[member] {
			anyFailed = true
			break
		}
	}
	counter := s.iterCounters[jc.Source()]
	forward := append([]*resource.Resource(nil), s.outputValue[solid.Key{ItemName: jc.Source(), Direction: solid.Forward}]...)
	backward := append([]*resource.Resource(nil), s.outputValue[solid.Key{ItemName: jc.Destination(), Direction: solid.Backward}]...)
	s.mu.Unlock()

	if anyFailed {
		s.finishJump(jc)
		return
	}

	ok, err := jc.Evaluate(ctx, counter, forward, backward)
	if err != nil {
		*errs = multierror.Append(*errs, err)
		s.finishJump(jc)
		return
	}
	if !ok {
		s.finishJump(jc)
		return
	}
	if s.flashHook != nil {
		s.flashHook(itemName)
	}
	s.requeueJump(jc)
}

func (s *Scheduler) jumpBySource(itemName string) JumpController {
	for _, j := range s.jumps {
		if j.Source() == itemName {
			return j
		}
	}
	return nil
}

// finishJump marks a jump as having exited its loop: no further
// iterations, and items blocked on it by isBlockedByJump become eligible.
//
// isBlockedByJump blocks items OUTSIDE a jump's body while that jump is
// unfinished, so releasing the jump must re-examine every waiting solid,
// not just the jump's own members (those are driven by requeueJump
// instead).
func (s *Scheduler) finishJump(jc JumpController) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unfinishedJumps, jc.Source())
	for k := range s.waiting {
		if k.Direction != solid.Forward {
			continue
		}
		if s.solids[k].IsReady() && !s.isBlockedByJump(k.ItemName) {
			delete(s.waiting, k)
			s.readyToExecute[k] = true
		}
	}
}

// requeueJump resets every forward solid in the jump's set for another
// iteration, seeding the destination item so the new pass starts there.
// Only forward solids re-enter (jumpster.py:235: "if s.direction ==
// ED.FORWARD and s.item_name in jump.item_names") — each item's backward
// solid runs exactly once per engine execution regardless of how many
// times its forward counterpart loops. Per §4.6, every jump nested
// directly in jc is marked unfinished again so its own loop re-runs on
// this outer iteration too.
func (s *Scheduler) requeueJump(jc JumpController) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterCounters[jc.Source()]++
	for member := range jc.ItemNames() {
		delete(s.iteratingFailed, member)
		k := solid.Key{ItemName: member, Direction: solid.Forward}
		sd, ok := s.solids[k]
		if !ok {
			continue
		}
		sd.Reset()
		delete(s.waiting, k)
		delete(s.readyToExecute, k)
		delete(s.iterating, k)
		if member == jc.Destination() {
			s.readyToExecute[k] = true
		} else {
			s.waiting[k] = true
		}
	}
	for _, j2 := range s.nestedJumpsLocked(jc) {
		s.unfinishedJumps[j2.Source()] = true
		s.iterCounters[j2.Source()] = 1
	}
}

// nestedJumpsLocked returns every jump directly nested inside jc: its
// item-name set is a strict subset of jc's, with no intermediate jump's
// set sitting strictly between them. Caller must hold s.mu.
func (s *Scheduler) nestedJumpsLocked(jc JumpController) []JumpController {
	var nested []JumpController
	for _, j2 := range s.jumps {
		if j2 == jc || !isStrictSubset(j2.ItemNames(), jc.ItemNames()) {
			continue
		}
		intermediate := false
		for _, j3 := range s.jumps {
			if j3 == jc || j3 == j2 {
				continue
			}
			if isStrictSubset(j2.ItemNames(), j3.ItemNames()) && isStrictSubset(j3.ItemNames(), jc.ItemNames()) {
				intermediate = true
				break
			}
		}
		if !intermediate {
			nested = append(nested, j2)
		}
	}
	return nested
}

func isStrictSubset(a, b map[string]bool) bool {
	if len(a) >= len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
