package connection

import (
	"context"
	"fmt"

	"github.com/spineflow/engine/internal/engine/resource"
)

// ConditionType selects how a Jump evaluates whether to loop again.
type ConditionType string

const (
	ConditionPythonScript      ConditionType = "python-script"
	ConditionToolSpecification ConditionType = "tool-specification"
)

// Condition describes a jump's loop-back test.
type Condition struct {
	Type          ConditionType
	Script        string // for ConditionPythonScript; empty means never iterate.
	Specification string // for ConditionToolSpecification.
}

// DefaultCondition matches the original's _DEFAULT_CONDITION: a script
// that always exits 1 (never iterate).
func DefaultCondition() Condition {
	return Condition{Type: ConditionPythonScript, Script: "exit(1)"}
}

// ConditionEvaluator is the external collaborator that actually runs a
// condition (spawning a script process or executing a one-shot tool item).
// It receives the expanded command-line args with the iteration counter
// appended as the last argument, and the forward/backward resources
// gathered for this jump.
type ConditionEvaluator func(ctx context.Context, cond Condition, cmdLineArgs []string, counter int, forward, backward []*resource.Resource) (bool, error)

// Jump is a loop-back edge: if Condition evaluates true, every item in
// ItemNames re-executes.
type Jump struct {
	ConnectionBase
	Condition   Condition
	CmdLineArgs []resource.CmdLineArg
	ItemNames   map[string]bool
	Evaluate    ConditionEvaluator

	// Warn receives label-expansion warnings from ExpandCmdLineArgs (e.g. a
	// LabelArg with no matching resource). Optional.
	Warn func(string)
}

// NewJump builds a Jump with the default (never-iterate) condition.
func NewJump(source, destination string) *Jump {
	return &Jump{
		ConnectionBase: ConnectionBase{Source: source, Destination: destination},
		Condition:      DefaultCondition(),
	}
}

// IsConditionTrue evaluates the jump's condition for the given iteration
// counter (1-based, incremented by the caller after each true result) and
// the resources produced so far.
func (j *Jump) IsConditionTrue(ctx context.Context, counter int, forward, backward []*resource.Resource) (bool, error) {
	if j.Condition.Type == ConditionPythonScript && j.Condition.Script == "" {
		return false, nil
	}
	if j.Evaluate == nil {
		return false, fmt.Errorf("jump %s->%s: no condition evaluator configured", j.Source, j.Destination)
	}
	labelToArgs := resource.LabelledResourceArgs(append(append([]*resource.Resource(nil), forward...), backward...))
	expanded := resource.ExpandCmdLineArgs(j.CmdLineArgs, labelToArgs, j.Warn)
	args := append(expanded, fmt.Sprintf("%d", counter))
	ok, err := j.Evaluate(ctx, j.Condition, args, counter, forward, backward)
	if err != nil {
		return false, fmt.Errorf("evaluate jump %s->%s condition: %w", j.Source, j.Destination, err)
	}
	return ok, nil
}
