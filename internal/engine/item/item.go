// Package item declares the external-collaborator interfaces the engine
// core consumes but never implements itself: concrete project items,
// subprocess/REPL execution managers, and the filter-config/DB-proxy
// libraries are all out of scope for this module (spec.md §1) and are
// supplied by the embedding application.
package item

import (
	"context"

	"github.com/spineflow/engine/internal/engine/resource"
)

// FinishState is the outcome of one item execution.
type FinishState string

const (
	Success       FinishState = "SUCCESS"
	Failure       FinishState = "FAILURE"
	Skipped       FinishState = "SKIPPED"
	Excluded      FinishState = "EXCLUDED"
	Stopped       FinishState = "STOPPED"
	NeverFinished FinishState = "NEVER_FINISHED"
)

// Logger is the minimal logging surface an ExecutableItem needs; the
// concrete implementation lives in package eventbus.
type Logger interface {
	Msg(string)
	MsgSuccess(string)
	MsgWarning(string)
	MsgError(string)
}

// ExecutableItem is the interface every concrete project item (Tool,
// Importer, Exporter, ...) must implement. The engine drives it; it never
// inspects the concrete type.
type ExecutableItem interface {
	ReadyToExecute(settings map[string]any) bool
	Execute(ctx context.Context, forward, backward []*resource.Resource, lock Locker) (FinishState, error)
	ExcludeExecution(ctx context.Context, forward, backward []*resource.Resource, lock Locker)
	OutputResources(direction string) []*resource.Resource
	Update(forward, backward []*resource.Resource)
	StopExecution()
	ItemType() string
	IsFilterTerminus() bool
}

// Locker is the cross-filter-sibling serialization primitive passed to
// Execute, e.g. to guard a shared SQLite file.
type Locker interface {
	Lock()
	Unlock()
}

// Factory builds an ExecutableItem from its declaration. dbProxy is the
// (possibly retry-wrapped, see RetryingDBProxy) collaborator items use for
// shared-database access; it is nil when the run has none configured.
type Factory func(ctx context.Context, itemType string, itemDict map[string]any, name, projectDir string, settings map[string]any, specifications map[string]any, logger Logger, dbProxy DBProxy) (ExecutableItem, error)

// DBProxy is the collaborator that mediates access to shared SQLite/Spine
// databases: short-lived local URLs, ordering bookkeeping and purging.
type DBProxy interface {
	Open(ctx context.Context, url string, memory bool, ordering map[string]any) (localURL string, checkout func(), err error)
	QuickCheckout(ctx context.Context, url string) error
	Purge(ctx context.Context, url string, settings map[string]any) error
}

// FilterConfigLibrary is the collaborator that knows how to read/write
// filter configuration fragments appended to database URLs; its internals
// (spinedb_api-equivalent) are explicitly out of scope for this module.
type FilterConfigLibrary interface {
	FilterConfig(scenario, alternative string) map[string]any
	AppendFilterConfig(url string, config map[string]any) string
	ScenarioFilterConfig(scenarios []string) map[string]any
	ExecutionFilterConfig(executionItem string, scenarios []string) map[string]any
	ScenarioNameFromDict(config map[string]any) (string, bool)
	NameFromDict(config map[string]any) (string, bool)
	ClearFilterConfigs(url string) string
}
