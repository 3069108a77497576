// Package pipeline implements the resource pipeline: pooling resources by
// filter stack, merging and redistributing pools, fanning out by filter
// cross product, and computing the deterministic filter id for each
// resulting combination.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/spineflow/engine/internal/engine/connection"
	"github.com/spineflow/engine/internal/engine/resource"
)

// FilterValueLister returns the online filter values a connection exposes
// for one input resource (step 5's "connection-exposed filter").
type FilterValueLister func(ctx context.Context, conn *connection.Connection, r *resource.Resource) ([]string, error)

// Expand runs steps 1-3 and 5-6 of the algorithm over the resources flowing
// into an item through conns, plus step 7 when backward is set, returning
// the filtered resource combinations for the item's executions. Step 4's
// connection conversions are applied by the caller beforehand, and step 8
// is FilterID.
func Expand(ctx context.Context, resources []*resource.Resource, conns []*connection.Connection, listFilters FilterValueLister, backward bool) ([][]*resource.Resource, error) {
	// Step 1: pool by filter stack.
	pools := resource.NewPool(resources)
	// Step 2: merge under subset to fixpoint.
	pools = resource.MergePools(pools)
	// Step 3: distribute stackless resources.
	pools = resource.DistributeStackless(pools)

	var combos [][]*resource.Resource
	for _, pool := range pools {
		expanded, err := expandPool(ctx, pool.Resources, conns, listFilters)
		if err != nil {
			return nil, err
		}
		combos = append(combos, expanded...)
	}

	if backward {
		for _, combo := range combos {
			appendExecutionFilterConfig(combo)
		}
	}
	return combos, nil
}

// expandPool runs steps 5-6 over a single pool's resources.
func expandPool(ctx context.Context, resources []*resource.Resource, conns []*connection.Connection, listFilters FilterValueLister) ([][]*resource.Resource, error) {
	type axis struct {
		index  int
		values []string
	}
	var axes []axis
	for i, r := range resources {
		if !r.Filterable {
			continue
		}
		conn := connectionForProvider(conns, r.ProviderName)
		if conn == nil {
			continue
		}
		values, err := listFilters(ctx, conn, r)
		if err != nil {
			return nil, fmt.Errorf("list filter values for %s: %w", r.Label, err)
		}
		if len(values) > 0 {
			axes = append(axes, axis{index: i, values: values})
		}
	}
	if len(axes) == 0 {
		return [][]*resource.Resource{resources}, nil
	}

	// cross product across all filterable axes.
	combos := [][]string{{}}
	for _, ax := range axes {
		var next [][]string
		for _, combo := range combos {
			for _, v := range ax.values {
				next = append(next, append(append([]string(nil), combo...), v))
			}
		}
		combos = next
	}

	var out [][]*resource.Resource
	for _, combo := range combos {
		tuple := append([]*resource.Resource(nil), resources...)
		for i, ax := range axes {
			clone := tuple[ax.index].Clone(map[string]any{"filter_names": []string{combo[i]}})
			clone.Metadata.FilterStack = append(append([]string(nil), clone.Metadata.FilterStack...), combo[i])
			clone.Metadata.FilterID = combo[i]
			tuple[ax.index] = clone
		}
		if !hasProviderAffinityConflict(tuple) {
			out = append(out, tuple)
		}
	}
	return out, nil
}

// connectionForProvider picks the connection whose source produced r,
// mirroring spine_engine.py::_filter_stacks's
// "next(c for c in connections if c.source == provider_name)".
func connectionForProvider(conns []*connection.Connection, providerName string) *connection.Connection {
	for _, c := range conns {
		if c.Source == providerName {
			return c
		}
	}
	return nil
}

// hasProviderAffinityConflict reports whether two resources in the tuple
// come from the same provider but carry different filter ids (step 6).
func hasProviderAffinityConflict(tuple []*resource.Resource) bool {
	byProvider := map[string]string{}
	for _, r := range tuple {
		if r.Metadata.FilterID == "" {
			continue
		}
		if existing, ok := byProvider[r.ProviderName]; ok && existing != r.Metadata.FilterID {
			return true
		}
		byProvider[r.ProviderName] = r.Metadata.FilterID
	}
	return false
}

// FilterID computes the deterministic filter id for a resource tuple:
// " & ".join(sorted(provider_filter_name(r) for r in tuple)), step 8.
func FilterID(tuple []*resource.Resource) string {
	names := lo.FilterMap(tuple, func(r *resource.Resource, _ int) (string, bool) {
		name := r.ProviderFilterName()
		return name, name != ""
	})
	names = lo.Uniq(names)
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " & "
		}
		out += n
	}
	return out
}

// ExecutionFilterConfigStamp is the TODO-free shape the original
// synthesizes for backward (database) resources: which execution item
// produced it, under which scenarios, and when.
type ExecutionFilterConfigStamp struct {
	ExecutionItem string
	Scenarios     []string
	Timestamp     time.Time
}

func appendExecutionFilterConfig(tuple []*resource.Resource) {
	var scenarios []string
	for _, r := range tuple {
		if r.Metadata.FilterID != "" {
			scenarios = append(scenarios, r.Metadata.FilterID)
		}
	}
	for _, r := range tuple {
		if r.Kind != resource.KindDatabase {
			continue
		}
		if r.Metadata.Extra == nil {
			r.Metadata.Extra = map[string]any{}
		}
		r.Metadata.Extra["execution_filter_config"] = ExecutionFilterConfigStamp{
			ExecutionItem: r.Metadata.Current,
			Scenarios:     scenarios,
			Timestamp:     time.Now(),
		}
	}
}
