// Package connection implements the connection & filter model: forward and
// backward resource conversion between two items, scenario/alternative
// filter enablement, and the jump (loop-back) edge that reuses the same
// source/destination shape.
package connection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/spineflow/engine/internal/engine/resource"
)

// FilterSettings controls which on-disk filters (scenarios/alternatives)
// a connection exposes downstream.
type FilterSettings struct {
	// KnownFilters maps resource label -> filter type -> filter name -> online.
	KnownFilters map[string]map[string]map[string]bool
	// AutoOnline, when true, treats every on-disk filter as online
	// regardless of KnownFilters.
	AutoOnline bool
	// EnabledFilterTypes lists which filter types this connection honors.
	// Defaults to {"scenario": true, "alternative": false}.
	EnabledFilterTypes map[string]bool
}

// DefaultFilterSettings matches the original's dataclass defaults.
func DefaultFilterSettings() FilterSettings {
	return FilterSettings{
		KnownFilters:       map[string]map[string]map[string]bool{},
		AutoOnline:         true,
		EnabledFilterTypes: map[string]bool{"scenario": true, "alternative": false},
	}
}

// Options mirrors the original's ConnectionOptions TypedDict.
type Options struct {
	UseDatapackage     bool
	UseMemoryDB        bool
	PurgeBeforeWriting bool
	PurgeSettings      map[string]any
	WriteIndex         int
}

// DefaultOptions sets WriteIndex to 1, the original's default.
func DefaultOptions() Options { return Options{WriteIndex: 1} }

// ScenarioLister and PurgeFunc are external collaborators: reading the
// on-disk filter scenarios for a resource label, and purging a database
// resource before it is written to.
type (
	ScenarioLister func(ctx context.Context, resourceLabel string) (scenarios, alternatives []string, err error)
	PurgeFunc      func(ctx context.Context, r *resource.Resource, settings map[string]any) error
)

// ConnectionBase is the shared shape between Connection and Jump.
type ConnectionBase struct {
	Source      string
	Destination string
}

// Connection carries resources from Source to Destination, applying the
// forward/backward conversion pipeline.
type Connection struct {
	ConnectionBase
	Options        Options
	FilterSettings FilterSettings

	Scenarios ScenarioLister
	Purge     PurgeFunc

	// siblings of the same destination, used for write-index ordering;
	// set through SetSiblings (engine.New does this) before the connection
	// is used.
	siblings []*Connection
}

// NewConnection builds a Connection with default options/filter settings.
func NewConnection(source, destination string) *Connection {
	return &Connection{
		ConnectionBase: ConnectionBase{Source: source, Destination: destination},
		Options:        DefaultOptions(),
		FilterSettings: DefaultFilterSettings(),
	}
}

// SetSiblings records the other connections that share this one's
// destination, needed to compute write-index precursors.
func (c *Connection) SetSiblings(siblings []*Connection) { c.siblings = siblings }

// ReadyToExecute reports whether every enabled filter type has at least
// one online filter value for every filterable resource label known to
// this connection (or AutoOnline is set).
func (c *Connection) ReadyToExecute() bool {
	if c.FilterSettings.AutoOnline {
		return true
	}
	for _, byType := range c.FilterSettings.KnownFilters {
		for filterType, enabled := range c.FilterSettings.EnabledFilterTypes {
			if !enabled {
				continue
			}
			online := byType[filterType]
			anyOnline := false
			for _, isOnline := range online {
				if isOnline {
					anyOnline = true
					break
				}
			}
			if len(online) > 0 && !anyOnline {
				return false
			}
		}
	}
	return true
}

// EnabledFilters reads the on-disk scenarios/alternatives for a resource
// label once, and intersects them with the user's online set (or returns
// everything when AutoOnline is set).
func (c *Connection) EnabledFilters(ctx context.Context, label string) ([]string, error) {
	scenarios, alternatives, err := c.Scenarios(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("enabled filters for %s: %w", label, err)
	}
	var result []string
	if c.FilterSettings.EnabledFilterTypes["scenario"] {
		result = append(result, c.filterOnline(label, "scenario", scenarios)...)
	}
	if c.FilterSettings.EnabledFilterTypes["alternative"] {
		result = append(result, c.filterOnline(label, "alternative", alternatives)...)
	}
	return result, nil
}

func (c *Connection) filterOnline(label, filterType string, names []string) []string {
	if c.FilterSettings.AutoOnline {
		return names
	}
	known := c.FilterSettings.KnownFilters[label][filterType]
	return lo.Filter(names, func(name string, _ int) bool { return known[name] })
}

// ConvertForwardResources applies use_datapackage then use_memory_db to
// resources flowing out of Source toward Destination.
func (c *Connection) ConvertForwardResources(resources []*resource.Resource) []*resource.Resource {
	out := resources
	if c.Options.UseDatapackage {
		out = applyUseDatapackage(c.ProviderName(), out)
	}
	if c.Options.UseMemoryDB {
		out = applyUseMemoryDB(out)
	}
	return out
}

// ConvertBackwardResources applies write-index tagging then use_memory_db
// to resources flowing back into Source from Destination.
func (c *Connection) ConvertBackwardResources(resources []*resource.Resource) []*resource.Resource {
	out := c.applyWriteIndex(resources)
	if c.Options.UseMemoryDB {
		out = applyUseMemoryDB(out)
	}
	return out
}

// CleanUpBackwardResources purges database resources reaching Source when
// PurgeBeforeWriting is set.
func (c *Connection) CleanUpBackwardResources(ctx context.Context, resources []*resource.Resource) error {
	if !c.Options.PurgeBeforeWriting || c.Purge == nil {
		return nil
	}
	for _, r := range resources {
		if r.Kind != resource.KindDatabase {
			continue
		}
		if err := c.Purge(ctx, r, c.Options.PurgeSettings); err != nil {
			return fmt.Errorf("purge %s before writing: %w", r.Label, err)
		}
	}
	return nil
}

// ProviderName is a placeholder hook resources use to name the
// datapackage they collapse into; resolved to Source by default.
func (c *Connection) ProviderName() string { return c.Source }

// applyWriteIndex tags each database resource reaching Source with
// {current, precursors, part_count}: precursors are the sibling
// connections writing the same destination with a strictly smaller write
// index, and part_count is a freshly shared counter for this batch.
func (c *Connection) applyWriteIndex(resources []*resource.Resource) []*resource.Resource {
	var precursors []string
	for _, sib := range c.siblings {
		if sib == c {
			continue
		}
		if sib.Options.WriteIndex < c.Options.WriteIndex {
			precursors = append(precursors, sib.Source)
		}
	}
	sort.Strings(precursors)
	precursorSet := make(map[string]bool, len(precursors))
	for _, p := range precursors {
		precursorSet[p] = true
	}
	counter := resource.NewPartCount()
	out := make([]*resource.Resource, 0, len(resources))
	for _, r := range resources {
		if r.Kind != resource.KindDatabase {
			out = append(out, r)
			continue
		}
		clone := r.Clone(nil)
		clone.Metadata.Current = c.Source
		clone.Metadata.Precursors = precursorSet
		clone.Metadata.PartCount = counter
		out = append(out, clone)
	}
	return out
}

func applyUseMemoryDB(resources []*resource.Resource) []*resource.Resource {
	out := make([]*resource.Resource, 0, len(resources))
	for _, r := range resources {
		if r.Kind != resource.KindDatabase {
			out = append(out, r)
			continue
		}
		out = append(out, r.Clone(map[string]any{"memory": true}))
	}
	return out
}

// applyUseDatapackage partitions CSV from non-CSV resources, collapses
// every CSV resource into a single `datapackage@<provider>` resource and
// drops pre-existing datapackage.json resources.
func applyUseDatapackage(provider string, resources []*resource.Resource) []*resource.Resource {
	var csvs, rest []*resource.Resource
	for _, r := range resources {
		switch {
		case strings.HasSuffix(strings.ToLower(r.Label), "datapackage.json"):
			// dropped: superseded by the synthesized descriptor below.
		case r.Kind == resource.KindFile && strings.HasSuffix(strings.ToLower(r.Label), ".csv"):
			csvs = append(csvs, r)
		default:
			rest = append(rest, r)
		}
	}
	if len(csvs) == 0 {
		return rest
	}
	descriptor := resource.TransientFileResource(provider, fmt.Sprintf("datapackage@%s", provider))
	descriptor.Metadata.Extra = map[string]any{
		"resources": lo.Map(csvs, func(r *resource.Resource, _ int) string { return r.Label }),
	}
	return append(rest, descriptor)
}
