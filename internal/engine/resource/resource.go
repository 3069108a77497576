// Package resource implements the resource model: the data-carrying value
// that flows along connections between items during an engine run.
package resource

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies what a Resource points at.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
	KindFilePack  Kind = "file_pack"
	KindDatabase  Kind = "database"
	KindURL       Kind = "url"
)

// PartCount is a shared, mutable counter. Clone aliases the pointer instead
// of copying the value: every clone of a resource increments the same
// counter, matching the write-ordering bookkeeping in the connection model.
type PartCount struct {
	n int
}

// NewPartCount returns a zeroed counter.
func NewPartCount() *PartCount { return &PartCount{} }

// Add increments the counter by delta and returns the new value.
func (p *PartCount) Add(delta int) int {
	p.n += delta
	return p.n
}

// Value returns the current count.
func (p *PartCount) Value() int { return p.n }

// Metadata carries the side information a Resource accumulates as it
// travels through connections: the filter stack it has passed through, the
// deterministic filter id for its current filter combination, schema info
// for file-pack resources, and the write-ordering fields a backward
// (database) resource is tagged with.
type Metadata struct {
	FilterStack []string
	FilterID    string
	Schema      map[string]any
	PartCount   *PartCount
	Current     string
	Precursors  map[string]bool
	Memory      bool
	Extra       map[string]any
}

func (m Metadata) clone() Metadata {
	out := Metadata{
		FilterStack: append([]string(nil), m.FilterStack...),
		FilterID:    m.FilterID,
		Current:     m.Current,
		Memory:      m.Memory,
		// PartCount is intentionally NOT copied: it is shared across clones.
		PartCount: m.PartCount,
	}
	if m.Schema != nil {
		out.Schema = make(map[string]any, len(m.Schema))
		for k, v := range m.Schema {
			out.Schema[k] = v
		}
	}
	if m.Precursors != nil {
		out.Precursors = make(map[string]bool, len(m.Precursors))
		for k, v := range m.Precursors {
			out.Precursors[k] = v
		}
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Resource is a single unit of data flowing between items.
type Resource struct {
	ProviderName string
	Kind         Kind
	Label        string
	URL          string
	Metadata     Metadata
	Filterable   bool
	identifier   string
}

// New constructs a Resource with a fresh identifier.
func New(provider string, kind Kind, label, rawURL string, filterable bool) *Resource {
	return &Resource{
		ProviderName: provider,
		Kind:         kind,
		Label:        label,
		URL:          rawURL,
		Filterable:   filterable,
		identifier:   uuid.NewString(),
	}
}

// FileResource builds a non-filterable file resource.
func FileResource(provider, label, path string) *Resource {
	return New(provider, KindFile, label, "file:///"+strings.TrimPrefix(path, "/"), false)
}

// DirectoryResource builds a non-filterable directory resource.
func DirectoryResource(provider, label, path string) *Resource {
	return New(provider, KindDirectory, label, "file:///"+strings.TrimPrefix(path, "/"), false)
}

// TransientFileResource builds a file resource with no definite location yet.
func TransientFileResource(provider, label string) *Resource {
	return New(provider, KindFile, label, "", false)
}

// FileResourceInPack builds a file resource that is a member of a file_pack.
func FileResourceInPack(provider, label, packLabel, path string) *Resource {
	r := New(provider, KindFilePack, label, "file:///"+strings.TrimPrefix(path, "/"), false)
	r.Metadata.Extra = map[string]any{"pack_label": packLabel}
	return r
}

// DatabaseResource builds a filterable database resource.
func DatabaseResource(provider, label, rawURL string) *Resource {
	return New(provider, KindDatabase, label, rawURL, true)
}

// URLResource builds a generic URL resource.
func URLResource(provider, label, rawURL string) *Resource {
	return New(provider, KindURL, label, rawURL, false)
}

// Identifier returns the resource's stable identifier. Clones share it.
func (r *Resource) Identifier() string { return r.identifier }

// HasFilepath reports whether the resource resolves to a local filesystem
// path: true for file/directory/file_pack kinds, and for SQLite database
// URLs (everything else in KindDatabase goes through a server proxy).
func (r *Resource) HasFilepath() bool {
	switch r.Kind {
	case KindFile, KindDirectory, KindFilePack:
		return true
	case KindDatabase:
		return strings.HasPrefix(r.URL, "sqlite:///") || strings.HasPrefix(r.URL, "sqlite://")
	default:
		return false
	}
}

// Path returns the local filesystem path encoded in the URL, if any.
func (r *Resource) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Path
}

// Clone returns a copy that shares this resource's identifier and
// PartCount, with additionalMetadata merged into a deep copy of the rest
// of the metadata (Invariant 4: clones alias the identifier and part
// count, never copy them).
func (r *Resource) Clone(additionalMetadata map[string]any) *Resource {
	clone := &Resource{
		ProviderName: r.ProviderName,
		Kind:         r.Kind,
		Label:        r.Label,
		URL:          r.URL,
		Filterable:   r.Filterable,
		identifier:   r.identifier,
		Metadata:     r.Metadata.clone(),
	}
	if len(additionalMetadata) > 0 {
		if clone.Metadata.Extra == nil {
			clone.Metadata.Extra = make(map[string]any, len(additionalMetadata))
		}
		for k, v := range additionalMetadata {
			clone.Metadata.Extra[k] = v
		}
	}
	return clone
}

// CheckinFunc registers a local database URL as in-use; CheckoutFunc
// releases it. They are supplied by the external DB-proxy collaborator.
type (
	CheckinFunc  func(ctx context.Context, r *Resource) (string, error)
	CheckoutFunc func(ctx context.Context, localURL string)
)

// Open resolves the resource to a locally usable location: for database
// resources, it asks the collaborator for a short-lived scoped URL; for
// file/directory/file_pack resources it's the local path; for anything
// else it's the URL itself.
func (r *Resource) Open(ctx context.Context, checkin CheckinFunc, checkout CheckoutFunc) (string, func(), error) {
	switch {
	case r.Kind == KindDatabase:
		localURL, err := checkin(ctx, r)
		if err != nil {
			return "", nil, fmt.Errorf("open database resource %s: %w", r.Label, err)
		}
		return localURL, func() { checkout(ctx, localURL) }, nil
	case r.HasFilepath():
		return r.Path(), func() {}, nil
	default:
		return r.URL, func() {}, nil
	}
}

// normalizedURL strips credentials, host, port and query from a URL so
// equality checks focus on scheme+path, matching the original's URL
// normalization for resource equality.
func normalizedURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	u.Host = ""
	u.RawQuery = ""
	return u.Scheme + "://" + u.Path
}

// Equal implements the resource equality rule: same provider, kind,
// normalized URL, metadata and filterable flag.
func (r *Resource) Equal(other *Resource) bool {
	if other == nil {
		return false
	}
	if r.ProviderName != other.ProviderName || r.Kind != other.Kind || r.Filterable != other.Filterable {
		return false
	}
	if normalizedURL(r.URL) != normalizedURL(other.URL) {
		return false
	}
	return metadataEqual(r.Metadata, other.Metadata)
}

func metadataEqual(a, b Metadata) bool {
	if a.FilterID != b.FilterID || a.Current != b.Current || a.Memory != b.Memory {
		return false
	}
	return stackEqual(a.FilterStack, b.FilterStack)
}

func stackEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ProviderFilterName renders the name used when computing a deterministic
// filter id for a cross-product tuple: for database resources it's the
// comma-joined filter names plus the provider name, otherwise it is the
// resource's own filter id.
func (r *Resource) ProviderFilterName() string {
	if r.Kind == KindDatabase {
		names, _ := r.Metadata.Extra["filter_names"].([]string)
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		return strings.Join(sorted, ",") + " - " + r.ProviderName
	}
	return r.Metadata.FilterID
}

// String renders a compact debug representation.
func (r *Resource) String() string {
	return fmt.Sprintf("Resource(%s:%s label=%s url=%s)", r.ProviderName, r.Kind, r.Label, r.URL)
}

// arg renders the command-line-argument representation of a resource: the
// raw URL for database resources, the local path otherwise, matching
// project_item_resource.py's ProjectItemResource.arg property.
func (r *Resource) arg() string {
	if r.Kind == KindDatabase {
		return r.URL
	}
	return r.Path()
}

// CmdLineArg is a command-line argument for items that execute shell
// commands. A literal argument (NewCmdLineArg) is passed through verbatim;
// a label argument (NewLabelArg) is replaced by the matching resource's
// URL/path at expansion time (ExpandCmdLineArgs), mirroring
// project_item_resource.py's CmdLineArg/LabelArg pair.
type CmdLineArg struct {
	Arg     string
	IsLabel bool
}

// NewCmdLineArg builds a literal command-line argument.
func NewCmdLineArg(arg string) CmdLineArg { return CmdLineArg{Arg: arg} }

// NewLabelArg builds a command-line argument that expands to the resource(s)
// labelled label.
func NewLabelArg(label string) CmdLineArg { return CmdLineArg{Arg: label, IsLabel: true} }

// String renders the argument's literal text, ignoring label expansion.
func (a CmdLineArg) String() string { return a.Arg }

// ExtractPacks partitions resources into non-pack singles and file packs
// grouped by label, matching project_item_resource.py::extract_packs.
func ExtractPacks(resources []*Resource) (singles []*Resource, packs map[string][]*Resource) {
	packs = map[string][]*Resource{}
	for _, r := range resources {
		if r.Kind != KindFilePack {
			singles = append(singles, r)
			continue
		}
		packs[r.Label] = append(packs[r.Label], r)
	}
	return singles, packs
}

// LabelledResourceFilepaths maps each resource's label to its local
// filesystem path, for resources that resolve to one (HasFilepath),
// matching project_item_resource.py::labelled_resource_filepaths.
func LabelledResourceFilepaths(resources []*Resource) map[string]string {
	out := map[string]string{}
	for _, r := range resources {
		if r.HasFilepath() {
			out[r.Label] = r.Path()
		}
	}
	return out
}

// LabelledResourceArgs maps each resource label to the command-line
// arguments it expands to: one single-element entry per non-pack
// resource, and one entry per file pack listing every member's argument
// in encounter order, matching
// project_item_resource.py::labelled_resource_args (simplified to use
// arg() directly instead of opening a short-lived DB server, since
// argv expansion for a jump condition has no DB-proxy collaborator to
// check a database resource in/out through).
func LabelledResourceArgs(resources []*Resource) map[string][]string {
	singles, packs := ExtractPacks(resources)
	out := make(map[string][]string, len(singles)+len(packs))
	for _, r := range singles {
		out[r.Label] = []string{r.arg()}
	}
	for label, members := range packs {
		args := make([]string, len(members))
		for i, m := range members {
			args[i] = m.arg()
		}
		out[label] = args
	}
	return out
}

// ExpandCmdLineArgs replaces every label argument in args with the
// resource arguments its label maps to in labelToArgs, passing every
// other argument through literally. A label with no match, or whose match
// contains an empty argument, is dropped and reported through warn,
// matching project_item_resource.py::expand_cmd_line_args.
func ExpandCmdLineArgs(args []CmdLineArg, labelToArgs map[string][]string, warn func(string)) []string {
	var expanded []string
	for _, a := range args {
		if !a.IsLabel {
			expanded = append(expanded, a.Arg)
			continue
		}
		vals, ok := labelToArgs[a.Arg]
		missing := !ok
		for _, v := range vals {
			if v == "" {
				missing = true
			}
		}
		if missing {
			if warn != nil {
				warn(fmt.Sprintf("no resources matching argument %q", a.Arg))
			}
			continue
		}
		expanded = append(expanded, vals...)
	}
	return expanded
}
