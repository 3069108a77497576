package resource

// Pool groups resources that share an identical filter stack. Pools are
// the unit the pipeline package merges, redistributes and fans out.
type Pool struct {
	FilterStack []string
	Resources   []*Resource
}

// NewPool groups resources by their metadata.FilterStack, preserving the
// first-seen order of distinct stacks.
func NewPool(resources []*Resource) []*Pool {
	var pools []*Pool
	index := make(map[string]int)
	for _, r := range resources {
		key := stackKey(r.Metadata.FilterStack)
		if i, ok := index[key]; ok {
			pools[i].Resources = append(pools[i].Resources, r)
			continue
		}
		index[key] = len(pools)
		pools = append(pools, &Pool{
			FilterStack: append([]string(nil), r.Metadata.FilterStack...),
			Resources:   []*Resource{r},
		})
	}
	return pools
}

func stackKey(stack []string) string {
	key := ""
	for _, s := range stack {
		key += s + "\x00"
	}
	return key
}

// IsSubsetOf reports whether p's filter stack is a subset of other's. Order
// is ignored: this is plain set containment, matching the original's subset
// test.
func (p *Pool) IsSubsetOf(other *Pool) bool {
	set := make(map[string]bool, len(other.FilterStack))
	for _, s := range other.FilterStack {
		set[s] = true
	}
	for _, s := range p.FilterStack {
		if !set[s] {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the pool carries no filter stack at all (the
// "stackless" pool that gets redistributed to every other pool).
func (p *Pool) IsEmpty() bool { return len(p.FilterStack) == 0 }

// MergePools merges pools under the subset relation to a fixpoint: whenever
// one pool's non-empty filter stack is a subset of another's, its resources
// are folded into the superset pool and it is dropped. The stackless pool is
// left alone for DistributeStackless. Runs until no further merge is
// possible.
func MergePools(pools []*Pool) []*Pool {
	changed := true
	for changed {
		changed = false
		for i := 0; i < len(pools); i++ {
			if pools[i].IsEmpty() {
				continue
			}
			for j := 0; j < len(pools); j++ {
				if i == j {
					continue
				}
				if pools[i].IsSubsetOf(pools[j]) && len(pools[i].FilterStack) < len(pools[j].FilterStack) {
					pools[j].Resources = append(pools[j].Resources, pools[i].Resources...)
					pools = append(pools[:i], pools[i+1:]...)
					changed = true
					break
				}
			}
			if changed {
				break
			}
		}
	}
	return pools
}

// DistributeStackless appends the stackless pool's resources to every
// other pool and drops it, unless it is the only pool in the set (Open
// Question (b): when every pool is stackless, nothing is redistributed).
func DistributeStackless(pools []*Pool) []*Pool {
	if len(pools) <= 1 {
		return pools
	}
	var stackless *Pool
	var rest []*Pool
	for _, p := range pools {
		if p.IsEmpty() && stackless == nil {
			stackless = p
			continue
		}
		rest = append(rest, p)
	}
	if stackless == nil {
		return pools
	}
	allStackless := true
	for _, p := range rest {
		if !p.IsEmpty() {
			allStackless = false
			break
		}
	}
	if allStackless {
		// every pool was stackless; keep them separate.
		return pools
	}
	for _, p := range rest {
		p.Resources = append(p.Resources, stackless.Resources...)
	}
	return rest
}
