// Package policy implements the Policy Registry & Evaluator: path-based
// policy lookup with wildcard support and atomic hot reload.
//
// Grounded on internal/catalog/policy_versioning.go's mutex-guarded
// version store, generalized from a single active-version pointer to an
// atomically-swapped snapshot so readers never block on a writer building
// the next configuration.
package policy

import (
	"strings"
	"sync/atomic"

	"github.com/ocx/botdetect/internal/core"
)

// Route binds a path pattern to a named policy. Patterns support a
// trailing "/*" (matches exactly one more path segment) or "/**" (matches
// any number of remaining segments).
type Route struct {
	Pattern string
	Policy  *core.DetectionPolicy
}

type snapshot struct {
	routes  []Route // sorted by descending specificity, see sortBySpecificity
	actions map[string]*core.ActionPolicy
	deflt   *core.DetectionPolicy
}

// Registry resolves a request path to a DetectionPolicy. It is safe for
// concurrent use: Resolve reads an atomically-loaded snapshot, Reload
// swaps in a new one built separately.
type Registry struct {
	current atomic.Pointer[snapshot]
}

// NewRegistry builds a registry from an initial route set. routes need not
// be pre-sorted; sortBySpecificity establishes longest-prefix-first ordering.
func NewRegistry(routes []Route, actions []*core.ActionPolicy, defaultPolicy *core.DetectionPolicy) *Registry {
	r := &Registry{}
	r.Reload(routes, actions, defaultPolicy)
	return r
}

// Reload atomically swaps in a new snapshot. Readers mid-Resolve at the
// moment of the swap complete against whichever snapshot they already
// loaded; the next Resolve call sees the new one.
func (r *Registry) Reload(routes []Route, actions []*core.ActionPolicy, defaultPolicy *core.DetectionPolicy) {
	snap := &snapshot{
		routes:  sortBySpecificity(routes),
		actions: make(map[string]*core.ActionPolicy, len(actions)),
		deflt:   defaultPolicy,
	}
	for _, a := range actions {
		snap.actions[a.Name] = a
	}
	r.current.Store(snap)
}

// Resolve returns the policy for path via longest-prefix match, falling
// back to the default policy on no match.
func (r *Registry) Resolve(path string) *core.DetectionPolicy {
	snap := r.current.Load()
	if snap == nil {
		return nil
	}
	for _, route := range snap.routes {
		if matches(route.Pattern, path) {
			return route.Policy
		}
	}
	return snap.deflt
}

// ActionPolicy looks up a named action policy from the current snapshot.
func (r *Registry) ActionPolicy(name string) (*core.ActionPolicy, bool) {
	snap := r.current.Load()
	if snap == nil {
		return nil, false
	}
	a, ok := snap.actions[name]
	return a, ok
}

// matches reports whether pattern matches path. A pattern with no wildcard
// suffix must match path exactly. "/*" consumes exactly one more segment;
// "/**" consumes any number (including zero).
func matches(pattern, path string) bool {
	switch {
	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "/**")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	case strings.HasSuffix(pattern, "/*"):
		prefix := strings.TrimSuffix(pattern, "/*")
		rest := strings.TrimPrefix(path, prefix+"/")
		if rest == path || rest == "" {
			return false
		}
		return !strings.Contains(rest, "/")
	default:
		return pattern == path
	}
}

// specificity ranks a pattern so Resolve's linear scan behaves like
// longest-prefix match: exact patterns first, then "/*", then "/**",
// each group ordered by descending literal-prefix length.
func specificity(pattern string) (rank int, prefixLen int) {
	switch {
	case strings.HasSuffix(pattern, "/**"):
		return 2, len(strings.TrimSuffix(pattern, "/**"))
	case strings.HasSuffix(pattern, "/*"):
		return 1, len(strings.TrimSuffix(pattern, "/*"))
	default:
		return 0, len(pattern)
	}
}

func sortBySpecificity(routes []Route) []Route {
	out := append([]Route{}, routes...)
	// Simple insertion sort: route counts per registry are small (tens,
	// not thousands), so O(n^2) is fine and keeps the comparator simple.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			if !less(out[j], out[j-1]) {
				break
			}
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func less(a, b Route) bool {
	rankA, lenA := specificity(a.Pattern)
	rankB, lenB := specificity(b.Pattern)
	if rankA != rankB {
		return rankA < rankB
	}
	return lenA > lenB
}
