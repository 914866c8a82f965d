package authz

import "sort"

// wildcardAll is the synthetic grant handed to super admins.
var wildcardAll = MustName("*.*.*")

// Engine computes effective permission sets. It is pure and safe for
// concurrent use; all state arrives through arguments.
type Engine struct{}

// NewEngine constructs an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Effective computes the coverage-reduced permission set for a principal.
// Super admins short-circuit to the singleton wildcard grant regardless of
// assigned roles; inactive principals hold nothing.
func (e *Engine) Effective(p Principal, roles []Role) []Permission {
	if p.SuperAdmin() {
		return []Permission{{Name: wildcardAll, DisplayName: "Super Administrator"}}
	}
	if !p.Active() {
		return nil
	}
	merged := make(map[string]Permission)
	for _, role := range roles {
		for _, perm := range role.Permissions {
			// Duplicate names collapse by equality before any coverage pass.
			if _, ok := merged[perm.Name.String()]; !ok {
				merged[perm.Name.String()] = perm
			}
		}
	}
	union := make([]Permission, 0, len(merged))
	for _, perm := range merged {
		union = append(union, perm)
	}
	return e.ResolveHierarchy(union)
}

// ResolveHierarchy drops every permission covered by a different permission
// in the same set. Mutually non-covering pairs are both kept: coverage is not
// a total order, so the reduced set is minimal with respect to the documented
// relation but its size is not otherwise deterministic. Reduction is an
// optimization; coverage is enforced again at check time.
func (e *Engine) ResolveHierarchy(perms []Permission) []Permission {
	deduped := dedupeByName(perms)
	kept := make([]Permission, 0, len(deduped))
	for i, candidate := range deduped {
		covered := false
		for j, other := range deduped {
			if i == j {
				continue
			}
			if other.Name.Covers(candidate.Name) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, candidate)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		return kept[i].Name.String() < kept[j].Name.String()
	})
	return kept
}

// Matrix groups an effective permission set as module -> resource -> actions.
// It is a display/audit view with no independent authorization weight.
func (e *Engine) Matrix(perms []Permission) map[string]map[string][]string {
	matrix := make(map[string]map[string][]string)
	for _, perm := range perms {
		module := perm.Name.Module()
		resources, ok := matrix[module]
		if !ok {
			resources = make(map[string][]string)
			matrix[module] = resources
		}
		resources[perm.Name.Resource()] = append(resources[perm.Name.Resource()], perm.Name.Action())
	}
	for _, resources := range matrix {
		for resource := range resources {
			sort.Strings(resources[resource])
		}
	}
	return matrix
}

// Flatten renders permissions as the "resource:action" strings consumed by
// the request-time check. The module segment is intentionally dropped: the
// check operates on resource scope. Hierarchy actions are expanded to the
// concrete actions they cover, so everything Covers grants before reduction
// is still a string-level hit after it; a wildcard resource with a specific
// action stays "*:action".
func (e *Engine) Flatten(perms []Permission) []string {
	seen := make(map[string]struct{}, len(perms))
	flat := make([]string, 0, len(perms))
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		flat = append(flat, s)
	}
	for _, perm := range perms {
		resource := perm.Name.Resource()
		action := perm.Name.Action()
		add(resource + ":" + action)
		if action == Wildcard {
			continue
		}
		for _, covered := range actionHierarchy[action] {
			add(resource + ":" + covered)
		}
	}
	sort.Strings(flat)
	return flat
}

func dedupeByName(perms []Permission) []Permission {
	seen := make(map[string]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, perm := range perms {
		key := perm.Name.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, perm)
	}
	return out
}
