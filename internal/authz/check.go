package authz

// Has reports whether the granted flattened permission strings allow the
// given resource/action pair. Four rules apply in order: exact match,
// resource-level wildcard, action across all resources, global wildcard.
// It never errors; the caller is responsible for turning false into an
// access-denied outcome and for auditing the denial when the action is
// security relevant.
//
// This is the fast request-time variant of Name.Covers, operating on strings
// precomputed at authentication time instead of recomputing the effective
// permission set per request. Action hierarchy is resolved when the strings
// are flattened, never here.
func Has(granted []string, resource, action string) bool {
	if resource == "" || action == "" {
		return false
	}
	exact := resource + ":" + action
	resourceWide := resource + ":" + Wildcard
	actionWide := Wildcard + ":" + action
	global := Wildcard + ":" + Wildcard
	for _, g := range granted {
		if g == exact || g == resourceWide || g == actionWide || g == global {
			return true
		}
	}
	return false
}
