package queue

import "strings"

// DefaultName is the canonical name of the queue used when none is given.
const DefaultName = "default"

// DefaultPrefix is the storage namespace applied by backends that share a
// keyspace or table with other tenants.
const DefaultPrefix = "backlog:"

// Normalize maps an empty name to DefaultName. Every other name is
// returned unchanged, so distinct names never collide.
func Normalize(name string) string {
	if name == "" {
		return DefaultName
	}
	return name
}

// NormalizeAll normalizes each name and drops duplicates, keeping the
// first occurrence.
func NormalizeAll(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = Normalize(n)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Prefixer applies and strips a storage namespace on queue names.
// Display names never carry the prefix.
type Prefixer string

// Apply returns the storage name for a display name.
func (p Prefixer) Apply(name string) string {
	return string(p) + Normalize(name)
}

// Strip returns the display name for a storage name. Names without the
// prefix are returned unchanged.
func (p Prefixer) Strip(stored string) string {
	return strings.TrimPrefix(stored, string(p))
}
