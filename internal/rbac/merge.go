package rbac

import (
	"slices"
	"strings"
)

// MergeRoles combines two definitions of the same role: cluster privileges
// are set-unioned, index privilege entries are appended. Entries are never
// collapsed by overlapping pattern so each grant stays traceable to its
// origin.
func MergeRoles(existing, additions Role) Role {
	merged := Role{
		Name:    existing.Name,
		Cluster: unionStrings(existing.Cluster, additions.Cluster),
	}
	merged.Indices = append(merged.Indices, existing.Indices...)
	for _, entry := range additions.Indices {
		if !containsEntry(merged.Indices, entry) {
			merged.Indices = append(merged.Indices, entry)
		}
	}
	if len(existing.Metadata) > 0 || len(additions.Metadata) > 0 {
		merged.Metadata = make(map[string]any, len(existing.Metadata)+len(additions.Metadata))
		for k, v := range existing.Metadata {
			merged.Metadata[k] = v
		}
		for k, v := range additions.Metadata {
			merged.Metadata[k] = v
		}
	}
	return merged
}

// RolesEqual reports whether two role definitions are identical up to cluster
// privilege order. Index entry order is significant.
func RolesEqual(a, b Role) bool {
	if a.Name != b.Name {
		return false
	}
	if !unorderedEqual(a.Cluster, b.Cluster) {
		return false
	}
	if len(a.Indices) != len(b.Indices) {
		return false
	}
	for i := range a.Indices {
		if !EntriesEqual(a.Indices[i], b.Indices[i]) {
			return false
		}
	}
	return true
}

// EntriesEqual compares two index privilege entries field by field.
func EntriesEqual(a, b IndexPrivilegeEntry) bool {
	if !slices.Equal(a.Names, b.Names) {
		return false
	}
	if !unorderedEqual(a.Privileges, b.Privileges) {
		return false
	}
	if a.Query != b.Query {
		return false
	}
	switch {
	case a.FieldSecurity == nil && b.FieldSecurity == nil:
		return true
	case a.FieldSecurity == nil || b.FieldSecurity == nil:
		return false
	}
	return slices.Equal(a.FieldSecurity.Grant, b.FieldSecurity.Grant) &&
		slices.Equal(a.FieldSecurity.Except, b.FieldSecurity.Except)
}

func containsEntry(entries []IndexPrivilegeEntry, entry IndexPrivilegeEntry) bool {
	for _, e := range entries {
		if EntriesEqual(e, entry) {
			return true
		}
	}
	return false
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func unorderedEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}
