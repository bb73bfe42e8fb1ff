package rbac_test

import (
	"testing"

	"clustersec.org/internal/rbac"
)

func TestMergeRoles(t *testing.T) {
	t.Parallel()

	existing := rbac.Role{
		Name:    "viewer",
		Cluster: []string{"monitor"},
		Indices: []rbac.IndexPrivilegeEntry{
			{Names: []string{"logs-*"}, Privileges: []string{"read"}},
		},
	}
	additions := rbac.Role{
		Cluster: []string{"monitor", "manage_own_api_key"},
		Indices: []rbac.IndexPrivilegeEntry{
			{Names: []string{"logs-*"}, Privileges: []string{"write"}},
		},
	}

	merged := rbac.MergeRoles(existing, additions)
	if merged.Name != "viewer" {
		t.Fatalf("merge must keep the existing name, got %q", merged.Name)
	}
	if len(merged.Cluster) != 2 {
		t.Fatalf("cluster privileges should be a set union, got %v", merged.Cluster)
	}
	// Entries append rather than collapse so each grant stays traceable.
	if len(merged.Indices) != 2 {
		t.Fatalf("index entries must append, got %d entries", len(merged.Indices))
	}
}

func TestMergeRolesIdempotent(t *testing.T) {
	t.Parallel()

	role := rbac.Role{
		Name:    "viewer",
		Cluster: []string{"monitor"},
		Indices: []rbac.IndexPrivilegeEntry{
			{Names: []string{"logs-*"}, Privileges: []string{"read"}},
		},
	}
	merged := rbac.MergeRoles(role, role)
	if !rbac.RolesEqual(role, merged) {
		t.Fatalf("merging a role with itself must be a no-op: %+v", merged)
	}
}

func TestRolesEqual(t *testing.T) {
	t.Parallel()

	base := rbac.Role{
		Name:    "r",
		Cluster: []string{"monitor", "manage"},
		Indices: []rbac.IndexPrivilegeEntry{
			{
				Names:         []string{"a-*"},
				Privileges:    []string{"read"},
				FieldSecurity: &rbac.FieldSecurity{Grant: []string{"message"}},
				Query:         `{"term":{"tenant":"x"}}`,
			},
		},
	}

	sameDifferentOrder := base
	sameDifferentOrder.Cluster = []string{"manage", "monitor"}
	if !rbac.RolesEqual(base, sameDifferentOrder) {
		t.Fatal("cluster privilege order must not matter")
	}

	differentQuery := base
	differentQuery.Indices = []rbac.IndexPrivilegeEntry{base.Indices[0]}
	differentQuery.Indices[0].Query = `{"term":{"tenant":"y"}}`
	if rbac.RolesEqual(base, differentQuery) {
		t.Fatal("differing DLS queries must not compare equal")
	}

	noFLS := base
	noFLS.Indices = []rbac.IndexPrivilegeEntry{{
		Names:      []string{"a-*"},
		Privileges: []string{"read"},
		Query:      base.Indices[0].Query,
	}}
	if rbac.RolesEqual(base, noFLS) {
		t.Fatal("missing field security must not compare equal")
	}
}
