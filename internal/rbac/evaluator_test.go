package rbac_test

import (
	"context"
	"errors"
	"testing"

	"clustersec.org/internal/config"
	"clustersec.org/internal/rbac"
	"clustersec.org/internal/rbac/rbactest"
)

func seededStore(t *testing.T) *rbactest.Store {
	t.Helper()
	store := rbactest.New()
	store.SeedRole(rbac.Role{
		Name:    "viewer",
		Cluster: []string{"monitor"},
		Indices: []rbac.IndexPrivilegeEntry{
			{Names: []string{"logs-*"}, Privileges: []string{"read"}},
		},
	})
	store.SeedRole(rbac.Role{
		Name: "logs_writer",
		Indices: []rbac.IndexPrivilegeEntry{
			{Names: []string{"logs-*"}, Privileges: []string{"write"}},
		},
	})
	store.SeedRole(rbac.Role{
		Name: "editor",
		Indices: []rbac.IndexPrivilegeEntry{
			{Names: []string{"logs-*"}, Privileges: []string{"read", "write"}},
		},
	})
	store.SeedRole(rbac.Role{
		Name:    "admin",
		Cluster: []string{"all"},
	})
	store.SeedRole(rbac.Role{
		Name: "everything",
		Indices: []rbac.IndexPrivilegeEntry{
			{Names: []string{"*"}, Privileges: []string{"read"}},
		},
	})
	store.SeedUser(rbac.User{Username: "alice", Roles: []string{"viewer"}})
	store.SeedUser(rbac.User{Username: "split", Roles: []string{"viewer", "logs_writer"}})
	store.SeedUser(rbac.User{Username: "editor", Roles: []string{"editor"}})
	store.SeedUser(rbac.User{Username: "root", Roles: []string{"admin"}})
	store.SeedUser(rbac.User{Username: "wildcard", Roles: []string{"everything"}})
	store.SeedUser(rbac.User{Username: "noroles", Roles: nil})
	return store
}

func newEvaluator(t *testing.T, store rbac.Store, mode config.EvaluationMode) *rbac.Evaluator {
	t.Helper()
	e, err := rbac.NewEvaluator(store, mode)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func TestEvaluatePerRole(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t, seededStore(t), config.ModePerRole)
	ctx := context.Background()

	cases := []struct {
		name       string
		user       string
		index      string
		privileges []string
		want       bool
	}{
		{"viewer reads matching index", "alice", "logs-2024", []string{"read"}, true},
		{"viewer cannot write", "alice", "logs-2024", []string{"write"}, false},
		{"viewer denied on non-matching index", "alice", "metrics-1", []string{"read"}, false},
		{"single role granting both allows both", "editor", "logs-app", []string{"read", "write"}, true},
		{"read satisfied within multi-privilege role", "editor", "logs-app", []string{"read"}, true},
		{"write satisfied within multi-privilege role", "editor", "logs-app", []string{"write"}, true},
		// Privileges split across two roles are NOT combined in per-role
		// mode. This is the documented policy, not a bug to fix here.
		{"split roles denied together", "split", "logs-app", []string{"read", "write"}, false},
		{"split roles still allow individually", "split", "logs-app", []string{"write"}, true},
		{"cluster all short-circuits any index", "root", "anything-at-all", []string{"write", "delete"}, true},
		{"star pattern matches any index", "wildcard", "whatever", []string{"read"}, true},
		{"star pattern does not add privileges", "wildcard", "whatever", []string{"write"}, false},
		{"user without roles has no privileges", "noroles", "logs-app", []string{"read"}, false},
		{"unknown principal denied", "ghost", "logs-app", []string{"read"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := e.Evaluate(ctx, tc.user, tc.index, tc.privileges)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if decision.Allowed != tc.want {
				t.Fatalf("Evaluate(%s, %s, %v) = %v (%s), want %v",
					tc.user, tc.index, tc.privileges, decision.Allowed, decision.Reason, tc.want)
			}
		})
	}
}

func TestEvaluateGlobalUnion(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t, seededStore(t), config.ModeGlobalUnion)
	ctx := context.Background()

	decision, err := e.Evaluate(ctx, "split", "logs-app", []string{"read", "write"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("global-union mode should combine privileges across roles: %s", decision.Reason)
	}

	decision, err = e.Evaluate(ctx, "split", "logs-app", []string{"delete"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Allowed {
		t.Fatal("privilege granted by no role must stay denied")
	}
}

func TestEvaluateEntryWithAllPrivilege(t *testing.T) {
	t.Parallel()
	store := rbactest.New()
	store.SeedRole(rbac.Role{
		Name: "owner",
		Indices: []rbac.IndexPrivilegeEntry{
			{Names: []string{"data-*"}, Privileges: []string{"all"}},
		},
	})
	store.SeedUser(rbac.User{Username: "owner", Roles: []string{"owner"}})
	e := newEvaluator(t, store, config.ModePerRole)

	decision, err := e.Evaluate(context.Background(), "owner", "data-1", []string{"read", "write", "manage"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf(`privilege "all" must subsume every action: %s`, decision.Reason)
	}
}

func TestEvaluateStoreFailureIsAnError(t *testing.T) {
	t.Parallel()
	store := rbactest.New()
	store.FailWith = rbac.ErrUnavailable
	e := newEvaluator(t, store, config.ModePerRole)

	_, err := e.Evaluate(context.Background(), "alice", "logs-1", []string{"read"})
	if !errors.Is(err, rbac.ErrUnavailable) {
		t.Fatalf("store outage must surface as an error, not a decision; got %v", err)
	}
}

func TestEvaluateRejectsEmptyInput(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t, rbactest.New(), config.ModePerRole)
	if _, err := e.Evaluate(context.Background(), "", "logs-1", []string{"read"}); !errors.Is(err, rbac.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := e.Evaluate(context.Background(), "alice", "logs-1", nil); !errors.Is(err, rbac.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestMatchPattern(t *testing.T) {
	t.Parallel()
	cases := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*", "anything", true},
		{"logs-*", "logs-app", true},
		{"logs-*", "logs-", true},
		{"logs-*", "metrics-app", false},
		{"logs-*", "LOGS-app", false},
		{"*-2024", "logs-2024", true},
		{"*-2024", "logs-2023", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "abcd", false},
		{"exact", "exact", true},
		{"exact", "exact-not", false},
		{"", "", true},
		{"", "x", false},
	}
	for _, tc := range cases {
		if got := rbac.MatchPattern(tc.pattern, tc.name); got != tc.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tc.pattern, tc.name, got, tc.want)
		}
	}
}
