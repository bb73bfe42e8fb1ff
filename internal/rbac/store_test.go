package rbac_test

import (
	"context"
	"errors"
	"testing"

	"clustersec.org/internal/rbac"
	"clustersec.org/internal/rbac/rbactest"
)

// conflictStore fails the first n UpdateUser calls with ErrConflict to
// exercise the read-modify-write retry loop.
type conflictStore struct {
	rbac.Store
	remaining int
}

func (s *conflictStore) UpdateUser(ctx context.Context, u rbac.User, v rbac.Version) (rbac.Outcome, error) {
	if s.remaining > 0 {
		s.remaining--
		return "", rbac.ErrConflict
	}
	return s.Store.UpdateUser(ctx, u, v)
}

func TestModifyUserRetriesOnConflict(t *testing.T) {
	t.Parallel()
	inner := rbactest.New()
	inner.SeedUser(rbac.User{Username: "alice", Roles: []string{"viewer"}})
	store := &conflictStore{Store: inner, remaining: 2}

	outcome, err := rbac.ModifyUser(context.Background(), store, "alice", func(u *rbac.User) bool {
		for _, r := range u.Roles {
			if r == "extra" {
				return false
			}
		}
		u.Roles = append(u.Roles, "extra")
		return true
	})
	if err != nil {
		t.Fatalf("ModifyUser: %v", err)
	}
	if outcome != rbac.OutcomeChanged {
		t.Fatalf("outcome = %s, want changed", outcome)
	}
	user, _, err := inner.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if len(user.Roles) != 2 || user.Roles[1] != "extra" {
		t.Fatalf("role list after retry = %v", user.Roles)
	}
}

func TestModifyUserGivesUpAfterRepeatedConflicts(t *testing.T) {
	t.Parallel()
	inner := rbactest.New()
	inner.SeedUser(rbac.User{Username: "alice"})
	store := &conflictStore{Store: inner, remaining: 100}

	_, err := rbac.ModifyUser(context.Background(), store, "alice", func(u *rbac.User) bool {
		u.Roles = append(u.Roles, "extra")
		return true
	})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausting retries, got %v", err)
	}
}

func TestModifyUserSkipsUnchangedDocument(t *testing.T) {
	t.Parallel()
	store := rbactest.New()
	store.SeedUser(rbac.User{Username: "alice", Roles: []string{"viewer"}})

	outcome, err := rbac.ModifyUser(context.Background(), store, "alice", func(u *rbac.User) bool {
		return false
	})
	if err != nil {
		t.Fatalf("ModifyUser: %v", err)
	}
	if outcome != rbac.OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", outcome)
	}
	if got := store.UserVersion("alice"); got != 1 {
		t.Fatalf("unchanged document must not be written back, version = %d", got)
	}
}

func TestModifyUserUnknownUser(t *testing.T) {
	t.Parallel()
	_, err := rbac.ModifyUser(context.Background(), rbactest.New(), "ghost", func(u *rbac.User) bool { return true })
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVersionedUpdateConflict(t *testing.T) {
	t.Parallel()
	store := rbactest.New()
	store.SeedUser(rbac.User{Username: "alice", Roles: []string{"viewer"}})

	user, version, err := store.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}

	// A concurrent writer bumps the version between read and write.
	other := user
	other.Roles = append([]string{}, user.Roles...)
	other.Roles = append(other.Roles, "won-the-race")
	if _, err := store.UpdateUser(context.Background(), other, version); err != nil {
		t.Fatalf("first write: %v", err)
	}

	stale := user
	stale.Roles = append(stale.Roles, "lost-the-race")
	if _, err := store.UpdateUser(context.Background(), stale, version); !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("stale version must conflict, got %v", err)
	}
}
