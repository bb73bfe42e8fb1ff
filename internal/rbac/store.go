package rbac

import (
	"context"
	"errors"
	"fmt"
)

// Store describes the persistence operations the engine needs from the
// backing cluster's security API. It is the sole writer of user/role state;
// callers never cache results beyond a single operation.
type Store interface {
	CreateUser(ctx context.Context, u User) (Outcome, error)
	// GetUser returns the user without its password and the version token to
	// pass to UpdateUser.
	GetUser(ctx context.Context, username string) (User, Version, error)
	// UpdateUser replaces the full user document. The backing API patches
	// nothing: callers must read-modify-write, and the version token from the
	// read guards the write (ErrConflict on mismatch).
	UpdateUser(ctx context.Context, u User, v Version) (Outcome, error)
	DeleteUser(ctx context.Context, username string) (Outcome, error)
	ListUsers(ctx context.Context) ([]User, error)

	// CreateOrUpdateRole has upsert semantics: repeating a call with an
	// identical definition is a no-op reported as OutcomeSkipped.
	CreateOrUpdateRole(ctx context.Context, r Role) (Outcome, error)
	GetRole(ctx context.Context, name string) (Role, error)
	DeleteRole(ctx context.Context, name string) (Outcome, error)
	ListRoles(ctx context.Context) ([]Role, error)
}

const maxUpdateAttempts = 3

// ModifyUser runs the read-modify-write loop for a user document, retrying on
// version conflicts. mutate reports whether it changed the document; an
// unchanged document is not written back.
func ModifyUser(ctx context.Context, store Store, username string, mutate func(*User) bool) (Outcome, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		user, version, err := store.GetUser(ctx, username)
		if err != nil {
			return "", err
		}
		if !mutate(&user) {
			return OutcomeSkipped, nil
		}
		outcome, err := store.UpdateUser(ctx, user, version)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("update user %s: retries exhausted: %w", username, lastErr)
}
