// Package rbactest provides an in-memory rbac.Store with versioned writes,
// for exercising the engine without a backing cluster.
package rbactest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"clustersec.org/internal/rbac"
)

// Store is a concurrency-safe in-memory rbac.Store. The zero value is not
// usable; call New.
type Store struct {
	mu    sync.Mutex
	users map[string]versionedUser
	roles map[string]rbac.Role
	// FailWith, when set, makes every call fail with the given error.
	FailWith error
}

type versionedUser struct {
	user    rbac.User
	version int
}

var _ rbac.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users: make(map[string]versionedUser),
		roles: make(map[string]rbac.Role),
	}
}

func (s *Store) CreateUser(_ context.Context, u rbac.User) (rbac.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return "", s.FailWith
	}
	if u.Username == "" {
		return "", fmt.Errorf("%w: username is required", rbac.ErrInvalid)
	}
	if existing, ok := s.users[u.Username]; ok && usersEqual(existing.user, u) {
		return rbac.OutcomeSkipped, nil
	}
	u.Password = ""
	s.users[u.Username] = versionedUser{user: u, version: 1}
	return rbac.OutcomeChanged, nil
}

func (s *Store) GetUser(_ context.Context, username string) (rbac.User, rbac.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return rbac.User{}, "", s.FailWith
	}
	v, ok := s.users[username]
	if !ok {
		return rbac.User{}, "", fmt.Errorf("user %s: %w", username, rbac.ErrNotFound)
	}
	return cloneUser(v.user), rbac.Version(strconv.Itoa(v.version)), nil
}

func (s *Store) UpdateUser(_ context.Context, u rbac.User, version rbac.Version) (rbac.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return "", s.FailWith
	}
	existing, ok := s.users[u.Username]
	if !ok {
		return "", fmt.Errorf("user %s: %w", u.Username, rbac.ErrNotFound)
	}
	if version != rbac.VersionAny && version != rbac.Version(strconv.Itoa(existing.version)) {
		return "", rbac.ErrConflict
	}
	u.Password = ""
	if usersEqual(existing.user, u) {
		return rbac.OutcomeSkipped, nil
	}
	s.users[u.Username] = versionedUser{user: u, version: existing.version + 1}
	return rbac.OutcomeChanged, nil
}

func (s *Store) DeleteUser(_ context.Context, username string) (rbac.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return "", s.FailWith
	}
	if _, ok := s.users[username]; !ok {
		return rbac.OutcomeSkipped, nil
	}
	delete(s.users, username)
	return rbac.OutcomeChanged, nil
}

func (s *Store) ListUsers(_ context.Context) ([]rbac.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]rbac.User, 0, len(names))
	for _, name := range names {
		out = append(out, cloneUser(s.users[name].user))
	}
	return out, nil
}

func (s *Store) CreateOrUpdateRole(_ context.Context, r rbac.Role) (rbac.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return "", s.FailWith
	}
	if r.Name == "" {
		return "", fmt.Errorf("%w: role name is required", rbac.ErrInvalid)
	}
	if existing, ok := s.roles[r.Name]; ok && rbac.RolesEqual(existing, r) {
		return rbac.OutcomeSkipped, nil
	}
	s.roles[r.Name] = r
	return rbac.OutcomeChanged, nil
}

func (s *Store) GetRole(_ context.Context, name string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return rbac.Role{}, s.FailWith
	}
	r, ok := s.roles[name]
	if !ok {
		return rbac.Role{}, fmt.Errorf("role %s: %w", name, rbac.ErrNotFound)
	}
	return r, nil
}

func (s *Store) DeleteRole(_ context.Context, name string) (rbac.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return "", s.FailWith
	}
	if _, ok := s.roles[name]; !ok {
		return rbac.OutcomeSkipped, nil
	}
	delete(s.roles, name)
	return rbac.OutcomeChanged, nil
}

func (s *Store) ListRoles(_ context.Context) ([]rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	names := make([]string, 0, len(s.roles))
	for name := range s.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]rbac.Role, 0, len(names))
	for _, name := range names {
		out = append(out, s.roles[name])
	}
	return out, nil
}

// SeedUser installs a user directly, bypassing outcome reporting.
func (s *Store) SeedUser(u rbac.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Password = ""
	s.users[u.Username] = versionedUser{user: u, version: 1}
}

// SeedRole installs a role directly.
func (s *Store) SeedRole(r rbac.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.Name] = r
}

// UserVersion exposes the current version counter for conflict tests.
func (s *Store) UserVersion(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[username].version
}

func cloneUser(u rbac.User) rbac.User {
	out := u
	out.Roles = append([]string(nil), u.Roles...)
	return out
}

func usersEqual(a, b rbac.User) bool {
	if a.Username != b.Username || a.FullName != b.FullName || a.Email != b.Email {
		return false
	}
	if len(a.Roles) != len(b.Roles) {
		return false
	}
	for i := range a.Roles {
		if a.Roles[i] != b.Roles[i] {
			return false
		}
	}
	return true
}
