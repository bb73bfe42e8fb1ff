// Package rbac holds the typed representation of users, roles and privileges,
// the pure merge/compare functions over them, and the permission evaluator.
// Persistence goes through the Store interface; the HTTP implementation lives
// in internal/secapi.
package rbac

import "time"

// User is a principal known to the backing cluster.
type User struct {
	Username string `json:"username"`
	// Password is write-only: it is sent on create/password-reset and never
	// returned by reads.
	Password string   `json:"password,omitempty"`
	FullName string   `json:"full_name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
}

// Role groups cluster privileges and index privilege entries.
type Role struct {
	Name     string                `json:"name"`
	Cluster  []string              `json:"cluster"`
	Indices  []IndexPrivilegeEntry `json:"indices"`
	Metadata map[string]any        `json:"metadata,omitempty"`
}

// IndexPrivilegeEntry authorizes a set of actions against index names
// matching any of the glob patterns in Names.
type IndexPrivilegeEntry struct {
	Names         []string       `json:"names"`
	Privileges    []string       `json:"privileges"`
	FieldSecurity *FieldSecurity `json:"field_security,omitempty"`
	// Query is an opaque document-level-security filter.
	Query string `json:"query,omitempty"`
}

// FieldSecurity restricts which document fields reads may see.
type FieldSecurity struct {
	Grant  []string `json:"grant,omitempty"`
	Except []string `json:"except,omitempty"`
}

// PrivilegeAll subsumes every other action for matching indices or, at
// cluster scope, short-circuits evaluation entirely.
const PrivilegeAll = "all"

// PrivilegeSuperuser is the built-in cluster-admin privilege.
const PrivilegeSuperuser = "superuser"

// Version is an optimistic-concurrency token returned by reads and required
// on writes. Writes with a stale token fail with ErrConflict.
type Version string

// VersionAny skips the concurrency check; used on blind creates.
const VersionAny Version = ""

// Outcome is the single-word result every mutating operation reports.
type Outcome string

const (
	// OutcomeChanged means the operation modified stored state.
	OutcomeChanged Outcome = "changed"
	// OutcomeSkipped means stored state already matched the desired state.
	OutcomeSkipped Outcome = "skipped"
)

// AuthInfo describes the principal the client is authenticated as.
type AuthInfo struct {
	Username string    `json:"username"`
	Roles    []string  `json:"roles"`
	Checked  time.Time `json:"checked"`
}
