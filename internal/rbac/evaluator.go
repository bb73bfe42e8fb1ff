package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clustersec.org/internal/config"
	"clustersec.org/internal/obs"
)

// Decision is the result of one permission evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Evaluator answers "can user U perform privileges P on index I". It reads
// through the store on every call, so privilege changes take effect on the
// next evaluation with no propagation delay.
type Evaluator struct {
	store Store
	mode  config.EvaluationMode
}

// NewEvaluator constructs an Evaluator. mode selects how privileges combine
// across a user's roles; ModePerRole preserves the original tooling's
// semantics and is the default elsewhere in the engine.
func NewEvaluator(store Store, mode config.EvaluationMode) (*Evaluator, error) {
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	switch mode {
	case config.ModePerRole, config.ModeGlobalUnion:
	default:
		return nil, fmt.Errorf("rbac: unsupported evaluation mode %q", mode)
	}
	return &Evaluator{store: store, mode: mode}, nil
}

// Evaluate decides whether username may perform all of required against
// targetIndex. An unknown principal is a deny, not an error; a store failure
// is an error, never a deny.
func (e *Evaluator) Evaluate(ctx context.Context, username, targetIndex string, required []string) (Decision, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(targetIndex) == "" || len(required) == 0 {
		return Decision{}, fmt.Errorf("%w: username, index and privileges are required", ErrInvalid)
	}
	user, _, err := e.store.GetUser(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return e.decide(Decision{Allowed: false, Reason: "unknown principal"}), nil
	}
	if err != nil {
		return Decision{}, err
	}

	switch e.mode {
	case config.ModeGlobalUnion:
		return e.evaluateGlobalUnion(ctx, user, targetIndex, required)
	default:
		return e.evaluatePerRole(ctx, user, targetIndex, required)
	}
}

// evaluatePerRole requires a single role to satisfy the whole requested
// privilege set. A user whose role A grants read and role B grants write on
// the same pattern is denied read+write together; this is the documented
// policy of the per-role mode, guarded by a regression test.
func (e *Evaluator) evaluatePerRole(ctx context.Context, user User, targetIndex string, required []string) (Decision, error) {
	for _, roleName := range user.Roles {
		role, err := e.store.GetRole(ctx, roleName)
		if errors.Is(err, ErrNotFound) {
			// Dangling assignment grants nothing.
			continue
		}
		if err != nil {
			return Decision{}, err
		}
		if hasClusterAdmin(role) {
			return e.decide(Decision{Allowed: true, Reason: fmt.Sprintf("role %s holds cluster privilege %q", role.Name, PrivilegeAll)}), nil
		}
		for _, entry := range role.Indices {
			if entryAllows(entry, targetIndex, required) {
				return e.decide(Decision{Allowed: true, Reason: fmt.Sprintf("role %s grants %v on %v", role.Name, entry.Privileges, entry.Names)}), nil
			}
		}
	}
	return e.decide(Decision{Allowed: false, Reason: "no role satisfies the requested privileges"}), nil
}

// evaluateGlobalUnion satisfies the request from the union of privileges all
// roles grant on entries matching the target index.
func (e *Evaluator) evaluateGlobalUnion(ctx context.Context, user User, targetIndex string, required []string) (Decision, error) {
	granted := make(map[string]struct{})
	for _, roleName := range user.Roles {
		role, err := e.store.GetRole(ctx, roleName)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Decision{}, err
		}
		if hasClusterAdmin(role) {
			return e.decide(Decision{Allowed: true, Reason: fmt.Sprintf("role %s holds cluster privilege %q", role.Name, PrivilegeAll)}), nil
		}
		for _, entry := range role.Indices {
			if !entryMatches(entry, targetIndex) {
				continue
			}
			for _, p := range entry.Privileges {
				granted[p] = struct{}{}
			}
		}
	}
	if _, ok := granted[PrivilegeAll]; ok {
		return e.decide(Decision{Allowed: true, Reason: "combined roles grant all actions on the index"}), nil
	}
	for _, p := range required {
		if _, ok := granted[p]; !ok {
			return e.decide(Decision{Allowed: false, Reason: fmt.Sprintf("privilege %q not granted by any role", p)}), nil
		}
	}
	return e.decide(Decision{Allowed: true, Reason: "combined roles grant the requested privileges"}), nil
}

func (e *Evaluator) decide(d Decision) Decision {
	obs.CountEvaluation(d.Allowed)
	return d
}

func hasClusterAdmin(role Role) bool {
	for _, p := range role.Cluster {
		if p == PrivilegeAll || p == PrivilegeSuperuser {
			return true
		}
	}
	return false
}

func entryMatches(entry IndexPrivilegeEntry, targetIndex string) bool {
	for _, pattern := range entry.Names {
		if MatchPattern(pattern, targetIndex) {
			return true
		}
	}
	return false
}

func entryAllows(entry IndexPrivilegeEntry, targetIndex string, required []string) bool {
	if !entryMatches(entry, targetIndex) {
		return false
	}
	actions := make(map[string]struct{}, len(entry.Privileges))
	for _, p := range entry.Privileges {
		if p == PrivilegeAll {
			return true
		}
		actions[p] = struct{}{}
	}
	for _, p := range required {
		if _, ok := actions[p]; !ok {
			return false
		}
	}
	return true
}

// MatchPattern reports whether name matches the glob pattern. Only "*" is
// special; it matches any run of characters, including none. Matching is
// case-sensitive and single-pass over the input, so patterns are data, never
// compiled code.
func MatchPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	var pi, ni int
	star, backtrack := -1, 0
	for ni < len(name) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			backtrack = ni
			pi++
		case pi < len(pattern) && pattern[pi] == name[ni]:
			pi++
			ni++
		case star >= 0:
			backtrack++
			ni = backtrack
			pi = star + 1
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
