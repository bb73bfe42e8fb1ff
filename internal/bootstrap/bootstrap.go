// Package bootstrap creates the default principals on a fresh cluster and
// writes their generated passwords to a write-once credentials file for
// immediate operator retrieval.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"clustersec.org/internal/audit"
	"clustersec.org/internal/rbac"
	"clustersec.org/internal/secrets"
)

// Default principal and role names.
const (
	AdminUserName   = "cs-admin"
	MonitorUserName = "cs-monitor"
	ProbeUserName   = "cs-probe"

	MonitorRoleName = "cs_monitor"
	ProbeRoleName   = "cs_probe"

	superuserRole = "superuser"
)

// defaultRoles are the custom roles bootstrap installs; the admin user rides
// on the built-in superuser role instead.
var defaultRoles = []rbac.Role{
	{
		Name:    MonitorRoleName,
		Cluster: []string{"monitor"},
	},
	{
		Name:    ProbeRoleName,
		Cluster: []string{"monitor"},
		Indices: []rbac.IndexPrivilegeEntry{
			{Names: []string{".probe-*"}, Privileges: []string{"read"}},
		},
	},
}

// Credential is one username/password pair written to the credentials file.
type Credential struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

type credentialsFile struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Credentials []Credential `json:"credentials"`
}

// ErrCredentialsExist means the credentials file is already present; the
// bootstrap refuses to overwrite it.
var ErrCredentialsExist = errors.New("bootstrap: credentials file already exists")

// EnsureDefaultPrincipals creates the default roles and users. It is meant
// for first-run: if the credentials file already exists the call fails with
// ErrCredentialsExist before any cluster mutation.
func EnsureDefaultPrincipals(ctx context.Context, store rbac.Store, log *audit.Logger, credentialsPath string) ([]Credential, error) {
	if store == nil || log == nil {
		return nil, errors.New("bootstrap: store and audit logger are required")
	}
	if _, err := os.Stat(credentialsPath); err == nil {
		return nil, ErrCredentialsExist
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("bootstrap: stat credentials file: %w", err)
	}

	for _, role := range defaultRoles {
		outcome, err := store.CreateOrUpdateRole(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: role %s: %w", role.Name, err)
		}
		if outcome == rbac.OutcomeChanged {
			log.Record(ctx, "bootstrap", "role.create", role.Name, "default role")
		}
	}

	users := []rbac.User{
		{Username: AdminUserName, FullName: "Cluster administrator", Roles: []string{superuserRole}},
		{Username: MonitorUserName, FullName: "Monitoring account", Roles: []string{MonitorRoleName}},
		{Username: ProbeUserName, FullName: "Health probe account", Roles: []string{ProbeRoleName}},
	}
	creds := make([]Credential, 0, len(users))
	for _, u := range users {
		password, err := secrets.NewPassword(secrets.DefaultPasswordLength)
		if err != nil {
			return nil, err
		}
		u.Password = password
		if _, err := store.CreateUser(ctx, u); err != nil {
			return nil, fmt.Errorf("bootstrap: user %s: %w", u.Username, err)
		}
		log.Record(ctx, "bootstrap", "user.create", u.Username, "default principal")
		creds = append(creds, Credential{Username: u.Username, Password: password, Roles: u.Roles})
	}

	if err := writeCredentials(credentialsPath, creds); err != nil {
		return nil, err
	}
	log.Record(ctx, "bootstrap", "credentials.write", credentialsPath,
		fmt.Sprintf("%d principals", len(creds)))
	return creds, nil
}

// writeCredentials creates the file exclusively with operator-only
// permissions; a concurrent bootstrap loses the O_EXCL race and errors out.
func writeCredentials(path string, creds []Credential) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrCredentialsExist
		}
		return fmt.Errorf("bootstrap: create credentials file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(credentialsFile{GeneratedAt: time.Now().UTC(), Credentials: creds}); err != nil {
		return fmt.Errorf("bootstrap: write credentials file: %w", err)
	}
	return nil
}
