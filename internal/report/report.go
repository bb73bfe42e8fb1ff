// Package report produces one-shot permission and security-audit artifacts
// from current cluster state. Output is written to a temp file and renamed
// into place so a cancelled generation never leaves partial output visible.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"clustersec.org/internal/certs"
	"clustersec.org/internal/ids"
	"clustersec.org/internal/rbac"
)

// Kind selects which artifact to generate.
type Kind string

const (
	// KindPermissions is the HTML users-by-roles-by-privileges table.
	KindPermissions Kind = "permissions"
	// KindSecurityAudit is the JSON bundle of certificate statuses and the
	// current role/privilege snapshot.
	KindSecurityAudit Kind = "security-audit"
)

// Generator aggregates state from the store and certificate manager.
type Generator struct {
	store rbac.Store
	certs *certs.Manager
	dir   string
	now   func() time.Time
}

// NewGenerator writes artifacts under dir.
func NewGenerator(store rbac.Store, certManager *certs.Manager, dir string) (*Generator, error) {
	if store == nil {
		return nil, errors.New("report: store is required")
	}
	if dir == "" {
		return nil, errors.New("report: output directory is required")
	}
	return &Generator{store: store, certs: certManager, dir: dir, now: time.Now}, nil
}

// GenerateReport produces the artifact for kind and returns its path.
func (g *Generator) GenerateReport(ctx context.Context, kind Kind) (string, error) {
	switch kind {
	case KindPermissions:
		return g.generatePermissions(ctx)
	case KindSecurityAudit:
		return g.generateSecurityAudit(ctx)
	default:
		return "", fmt.Errorf("report: unknown kind %q", kind)
	}
}

type userRow struct {
	Username string
	FullName string
	Roles    []roleRow
}

type roleRow struct {
	Name    string
	Cluster []string
	Indices []rbac.IndexPrivilegeEntry
	Missing bool
}

var permissionsTemplate = template.Must(template.New("permissions").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Permissions report</title></head>
<body>
<h1>Permissions report</h1>
<p>Generated {{.GeneratedAt}}</p>
<table border="1" cellpadding="4">
<tr><th>User</th><th>Role</th><th>Cluster privileges</th><th>Index privileges</th></tr>
{{range .Users}}{{$user := .}}{{if .Roles}}{{range .Roles}}
<tr>
<td>{{$user.Username}}</td>
<td>{{.Name}}{{if .Missing}} (missing){{end}}</td>
<td>{{range .Cluster}}{{.}} {{end}}</td>
<td>{{range .Indices}}{{range .Names}}{{.}} {{end}}&rarr; {{range .Privileges}}{{.}} {{end}}<br>{{end}}</td>
</tr>
{{end}}{{else}}
<tr><td>{{.Username}}</td><td colspan="3">no roles (no effective privileges)</td></tr>
{{end}}{{end}}
</table>
</body>
</html>
`))

func (g *Generator) generatePermissions(ctx context.Context) (string, error) {
	users, err := g.store.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	roles, err := g.store.ListRoles(ctx)
	if err != nil {
		return "", err
	}
	byName := make(map[string]rbac.Role, len(roles))
	for _, r := range roles {
		byName[r.Name] = r
	}

	rows := make([]userRow, 0, len(users))
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		row := userRow{Username: u.Username, FullName: u.FullName}
		for _, name := range u.Roles {
			role, ok := byName[name]
			if !ok {
				row.Roles = append(row.Roles, roleRow{Name: name, Missing: true})
				continue
			}
			row.Roles = append(row.Roles, roleRow{
				Name:    role.Name,
				Cluster: role.Cluster,
				Indices: role.Indices,
			})
		}
		rows = append(rows, row)
	}

	data := struct {
		GeneratedAt string
		Users       []userRow
	}{
		GeneratedAt: g.now().UTC().Format(time.RFC3339),
		Users:       rows,
	}
	path := filepath.Join(g.dir, fmt.Sprintf("permissions-%s.html", ids.New()))
	return path, g.writeAtomic(ctx, path, func(f *os.File) error {
		return permissionsTemplate.Execute(f, data)
	})
}

// SecurityAudit is the machine-readable audit bundle.
type SecurityAudit struct {
	GeneratedAt  time.Time              `json:"generated_at"`
	Certificates []certs.ValidityReport `json:"certificates"`
	Roles        []rbac.Role            `json:"roles"`
	Users        []auditUser            `json:"users"`
}

type auditUser struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

func (g *Generator) generateSecurityAudit(ctx context.Context) (string, error) {
	bundle := SecurityAudit{GeneratedAt: g.now().UTC()}

	if g.certs != nil {
		reports, err := g.certs.VerifyAll()
		if err != nil {
			return "", err
		}
		bundle.Certificates = reports
	}
	roles, err := g.store.ListRoles(ctx)
	if err != nil {
		return "", err
	}
	bundle.Roles = roles
	users, err := g.store.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		bundle.Users = append(bundle.Users, auditUser{Username: u.Username, Roles: u.Roles})
	}

	path := filepath.Join(g.dir, fmt.Sprintf("security-audit-%s.json", ids.New()))
	return path, g.writeAtomic(ctx, path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(bundle)
	})
}

// writeAtomic writes via a temp file in the same directory and renames it
// into place, removing the temp file on any failure or cancellation.
func (g *Generator) writeAtomic(ctx context.Context, path string, write func(*os.File) error) error {
	if err := os.MkdirAll(g.dir, 0o750); err != nil {
		return fmt.Errorf("report: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(g.dir, ".report-*")
	if err != nil {
		return fmt.Errorf("report: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
