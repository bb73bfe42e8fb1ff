package secapi

import "clustersec.org/internal/rbac"

// Wire documents for the security API. The user endpoint keys documents by
// username and omits it from the body; the role endpoint does the same for
// role names.

type userDoc struct {
	Password string   `json:"password,omitempty"`
	FullName string   `json:"full_name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
}

func userDocument(u rbac.User) userDoc {
	return userDoc{
		Password: u.Password,
		FullName: u.FullName,
		Email:    u.Email,
		Roles:    u.Roles,
	}
}

func (d userDoc) toUser(username string) rbac.User {
	roles := d.Roles
	if roles == nil {
		roles = []string{}
	}
	return rbac.User{
		Username: username,
		FullName: d.FullName,
		Email:    d.Email,
		Roles:    roles,
	}
}

type roleDoc struct {
	Cluster  []string       `json:"cluster"`
	Indices  []indexDoc     `json:"indices"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type indexDoc struct {
	Names         []string  `json:"names"`
	Privileges    []string  `json:"privileges"`
	FieldSecurity *fieldDoc `json:"field_security,omitempty"`
	Query         string    `json:"query,omitempty"`
}

type fieldDoc struct {
	Grant  []string `json:"grant,omitempty"`
	Except []string `json:"except,omitempty"`
}

func roleDocument(r rbac.Role) roleDoc {
	doc := roleDoc{
		Cluster:  r.Cluster,
		Metadata: r.Metadata,
	}
	if doc.Cluster == nil {
		doc.Cluster = []string{}
	}
	doc.Indices = make([]indexDoc, 0, len(r.Indices))
	for _, e := range r.Indices {
		entry := indexDoc{
			Names:      e.Names,
			Privileges: e.Privileges,
			Query:      e.Query,
		}
		if e.FieldSecurity != nil {
			entry.FieldSecurity = &fieldDoc{Grant: e.FieldSecurity.Grant, Except: e.FieldSecurity.Except}
		}
		doc.Indices = append(doc.Indices, entry)
	}
	return doc
}

func (d roleDoc) toRole(name string) rbac.Role {
	role := rbac.Role{
		Name:     name,
		Cluster:  d.Cluster,
		Metadata: d.Metadata,
	}
	role.Indices = make([]rbac.IndexPrivilegeEntry, 0, len(d.Indices))
	for _, e := range d.Indices {
		entry := rbac.IndexPrivilegeEntry{
			Names:      e.Names,
			Privileges: e.Privileges,
			Query:      e.Query,
		}
		if e.FieldSecurity != nil {
			entry.FieldSecurity = &rbac.FieldSecurity{Grant: e.FieldSecurity.Grant, Except: e.FieldSecurity.Except}
		}
		role.Indices = append(role.Indices, entry)
	}
	return role
}
