package domain

import (
	"slices"
	"sort"
)

// Signing key roles of an identity.
const (
	SignKeyDefault = "default"
	SignKeyUser    = "user"
	SignKeySystem  = "system"
)

// Privilege grants write access to the fields of resources of a schema.
// A nil Only allows every field; Not lists fields that are always denied.
type Privilege struct {
	Schema string   `json:"schema,omitempty"`
	Only   []string `json:"only"`
	Not    []string `json:"not,omitempty"`
}

// Allows reports whether field may be written under the privilege.
func (p Privilege) Allows(field string) bool {
	if slices.Contains(p.Not, field) {
		return false
	}
	return p.Only == nil || slices.Contains(p.Only, field)
}

// ConsolidatePrivileges merges grants into one effective privilege for schema.
// Allowed fields are the union of all grants, and a field denied by any grant stays denied.
// The result doesn't depend on the order of the grants.
func ConsolidatePrivileges(schema string, privileges []Privilege) Privilege {
	result := Privilege{Schema: schema}
	if len(privileges) == 0 {
		return result
	}

	unrestricted := false
	only := map[string]struct{}{}
	not := map[string]struct{}{}

	for _, p := range privileges {
		if p.Only == nil {
			unrestricted = true
		}
		for _, field := range p.Only {
			only[field] = struct{}{}
		}
		for _, field := range p.Not {
			not[field] = struct{}{}
		}
	}

	if !unrestricted {
		result.Only = sortedKeys(only)
	}
	if len(not) > 0 {
		result.Not = sortedKeys(not)
	}

	return result
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Identity is an actor that may add events to a chain.
type Identity struct {
	Schema     string            `json:"$schema"`
	ID         string            `json:"id"`
	Node       string            `json:"node,omitempty"`
	SignKeys   map[string]string `json:"signkeys"`
	EncryptKey string            `json:"encryptkey,omitempty"`
	Privileges []Privilege       `json:"privileges,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`

	identity *Identity
}

func (i *Identity) GetID() string     { return i.ID }
func (i *Identity) GetSchema() string { return i.Schema }

func (i *Identity) Validate() *Validation {
	v := NewValidation()
	if i.ID == "" {
		v.AddError("id is required")
	}
	if len(i.SignKeys) == 0 {
		v.AddError("signkeys is required")
	}
	for role, key := range i.SignKeys {
		if key == "" {
			v.AddError("signkey for role '%s' is empty", role)
		}
	}
	return v
}

func (i *Identity) ApplyPrivilege(p Privilege) error {
	authorizedBy := i.identity
	if err := applyPrivilegeTo(i, p); err != nil {
		return err
	}
	i.identity = authorizedBy
	return nil
}

func (i *Identity) SetIdentity(identity *Identity) { i.identity = identity }

// AuthorizedBy returns the identity that authorized the identity event.
func (i *Identity) AuthorizedBy() *Identity { return i.identity }

// HasSignKey reports whether any role of the identity uses key.
func (i *Identity) HasSignKey(key string) bool {
	for _, k := range i.SignKeys {
		if k == key {
			return true
		}
	}
	return false
}

// PrivilegesFor returns the grants of the identity that apply to schema.
// An identity without any privileges listed has full access.
func (i *Identity) PrivilegesFor(schema string) []Privilege {
	if len(i.Privileges) == 0 {
		return []Privilege{{Schema: schema}}
	}

	var out []Privilege
	for _, p := range i.Privileges {
		if p.Schema == "" || p.Schema == schema {
			out = append(out, p)
		}
	}
	return out
}

// IdentitySet is the set of identities of a chain, keyed on id.
type IdentitySet []*Identity

// Set adds the identity, replacing an identity with the same id.
func (s *IdentitySet) Set(identity *Identity) {
	for i, existing := range *s {
		if existing.ID == identity.ID {
			(*s)[i] = identity
			return
		}
	}
	*s = append(*s, identity)
}

func (s IdentitySet) Get(id string) (*Identity, bool) {
	for _, identity := range s {
		if identity.ID == id {
			return identity, true
		}
	}
	return nil, false
}

// FilterOnSignkey returns the identities that have key for any role.
func (s IdentitySet) FilterOnSignkey(key string) IdentitySet {
	var out IdentitySet
	for _, identity := range s {
		if identity.HasSignKey(key) {
			out = append(out, identity)
		}
	}
	return out
}

// GetPrivileges collects the grants of all identities in the set that apply to the resource.
func (s IdentitySet) GetPrivileges(resource Resource) []Privilege {
	var out []Privilege
	for _, identity := range s {
		out = append(out, identity.PrivilegesFor(resource.GetSchema())...)
	}
	return out
}

// Nodes returns the distinct nodes of the identities in set order.
func (s IdentitySet) Nodes() []string {
	var nodes []string
	for _, identity := range s {
		if identity.Node != "" && !slices.Contains(nodes, identity.Node) {
			nodes = append(nodes, identity.Node)
		}
	}
	return nodes
}

func (s IdentitySet) Clone() IdentitySet {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}
