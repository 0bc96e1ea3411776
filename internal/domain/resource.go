package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"

	"github.com/totegamma/eventchain"
)

// Resource is the projection of an event body that has to be authorized and stored.
type Resource interface {
	GetID() string
	GetSchema() string
	Validate() *Validation
	ApplyPrivilege(p Privilege) error
	SetIdentity(identity *Identity)
}

// alwaysKept lists fields that survive privilege filtering.
var alwaysKept = []string{"$schema", "id", "timestamp", "identity"}

func filterFields(values map[string]any, p Privilege) map[string]any {
	out := make(map[string]any, len(values))
	for field, value := range values {
		keep := p.Allows(field)
		for _, k := range alwaysKept {
			if field == k {
				keep = true
			}
		}
		if keep {
			out[field] = value
		}
	}
	return out
}

// applyPrivilegeTo filters the JSON fields of target in place.
func applyPrivilegeTo[T any](target *T, p Privilege) error {
	raw, err := json.Marshal(target)
	if err != nil {
		return err
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return err
	}
	filtered, err := json.Marshal(filterFields(values, p))
	if err != nil {
		return err
	}
	var out T
	if err := json.Unmarshal(filtered, &out); err != nil {
		return err
	}
	*target = out
	return nil
}

// Comment is a free text note embedded in the chain.
type Comment struct {
	Schema    string `json:"$schema"`
	Comment   string `json:"comment"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// Identity is the identity that wrote the comment.
	Identity *Identity `json:"identity,omitempty"`
}

func (c *Comment) GetID() string     { return "" }
func (c *Comment) GetSchema() string { return c.Schema }

func (c *Comment) Validate() *Validation {
	v := NewValidation()
	if c.Comment == "" {
		v.AddError("comment is required")
	}
	return v
}

func (c *Comment) ApplyPrivilege(p Privilege) error {
	identity := c.Identity
	if err := applyPrivilegeTo(c, p); err != nil {
		return err
	}
	c.Identity = identity
	return nil
}

func (c *Comment) SetIdentity(identity *Identity) { c.Identity = identity }

// GenericResource is any resource without a dedicated variant. It is projected in the chain only.
type GenericResource struct {
	Values map[string]any

	identity *Identity
}

func (r *GenericResource) GetID() string {
	id, _ := r.Values["id"].(string)
	return id
}

func (r *GenericResource) GetSchema() string {
	schema, _ := r.Values["$schema"].(string)
	return schema
}

func (r *GenericResource) Validate() *Validation {
	return NewValidation()
}

func (r *GenericResource) ApplyPrivilege(p Privilege) error {
	r.Values = filterFields(r.Values, p)
	return nil
}

func (r *GenericResource) SetIdentity(identity *Identity) { r.identity = identity }

func (r *GenericResource) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Values)
}

// ExternalResource is stored by an external service. Its id carries a version argument
// derived from the body.
type ExternalResource struct {
	Values  map[string]any
	Version string

	identity *Identity
}

func (r *ExternalResource) GetID() string {
	id, _ := r.Values["id"].(string)
	if id == "" {
		return ""
	}
	return eventchain.WithVersion(id, r.Version)
}

func (r *ExternalResource) GetSchema() string {
	schema, _ := r.Values["$schema"].(string)
	return schema
}

func (r *ExternalResource) Validate() *Validation {
	v := NewValidation()
	if id, _ := r.Values["id"].(string); id == "" {
		v.AddError("id is required")
	}
	return v
}

func (r *ExternalResource) ApplyPrivilege(p Privilege) error {
	r.Values = filterFields(r.Values, p)
	return nil
}

func (r *ExternalResource) SetIdentity(identity *Identity) { r.identity = identity }

// Identity returns the identity that authorized the resource.
func (r *ExternalResource) Identity() *Identity { return r.identity }

// MarshalJSON emits the body with the versioned id and the authorizing identity.
func (r *ExternalResource) MarshalJSON() ([]byte, error) {
	values := maps.Clone(r.Values)
	if values == nil {
		values = map[string]any{}
	}
	if id := r.GetID(); id != "" {
		values["id"] = id
	}
	if r.identity != nil {
		values["identity"] = r.identity
	}
	return json.Marshal(values)
}

// VersionFrom derives the version argument of an external resource from the encoded event body.
func VersionFrom(encodedBody string) string {
	return eventchain.Base58Encode(eventchain.GetHash([]byte(encodedBody))[:6])
}

// Resource kinds selected by the type segment of the schema uri.
const (
	KindIdentity = "identity"
	KindComment  = "comment"
	KindExternal = "external"
	KindGeneric  = "generic"
)

var schemaType = regexp.MustCompile(`^https://specs\.livecontracts\.io/[^/]+/([^/]+)/schema\.json#$`)

// ResourceFactory extracts resources from events, choosing the variant by schema.
type ResourceFactory struct {
	kinds map[string]string
}

func NewResourceFactory() *ResourceFactory {
	return &ResourceFactory{
		kinds: map[string]string{
			"identity": KindIdentity,
			"comment":  KindComment,
			"scenario": KindExternal,
			"process":  KindExternal,
			"document": KindExternal,
			"form":     KindExternal,
			"response": KindExternal,
		},
	}
}

// Register maps a schema type to a resource kind.
func (f *ResourceFactory) Register(schemaTypeName, kind string) {
	f.kinds[schemaTypeName] = kind
}

// KindOf returns the resource kind for a schema uri, defaulting to KindGeneric.
func (f *ResourceFactory) KindOf(schema string) string {
	m := schemaType.FindStringSubmatch(schema)
	if m == nil {
		return KindGeneric
	}
	kind, ok := f.kinds[m[1]]
	if !ok {
		return KindGeneric
	}
	return kind
}

// ExtractFrom builds the resource described by the event body.
func (f *ResourceFactory) ExtractFrom(event *Event) (Resource, error) {
	body := event.GetBody()
	if body == nil {
		return nil, fmt.Errorf("%s has no decodable body", event)
	}
	schema, _ := body["$schema"].(string)
	body["timestamp"] = event.Timestamp

	switch f.KindOf(schema) {
	case KindIdentity:
		identity := &Identity{}
		if err := fromValues(body, identity); err != nil {
			return nil, fmt.Errorf("invalid identity in %s: %w", event, err)
		}
		return identity, nil
	case KindComment:
		comment := &Comment{}
		if err := fromValues(body, comment); err != nil {
			return nil, fmt.Errorf("invalid comment in %s: %w", event, err)
		}
		return comment, nil
	case KindExternal:
		return &ExternalResource{Values: body, Version: VersionFrom(event.Body)}, nil
	default:
		return &GenericResource{Values: body}, nil
	}
}

func fromValues(values map[string]any, target any) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
