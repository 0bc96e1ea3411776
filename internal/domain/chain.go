package domain

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/totegamma/eventchain"
)

// EventChain is an ordered list of events together with the state projected from them.
type EventChain struct {
	ID         string
	Events     []*Event
	Identities IdentitySet
	Comments   []*Comment
	Resources  []string
}

// NewEventChain returns an empty chain with the given id.
func NewEventChain(id string) *EventChain {
	return &EventChain{ID: id}
}

// InitialHash is the previous hash of the genesis event.
func (c *EventChain) InitialHash() string {
	return eventchain.HashBase58(eventchain.Base58Decode(c.ID))
}

// LatestHash returns the hash of the last event, or the initial hash of an empty chain.
func (c *EventChain) LatestHash() string {
	if c.IsEmpty() {
		return c.InitialHash()
	}
	return c.LastEvent().Hash
}

func (c *EventChain) IsEmpty() bool {
	return len(c.Events) == 0
}

// IsPartial reports whether the chain is missing its genesis event.
func (c *EventChain) IsPartial() bool {
	return !c.IsEmpty() && c.FirstEvent().Previous != c.InitialHash()
}

// FirstEvent returns nil for an empty chain.
func (c *EventChain) FirstEvent() *Event {
	if c.IsEmpty() {
		return nil
	}
	return c.Events[0]
}

// LastEvent returns nil for an empty chain.
func (c *EventChain) LastEvent() *Event {
	if c.IsEmpty() {
		return nil
	}
	return c.Events[len(c.Events)-1]
}

// IsValidID checks the id against the signkey of the first event.
func (c *EventChain) IsValidID() bool {
	if c.IsEmpty() {
		return false
	}
	return eventchain.IsValidChainID(c.ID, c.FirstEvent().SignKey)
}

func (c *EventChain) Validate() *Validation {
	v := NewValidation()

	if c.IsEmpty() {
		v.AddError("no events")
	} else if c.FirstEvent().Previous == c.InitialHash() && !c.IsValidID() {
		v.AddError("invalid id")
	}

	v.Add(c.ValidateIntegrity(), "")

	return v
}

// ValidateIntegrity reports every event that doesn't link to the one before it.
func (c *EventChain) ValidateIntegrity() *Validation {
	v := NewValidation()

	previous := ""
	for i, event := range c.Events {
		if i > 0 && event.Previous != previous {
			v.AddError("broken chain; previous of '%s' is '%s', expected '%s'", event.Hash, event.Previous, previous)
		}
		previous = event.Hash
	}

	return v
}

// EventsAfter returns the events following hash. The initial hash yields all events.
func (c *EventChain) EventsAfter(hash string) ([]*Event, error) {
	if hash == c.InitialHash() {
		return slices.Clone(c.Events), nil
	}

	for i, event := range c.Events {
		if event.Hash == hash {
			return slices.Clone(c.Events[i+1:]), nil
		}
	}

	return nil, NotFoundError{Resource: fmt.Sprintf("event '%s'", hash)}
}

// PartialAfter returns a partial chain holding the events after hash.
func (c *EventChain) PartialAfter(hash string) (*EventChain, error) {
	events, err := c.EventsAfter(hash)
	if err != nil {
		return nil, err
	}
	return c.WithEvents(events), nil
}

// WithoutEvents returns an empty chain with the same id.
func (c *EventChain) WithoutEvents() *EventChain {
	return NewEventChain(c.ID)
}

// WithEvents returns a copy of the chain with its events replaced.
func (c *EventChain) WithEvents(events []*Event) *EventChain {
	return &EventChain{
		ID:         c.ID,
		Events:     slices.Clone(events),
		Identities: c.Identities.Clone(),
		Comments:   slices.Clone(c.Comments),
		Resources:  slices.Clone(c.Resources),
	}
}

// Clone returns a copy of the chain. Events are shared since they are immutable.
func (c *EventChain) Clone() *EventChain {
	return c.WithEvents(c.Events)
}

// AddEvent appends the event without any checks.
func (c *EventChain) AddEvent(event *Event) {
	c.Events = append(c.Events, event)
}

// RegisterResource projects the resource onto the chain.
func (c *EventChain) RegisterResource(resource Resource) {
	switch r := resource.(type) {
	case *Identity:
		c.Identities.Set(r)
	case *Comment:
		c.Comments = append(c.Comments, r)
	default:
		id := eventchain.StripVersion(resource.GetID())
		if id != "" && !slices.Contains(c.Resources, id) {
			c.Resources = append(c.Resources, id)
		}
	}
}

// Nodes returns every node of the chain identities.
func (c *EventChain) Nodes() []string {
	return c.Identities.Nodes()
}

func (c *EventChain) nodesForRole(role, signkey string) []string {
	var nodes []string
	for _, identity := range c.Identities {
		key, ok := identity.SignKeys[role]
		if !ok || key != signkey || identity.Node == "" {
			continue
		}
		if !slices.Contains(nodes, identity.Node) {
			nodes = append(nodes, identity.Node)
		}
	}
	return nodes
}

// NodesForSystem returns the nodes of identities using signkey as system key.
func (c *EventChain) NodesForSystem(signkey string) []string {
	return c.nodesForRole(SignKeySystem, signkey)
}

// NodesForUser returns the nodes of identities using signkey as user key.
func (c *EventChain) NodesForUser(signkey string) []string {
	return c.nodesForRole(SignKeyUser, signkey)
}

func (c *EventChain) HasNodesForUserAndSystem(signkey, node string) bool {
	return slices.Contains(c.NodesForUser(signkey), node) || slices.Contains(c.NodesForSystem(signkey), node)
}

// HasSystemKeyForIdentity reports whether an identity with the user key delegates to the system key.
func (c *EventChain) HasSystemKeyForIdentity(userSignKey, systemSignKey string) bool {
	for _, identity := range c.Identities {
		if identity.SignKeys[SignKeyUser] == userSignKey && identity.SignKeys[SignKeySystem] == systemSignKey {
			return true
		}
	}
	return false
}

// IsEventSignedByAccount reports whether the event was signed by the account directly or
// through an identity that uses the account as system key.
func (c *EventChain) IsEventSignedByAccount(event *Event, account Signer) bool {
	key := account.PublicSignKey()
	return event.SignKey == key || c.HasSystemKeyForIdentity(event.SignKey, key)
}

// IsEventSignedByIdentityNode reports whether the signer of the event is an identity on node.
// The origin of the event is used when node is empty.
func (c *EventChain) IsEventSignedByIdentityNode(event *Event, node string) bool {
	if node == "" {
		node = event.Origin
	}
	return node != "" && c.HasNodesForUserAndSystem(event.SignKey, node)
}

type eventChainJSON struct {
	ID         string      `json:"id"`
	Events     []*Event    `json:"events"`
	Identities IdentitySet `json:"identities"`
	Comments   []*Comment  `json:"comments,omitempty"`
	Resources  []string    `json:"resources"`
	LatestHash string      `json:"latest_hash,omitempty"`
}

func (c *EventChain) MarshalJSON() ([]byte, error) {
	j := eventChainJSON{
		ID:         c.ID,
		Events:     c.Events,
		Identities: c.Identities,
		Comments:   c.Comments,
		Resources:  c.Resources,
	}
	if j.Events == nil {
		j.Events = []*Event{}
	}
	if j.Identities == nil {
		j.Identities = IdentitySet{}
	}
	if j.Resources == nil {
		j.Resources = []string{}
	}
	return json.Marshal(j)
}

func (c *EventChain) UnmarshalJSON(data []byte) error {
	var j eventChainJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	c.ID = j.ID
	c.Events = j.Events
	c.Identities = j.Identities
	c.Comments = j.Comments
	c.Resources = j.Resources
	return nil
}

// MarshalWithLatestHash encodes the chain without events, carrying the latest hash instead.
func (c *EventChain) MarshalWithLatestHash() ([]byte, error) {
	j := eventChainJSON{
		ID:         c.ID,
		Events:     []*Event{},
		Identities: c.Identities,
		Comments:   c.Comments,
		Resources:  c.Resources,
		LatestHash: c.LatestHash(),
	}
	if j.Identities == nil {
		j.Identities = IdentitySet{}
	}
	if j.Resources == nil {
		j.Resources = []string{}
	}
	return json.Marshal(j)
}
