package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/totegamma/eventchain"
)

// Signer signs event messages. eventchain.Account implements it.
type Signer interface {
	PublicSignKey() string
	Sign(message []byte) []byte
}

// Event is a signed, hash-linked entry of an event chain.
// Events are created through Draft.Sign or by decoding and are never modified afterwards.
type Event struct {
	Origin    string
	Body      string
	Timestamp int64
	Previous  string
	SignKey   string
	Signature string
	Hash      string
	Receipt   *Receipt

	// Original is the event this one was stitched from during a rebase.
	Original *Event

	decoded atomic.Pointer[decodedBody]
}

type decodedBody struct {
	body map[string]any
}

// Draft holds the unsigned content of an event.
type Draft struct {
	Origin    string
	Body      string
	Timestamp int64
	Previous  string
	Original  *Event
}

// EncodeBody serializes v as base58 encoded JSON.
func EncodeBody(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return eventchain.Base58Encode(b), nil
}

// Sign returns the immutable event for the draft, signed by signer.
func (d Draft) Sign(signer Signer) *Event {
	e := &Event{
		Origin:    d.Origin,
		Body:      d.Body,
		Timestamp: d.Timestamp,
		Previous:  d.Previous,
		SignKey:   signer.PublicSignKey(),
		Original:  d.Original,
	}

	message := e.Message()
	e.Signature = eventchain.Base58Encode(signer.Sign(message))
	e.Hash = eventchain.HashBase58(message)

	return e
}

// Message returns the canonical message used for the hash and signature.
func (e *Event) Message() []byte {
	parts := []string{
		e.Body,
		strconv.FormatInt(e.Timestamp, 10),
		e.Previous,
		e.SignKey,
	}
	if e.Original != nil {
		parts = append(parts, e.Original.Hash)
	}
	return []byte(strings.Join(parts, "\n"))
}

// GetHash recomputes the base58 encoded hash of the event.
func (e *Event) GetHash() string {
	return eventchain.HashBase58(e.Message())
}

// GetBody returns the decoded body, or nil if the body is unset or not base58 encoded JSON.
func (e *Event) GetBody() map[string]any {
	cached := e.decoded.Load()
	if cached == nil {
		cached = &decodedBody{body: decodeBody(e.Body)}
		e.decoded.Store(cached)
	}

	if cached.body == nil {
		return nil
	}
	return maps.Clone(cached.body)
}

func decodeBody(encoded string) map[string]any {
	raw := eventchain.Base58Decode(encoded)
	if raw == nil {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	return body
}

// Schema returns the $schema of the body, or an empty string.
func (e *Event) Schema() string {
	body := e.GetBody()
	if body == nil {
		return ""
	}
	schema, _ := body["$schema"].(string)
	return schema
}

func (e *Event) VerifySignature() bool {
	return eventchain.VerifySignature(e.SignKey, e.Signature, e.Message())
}

func (e *Event) Validate() *Validation {
	v := NewValidation()

	required := []struct {
		name  string
		isSet bool
	}{
		{"body", e.Body != ""},
		{"timestamp", e.Timestamp != 0},
		{"previous", e.Previous != ""},
		{"signkey", e.SignKey != ""},
		{"signature", e.Signature != ""},
		{"hash", e.Hash != ""},
	}
	for _, field := range required {
		if !field.isSet {
			v.AddError("%s is required", field.name)
		}
	}

	body := e.GetBody()
	if e.Body != "" && body == nil {
		v.AddError("body is not base58 encoded json")
	}
	if body != nil {
		if _, ok := body["$schema"]; !ok {
			v.AddError("body does not contain the $schema property")
		}
	}

	if e.Signature != "" && !e.VerifySignature() {
		v.AddError("invalid signature")
	}

	if e.Hash != "" && e.GetHash() != e.Hash {
		v.AddError("invalid hash")
	}

	if e.Original != nil {
		v.Add(e.Original.Validate(), "original event;")
	}

	if e.Receipt != nil {
		v.Add(e.Receipt.Validate(), "invalid receipt;")
		if e.Receipt.TargetHash != e.Hash {
			v.AddError("invalid receipt; hash doesn't match")
		}
	}

	return v
}

// WithReceipt returns a copy of the event carrying the anchoring receipt.
// The receipt is not part of the signed message.
func (e *Event) WithReceipt(receipt *Receipt) *Event {
	c := e.Clone()
	c.Receipt = receipt
	return c
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := &Event{
		Origin:    e.Origin,
		Body:      e.Body,
		Timestamp: e.Timestamp,
		Previous:  e.Previous,
		SignKey:   e.SignKey,
		Signature: e.Signature,
		Hash:      e.Hash,
		Original:  e.Original.Clone(),
	}
	if e.Receipt != nil {
		r := *e.Receipt
		r.Proof = append([]ReceiptStep(nil), e.Receipt.Proof...)
		c.Receipt = &r
	}
	return c
}

func (e *Event) String() string {
	return fmt.Sprintf("event '%s'", e.Hash)
}

type eventJSON struct {
	Origin    string     `json:"origin,omitempty"`
	Body      string     `json:"body,omitempty"`
	Timestamp int64      `json:"timestamp"`
	Previous  string     `json:"previous"`
	SignKey   string     `json:"signkey"`
	Signature string     `json:"signature"`
	Hash      string     `json:"hash"`
	Receipt   *Receipt   `json:"receipt,omitempty"`
	Original  *eventJSON `json:"original,omitempty"`
}

func toEventJSON(e *Event, nested bool) *eventJSON {
	if e == nil {
		return nil
	}
	j := &eventJSON{
		Timestamp: e.Timestamp,
		Previous:  e.Previous,
		SignKey:   e.SignKey,
		Signature: e.Signature,
		Hash:      e.Hash,
		Receipt:   e.Receipt,
		Original:  toEventJSON(e.Original, true),
	}
	// the original of a stitched event shares origin and body with it
	if !nested {
		j.Origin = e.Origin
		j.Body = e.Body
	}
	return j
}

func fromEventJSON(j *eventJSON, parent *eventJSON) *Event {
	if j == nil {
		return nil
	}
	e := &Event{
		Origin:    j.Origin,
		Body:      j.Body,
		Timestamp: j.Timestamp,
		Previous:  j.Previous,
		SignKey:   j.SignKey,
		Signature: j.Signature,
		Hash:      j.Hash,
		Receipt:   j.Receipt,
	}
	if parent != nil {
		if e.Origin == "" {
			e.Origin = parent.Origin
		}
		if e.Body == "" {
			e.Body = parent.Body
		}
	}
	e.Original = fromEventJSON(j.Original, &eventJSON{Origin: e.Origin, Body: e.Body})
	return e
}

func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(toEventJSON(e, false))
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var j eventJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	decoded := fromEventJSON(&j, nil)

	e.Origin = decoded.Origin
	e.Body = decoded.Body
	e.Timestamp = decoded.Timestamp
	e.Previous = decoded.Previous
	e.SignKey = decoded.SignKey
	e.Signature = decoded.Signature
	e.Hash = decoded.Hash
	e.Receipt = decoded.Receipt
	e.Original = decoded.Original
	e.decoded.Store(nil)

	return nil
}
