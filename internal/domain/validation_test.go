package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidation(t *testing.T) {
	v := NewValidation()
	assert.True(t, v.Succeeded())
	assert.NoError(t, v.Err())

	v.AddError("plain")
	v.AddError("event '%s' doesn't fit on chain", "abc")
	v.Add(ValidationError("invalid hash"), "original event;")
	v.Add(nil, "ignored")
	v.Add(NewValidation(), "ignored")

	assert.True(t, v.Failed())
	assert.Equal(t, []string{
		"plain",
		"event 'abc' doesn't fit on chain",
		"original event; invalid hash",
	}, v.Errors())
	assert.EqualError(t, v.Err(), "plain\nevent 'abc' doesn't fit on chain\noriginal event; invalid hash")

	var nilValidation *Validation
	assert.True(t, nilValidation.Succeeded())
	assert.Nil(t, nilValidation.Errors())
}

func TestUnresolvableConflictError(t *testing.T) {
	ours := NewEventChain("chain")

	notAnchored := &UnresolvableConflictError{Ours: ours, NotAnchored: true}
	assert.True(t, errors.Is(notAnchored, ErrNotAnchored))
	assert.EqualError(t, notAnchored, "failed to resolve conflict for chain 'chain'; event is not anchored yet")

	other := &UnresolvableConflictError{Ours: ours, Cause: errors.New("boom")}
	assert.False(t, errors.Is(other, ErrNotAnchored))
	assert.True(t, errors.Is(other, &UnresolvableConflictError{}))
	assert.EqualError(t, other, "failed to resolve conflict for chain 'chain': boom")
}
