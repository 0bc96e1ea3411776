package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Validation collects the outcome of validating events and chains.
// A zero Validation is successful.
type Validation struct {
	errors []string
}

func NewValidation() *Validation {
	return &Validation{}
}

// ValidationError returns a failed validation with a single formatted message.
func ValidationError(format string, args ...any) *Validation {
	v := &Validation{}
	v.AddError(format, args...)
	return v
}

func (v *Validation) AddError(format string, args ...any) {
	if len(args) == 0 {
		v.errors = append(v.errors, format)
		return
	}
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

// Add merges the messages of other, prefixing each message when prefix is set.
func (v *Validation) Add(other *Validation, prefix string) {
	if other == nil {
		return
	}
	for _, msg := range other.errors {
		if prefix != "" {
			msg = prefix + " " + msg
		}
		v.errors = append(v.errors, msg)
	}
}

func (v *Validation) Errors() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.errors))
	copy(out, v.errors)
	return out
}

func (v *Validation) Failed() bool {
	return v != nil && len(v.errors) > 0
}

func (v *Validation) Succeeded() bool {
	return !v.Failed()
}

// Err converts a failed validation into an error, or nil when it succeeded.
func (v *Validation) Err() error {
	if v.Succeeded() {
		return nil
	}
	return errors.New(strings.Join(v.errors, "\n"))
}
