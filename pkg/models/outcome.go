package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrConfiguration marks a fatal failure caused by an incomplete deployment:
// a group, classification entity or schema member the handler relies on does
// not exist on the host.
var ErrConfiguration = errors.New("deployment configuration incomplete")

// ConfigurationError names the reference object that could not be found.
type ConfigurationError struct {
	Object string // e.g. "user group", "relation"
	Name   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Object, e.Name)
}

// Unwrap lets errors.Is match ErrConfiguration.
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// OutcomeKind is the variant tag of an Outcome.
type OutcomeKind int

const (
	OutcomeAllow OutcomeKind = iota
	OutcomeAllowWithMutation
	OutcomeReject
	OutcomeFatal
)

// String returns the wire name of the kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAllow:
		return "allow"
	case OutcomeAllowWithMutation:
		return "allow_with_mutation"
	case OutcomeReject:
		return "reject"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OutcomeKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "allow":
		*k = OutcomeAllow
	case "allow_with_mutation":
		*k = OutcomeAllowWithMutation
	case "reject":
		*k = OutcomeReject
	case "fatal":
		*k = OutcomeFatal
	default:
		return fmt.Errorf("unknown outcome kind %q", string(b))
	}
	return nil
}

// RejectKind separates authorization denials from data validation failures.
type RejectKind string

const (
	RejectForbidden  RejectKind = "forbidden"
	RejectValidation RejectKind = "validation"
)

// ValidationFailure is a single validation message with the offending value.
type ValidationFailure struct {
	Message string `json:"message"`
	Value   string `json:"value"`
}

// MutationKind tells the host how to apply a Mutation.
type MutationKind string

const (
	MutationSetParent   MutationKind = "set_parent"
	MutationSetParents  MutationKind = "set_parents"
	MutationSetProperty MutationKind = "set_property"
)

// Mutation is a single field or relation assignment on an entity.
type Mutation struct {
	Kind     MutationKind `json:"kind"`
	EntityID int64        `json:"entity_id"`
	Member   string       `json:"member"` // relation or property name
	Parent   int64        `json:"parent,omitempty"`
	Parents  []int64      `json:"parents,omitempty"`
	Value    any          `json:"value,omitempty"`
}

// Outcome is what a handler decides for one event.
type Outcome struct {
	Kind       OutcomeKind         `json:"kind"`
	Mutations  []Mutation          `json:"mutations,omitempty"`
	Persisted  bool                `json:"persisted,omitempty"` // mutations were already saved by the handler
	RejectKind RejectKind          `json:"reject_kind,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Failures   []ValidationFailure `json:"failures,omitempty"`
	Cause      error               `json:"-"`
}

// Allow lets the event proceed unchanged.
func Allow() Outcome {
	return Outcome{Kind: OutcomeAllow}
}

// Mutate lets the event proceed and asks the host to apply mutations together
// with the triggering operation.
func Mutate(mutations ...Mutation) Outcome {
	if len(mutations) == 0 {
		return Allow()
	}
	return Outcome{Kind: OutcomeAllowWithMutation, Mutations: mutations}
}

// Persisted reports mutations the handler has already saved itself.
func Persisted(mutations ...Mutation) Outcome {
	o := Mutate(mutations...)
	o.Persisted = o.Kind == OutcomeAllowWithMutation
	return o
}

// Forbidden blocks the event for an authorization reason.
func Forbidden(reason string) Outcome {
	return Outcome{Kind: OutcomeReject, RejectKind: RejectForbidden, Reason: reason}
}

// Invalid blocks the event for a data validation reason.
func Invalid(reason string, failures ...ValidationFailure) Outcome {
	return Outcome{Kind: OutcomeReject, RejectKind: RejectValidation, Reason: reason, Failures: failures}
}

// Fatal aborts the event because the handler could not run to completion.
func Fatal(cause error) Outcome {
	if cause == nil {
		cause = errors.New("fatal outcome without cause")
	}
	return Outcome{Kind: OutcomeFatal, Reason: cause.Error(), Cause: cause}
}

// Blocking reports whether the outcome prevents the triggering operation from committing.
func (o Outcome) Blocking() bool {
	return o.Kind == OutcomeReject || o.Kind == OutcomeFatal
}

// IsConfigurationError reports whether a fatal outcome was caused by an
// incomplete deployment.
func (o Outcome) IsConfigurationError() bool {
	return o.Kind == OutcomeFatal && errors.Is(o.Cause, ErrConfiguration)
}

// String returns a short human readable summary.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeAllowWithMutation:
		return fmt.Sprintf("%s (%d mutations)", o.Kind, len(o.Mutations))
	case OutcomeReject:
		return fmt.Sprintf("%s/%s: %s", o.Kind, o.RejectKind, o.Reason)
	case OutcomeFatal:
		return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
	default:
		return o.Kind.String()
	}
}

// outcomeJSON is the wire shape; the fatal cause travels as its message only.
type outcomeJSON Outcome

// UnmarshalJSON restores Cause from Reason for fatal outcomes received over the wire.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var w outcomeJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = Outcome(w)
	if o.Kind == OutcomeFatal && o.Cause == nil {
		o.Cause = errors.New(o.Reason)
	}
	return nil
}
