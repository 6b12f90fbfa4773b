package farm

import "fmt"

// FallbackPriority is applied when an adapter advertises no default
// priority and the caller omits one.
const FallbackPriority = 50

// PriorityRange describes the priorities an adapter accepts. Zero Min/Max
// means the bound is not enforced.
type PriorityRange struct {
	Default int `json:"default"`
	Min     int `json:"min"`
	Max     int `json:"max"`
}

// Chunking describes frame-chunking support. When Enabled is false the
// adapter renders whole frame ranges and rejects explicit chunk sizes.
type Chunking struct {
	Enabled bool `json:"enabled"`
	Min     int  `json:"min,omitempty"`
	Max     int  `json:"max,omitempty"`
	Default int  `json:"default,omitempty"`
}

// Cancellation describes whether jobs can be cancelled after submission.
type Cancellation struct {
	Supported bool `json:"supported"`
}

// Capabilities is the declarative descriptor every adapter advertises.
type Capabilities struct {
	Priority     PriorityRange `json:"priority"`
	Chunking     Chunking      `json:"chunking"`
	Cancellation Cancellation  `json:"cancellation"`
}

// CapabilityError reports a submission value outside the advertised range.
// The registry surfaces these to callers before the adapter is invoked.
type CapabilityError struct {
	// Field is the offending submission field ("priority" or "chunk_size").
	Field string

	// Value is the rejected value.
	Value int

	// Message describes the violated constraint.
	Message string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Field, e.Value, e.Message)
}

// ResolvePriority validates a requested priority against the descriptor and
// returns the effective value. A nil request takes the advertised default,
// falling back to FallbackPriority when the adapter advertises none.
func (c Capabilities) ResolvePriority(requested *int) (int, error) {
	if requested == nil {
		if c.Priority.Default != 0 {
			return c.Priority.Default, nil
		}
		return FallbackPriority, nil
	}

	p := *requested
	if p < 0 {
		return 0, &CapabilityError{Field: "priority", Value: p, Message: "priority must not be negative"}
	}
	if c.Priority.Min != 0 && p < c.Priority.Min {
		return 0, &CapabilityError{
			Field:   "priority",
			Value:   p,
			Message: fmt.Sprintf("below farm minimum %d", c.Priority.Min),
		}
	}
	if c.Priority.Max != 0 && p > c.Priority.Max {
		return 0, &CapabilityError{
			Field:   "priority",
			Value:   p,
			Message: fmt.Sprintf("above farm maximum %d", c.Priority.Max),
		}
	}
	return p, nil
}

// ResolveChunkSize validates a requested chunk size against the descriptor
// and returns the effective value. A nil request takes the advertised
// default when chunking is enabled, and zero otherwise. Explicit chunk
// sizes on a non-chunking farm are rejected.
func (c Capabilities) ResolveChunkSize(requested *int) (int, error) {
	if requested == nil {
		if c.Chunking.Enabled && c.Chunking.Default > 0 {
			return c.Chunking.Default, nil
		}
		return 0, nil
	}

	size := *requested
	if !c.Chunking.Enabled {
		return 0, &CapabilityError{
			Field:   "chunk_size",
			Value:   size,
			Message: "farm does not support chunked submission",
		}
	}
	if size <= 0 {
		return 0, &CapabilityError{Field: "chunk_size", Value: size, Message: "chunk size must be positive"}
	}
	if c.Chunking.Min != 0 && size < c.Chunking.Min {
		return 0, &CapabilityError{
			Field:   "chunk_size",
			Value:   size,
			Message: fmt.Sprintf("below farm minimum %d", c.Chunking.Min),
		}
	}
	if c.Chunking.Max != 0 && size > c.Chunking.Max {
		return 0, &CapabilityError{
			Field:   "chunk_size",
			Value:   size,
			Message: fmt.Sprintf("above farm maximum %d", c.Chunking.Max),
		}
	}
	return size, nil
}
