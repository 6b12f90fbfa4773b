package farm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter is a minimal Adapter for registry tests. It implements only
// the core interface, no optional capabilities.
type stubAdapter struct {
	farmType string
	caps     Capabilities
}

func (s *stubAdapter) Type() string               { return s.farmType }
func (s *stubAdapter) Capabilities() Capabilities { return s.caps }
func (s *stubAdapter) Submit(ctx context.Context, spec SubmissionSpec) (*SubmissionResult, error) {
	return &SubmissionResult{JobID: "stub-1", Status: "queued"}, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	stub := &stubAdapter{farmType: "deadline"}

	require.NoError(t, r.Register(stub))

	got, err := r.Lookup("deadline")
	require.NoError(t, err)
	assert.Same(t, Adapter(stub), got)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubAdapter{farmType: "mock"}))

	err := r.Register(&stubAdapter{farmType: "mock"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRejectsNilAndEmptyType(t *testing.T) {
	r := NewRegistry()

	require.Error(t, r.Register(nil))
	require.Error(t, r.Register(&stubAdapter{farmType: "  "}))
}

func TestRegistryLookupUnknown(t *testing.T) {
	r := NewRegistry()

	got, err := r.Lookup("renderpal")
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, IsUnknownFarm(err))
	assert.Contains(t, err.Error(), "renderpal")
}

func TestRegistryTypesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubAdapter{farmType: "tractor"}))
	require.NoError(t, r.Register(&stubAdapter{farmType: "deadline"}))
	require.NoError(t, r.Register(&stubAdapter{farmType: "opencue"}))

	assert.Equal(t, []string{"deadline", "opencue", "tractor"}, r.Types())
}

func TestRegistryDescriptions(t *testing.T) {
	r := NewRegistry()
	caps := Capabilities{
		Priority:     PriorityRange{Default: 50, Min: 1, Max: 100},
		Cancellation: Cancellation{Supported: true},
	}
	require.NoError(t, r.Register(&stubAdapter{farmType: "mock", caps: caps}))
	require.NoError(t, r.Register(&stubAdapter{farmType: "inhouse"}))

	descs := r.Descriptions()
	require.Len(t, descs, 2)

	// Sorted by type; known types get display labels, unknown fall back
	// to the raw type string.
	assert.Equal(t, "inhouse", descs[0].Type)
	assert.Equal(t, "inhouse", descs[0].Label)
	assert.Equal(t, "mock", descs[1].Type)
	assert.Equal(t, "Mock farm (development)", descs[1].Label)
	assert.Equal(t, caps, descs[1].Capabilities)
}
