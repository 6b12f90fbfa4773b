package farm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// labels maps known farm types to operator-facing display names. Unknown
// types fall back to the raw type string.
var labels = map[string]string{
	"deadline": "AWS Thinkbox Deadline",
	"tractor":  "Pixar Tractor",
	"opencue":  "OpenCue",
	"mock":     "Mock farm (development)",
}

// Description is the operator-facing summary of one registered adapter.
type Description struct {
	Type         string       `json:"type"`
	Label        string       `json:"label"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry maps farm types to adapter implementations. Adapters are
// registered once at startup; new farms are added by registration, not by
// modifying core logic.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its Type. Registering an empty type or a
// duplicate is an error.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("adapter is nil")
	}
	farmType := strings.TrimSpace(a.Type())
	if farmType == "" {
		return fmt.Errorf("adapter type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[farmType]; exists {
		return fmt.Errorf("adapter already registered: %s", farmType)
	}
	r.adapters[farmType] = a
	return nil
}

// Lookup returns the adapter registered under farmType.
func (r *Registry) Lookup(farmType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.TrimSpace(farmType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFarm, farmType)
	}
	return a, nil
}

// Types returns the registered farm types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Descriptions returns operator-facing summaries for every registered
// adapter, sorted by type.
func (r *Registry) Descriptions() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Description, 0, len(r.adapters))
	for t, a := range r.adapters {
		label := labels[t]
		if label == "" {
			label = t
		}
		out = append(out, Description{
			Type:         t,
			Label:        label,
			Capabilities: a.Capabilities(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
