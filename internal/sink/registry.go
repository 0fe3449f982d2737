package sink

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dev-ansung/pipebridge/internal/pipe"
)

// ErrNotRegistered is returned by [Registry.Create] when no factory has been
// registered under the requested sink kind.
var ErrNotRegistered = errors.New("sink: kind not registered")

// Options carries the wiring a factory may need. Factories ignore fields
// that do not apply to them.
type Options struct {
	// ListenerEndpoint is the write-direction pipe endpoint, nil when no
	// listener FIFO is configured.
	ListenerEndpoint *pipe.Endpoint

	// Output is the destination file (MP3 recording, transcript text).
	Output string

	// ModelPath and Language configure transcription.
	ModelPath string
	Language  string
}

// Factory constructs a sink from options.
type Factory func(Options) (Sink, error)

// Registry maps sink kinds to their constructors, so main can wire sinks
// from configuration without the bridge knowing concrete types. Safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under kind. A later registration with the same
// kind overwrites the earlier one.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Create builds the sink registered under kind.
func (r *Registry) Create(kind string, opts Options) (Sink, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrNotRegistered, kind, r.Kinds())
	}
	return factory(opts)
}

// Kinds returns the registered sink kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
