package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased job handler. The typed Definition[T] is
// converted to a HandlerFunc at registration time by closing over the
// payload decode and the typed handler.
type HandlerFunc func(ctx context.Context, j *Job) error

// Registry is the lookup table that maps job names to handlers.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	defaults map[string]Options
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		defaults: make(map[string]Options),
	}
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that decodes the payload into T with the job's
// codec before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, j *Job) error {
		var t T
		if len(j.Payload) > 0 {
			codec, err := LookupCodec(j.Codec)
			if err != nil {
				return fmt.Errorf("decode payload for job %q: %w", def.Name, err)
			}
			if err := codec.Unmarshal(j.Payload, &t); err != nil {
				return fmt.Errorf("decode payload for job %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = handler
	r.defaults[def.Name] = def.Opts
}

// Register adds a raw handler under name.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	r.defaults[name] = DefaultOptions()
}

// Get returns the handler for the given job name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Defaults returns the options the named definition was registered with.
func (r *Registry) Defaults(name string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.defaults[name]
	return o, ok
}

// Names returns all registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
