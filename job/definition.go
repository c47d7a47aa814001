package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the argument type; it must be encodable by the job's codec.
type Definition[T any] struct {
	// Name is the unique identifier for this job type.
	Name string

	// Handler is the function that processes the job arguments.
	Handler func(ctx context.Context, args T) error

	// Opts holds defaults applied to every enqueue of this definition.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, args T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
