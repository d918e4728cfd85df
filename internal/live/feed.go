package live

import (
	"context"

	"github.com/planboard/backend/internal/change"
)

// Loader re-reads the authoritative state for a filter. Implementations
// should return errors carrying errors.NotFound or errors.Forbidden when the
// scope is gone or no longer visible.
type Loader interface {
	Load(ctx context.Context, f Filter) (any, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, f Filter) (any, error)

func (fn LoaderFunc) Load(ctx context.Context, f Filter) (any, error) {
	return fn(ctx, f)
}

// Feed is one pluggable specialization of the session machinery: which
// kind it listens for, whether filters must name an entity, and how to
// reload state.
type Feed struct {
	Name          string
	Kind          change.Kind
	RequireEntity bool
	Loader        Loader
}
