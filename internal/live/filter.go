package live

import (
	"github.com/juju/errors"

	"github.com/planboard/backend/internal/change"
)

// Filter selects which events a session reacts to. It is fixed when the
// session is opened.
type Filter struct {
	ScopeID  string `json:"scopeId"`
	EntityID string `json:"entityId,omitempty"`
}

// Matches reports whether ev falls inside the filter. An empty EntityID
// matches every entity in the scope.
func (f Filter) Matches(ev change.Event) bool {
	if ev.ScopeID != f.ScopeID {
		return false
	}
	if f.EntityID != "" && ev.EntityID != f.EntityID {
		return false
	}
	return true
}

// CursorKey labels the stream origin. It is the scope id and never changes
// across emissions.
func (f Filter) CursorKey() string {
	return f.ScopeID
}

func (f Filter) validate(requireEntity bool) error {
	if f.ScopeID == "" {
		return errors.NotValidf("empty scope")
	}
	if requireEntity && f.EntityID == "" {
		return errors.NotValidf("empty entity id")
	}
	return nil
}
