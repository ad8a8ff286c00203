package manifest

import (
	"fmt"

	"github.com/PaesslerAG/jsonpath"
)

// QueryComponentValue evaluates a JSONPath expression against a
// ComponentChange's NewValue without requiring the caller to unmarshal
// it into a concrete Go struct first — useful for ad-hoc manifest
// inspection (an operator console, a debugging script) where the
// component shape isn't known ahead of time.
func QueryComponentValue(change ComponentChange, path string) (any, error) {
	return jsonpath.Get(path, change.NewValue)
}

// QueryEventField evaluates a JSONPath expression against a GameEvent's
// InvolvedEntities/description structure, treating the event as a
// generic map so callers can pull out a field without a type switch.
func QueryEventField(ev GameEvent, path string) (any, error) {
	asMap := map[string]any{
		"event_type":        ev.EventType,
		"description":       ev.Description,
		"involved_entities": ev.InvolvedEntities,
		"tick":              ev.Tick,
	}
	v, err := jsonpath.Get(path, asMap)
	if err != nil {
		return nil, fmt.Errorf("query event field %q: %w", path, err)
	}
	return v, nil
}
