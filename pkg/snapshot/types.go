package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaVersion is the current snapshot document schema
const SchemaVersion = 1

// RouteState records the expected destination for one route
type RouteState struct {
	ExpectedRoute   string    `json:"expected_route"`
	LastValidatedAt time.Time `json:"last_validated_at"`
	HardConflict    bool      `json:"hard_conflict"`
}

// RouteSnapshot is the composite route-dispatch validation document.
// MemoryVersion is the marker persisted inside the document; it can lag
// the durable row and must not be trusted for reconciliation.
type RouteSnapshot struct {
	SchemaVersion   int                    `json:"schema_version"`
	BindingsVersion int                    `json:"bindings_version"`
	MemoryVersion   int64                  `json:"memory_version"`
	RouteState      map[string]*RouteState `json:"route_state"`
	UpdatedAt       time.Time              `json:"updated_at"`
	UpdatedBy       string                 `json:"updated_by,omitempty"`
}

// newEmptySnapshot returns a valid default document
func newEmptySnapshot() *RouteSnapshot {
	return &RouteSnapshot{
		SchemaVersion: SchemaVersion,
		RouteState:    make(map[string]*RouteState),
		UpdatedAt:     time.Now(),
	}
}

// documentSchema validates the persisted shape before it is trusted
const documentSchema = `{
	"type": "object",
	"required": ["schema_version", "route_state"],
	"properties": {
		"schema_version": {"type": "integer", "minimum": 1},
		"bindings_version": {"type": "integer"},
		"memory_version": {"type": "integer"},
		"route_state": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["expected_route"],
				"properties": {
					"expected_route": {"type": "string"},
					"last_validated_at": {"type": "string"},
					"hard_conflict": {"type": "boolean"}
				}
			}
		},
		"updated_at": {"type": "string"},
		"updated_by": {"type": "string"}
	}
}`

// decodeSnapshot validates raw document bytes against the schema and
// unmarshals them. Any failure means the row is corrupt.
func decodeSnapshot(raw json.RawMessage) (*RouteSnapshot, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("snapshot document is invalid: %v", result.Errors())
	}

	var snap RouteSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.RouteState == nil {
		snap.RouteState = make(map[string]*RouteState)
	}
	return &snap, nil
}

// clone returns a deep copy so callers never share the cached document
func (s *RouteSnapshot) clone() *RouteSnapshot {
	copied := *s
	copied.RouteState = make(map[string]*RouteState, len(s.RouteState))
	for id, state := range s.RouteState {
		st := *state
		copied.RouteState[id] = &st
	}
	return &copied
}
