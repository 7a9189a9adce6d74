package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// FieldDiff describes one field's change between two versions
type FieldDiff struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Diff compares two versions of a key field by field. A version that does
// not exist is treated as an empty object, so diffing against an unwritten
// version reports every field of the other side.
func (s *Store) Diff(ctx context.Context, key string, v1, v2 int) (map[string]FieldDiff, error) {
	from, err := s.readFieldsOrEmpty(ctx, key, v1)
	if err != nil {
		return nil, err
	}
	to, err := s.readFieldsOrEmpty(ctx, key, v2)
	if err != nil {
		return nil, err
	}

	diff := make(map[string]FieldDiff)
	for field, fromValue := range from {
		toValue, ok := to[field]
		if !ok {
			diff[field] = FieldDiff{From: fromValue, To: nil}
			continue
		}
		same, err := equalSerialized(fromValue, toValue)
		if err != nil {
			return nil, fmt.Errorf("failed to compare field %q: %w", field, err)
		}
		if !same {
			diff[field] = FieldDiff{From: fromValue, To: toValue}
		}
	}
	for field, toValue := range to {
		if _, ok := from[field]; !ok {
			diff[field] = FieldDiff{From: nil, To: toValue}
		}
	}

	return diff, nil
}

func (s *Store) readFieldsOrEmpty(ctx context.Context, key string, version int) (map[string]any, error) {
	value, err := s.ReadVersion(ctx, key, version)
	if errors.Is(err, ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if value.Fields == nil {
		return map[string]any{}, nil
	}
	return value.Fields, nil
}

// equalSerialized compares two values by their JSON form
func equalSerialized(a, b any) (bool, error) {
	aj, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return string(aj) == string(bj), nil
}
