package ingest

import (
	"fmt"

	"github.com/stockrelay/stockrelay/server/internal/store"
)

// ParsePatch extracts the target ID and the optional name, value and count
// fields of a partial update. The returned error wraps ErrValidation.
func ParsePatch(body map[string]any) (string, store.Patch, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return "", store.Patch{}, fmt.Errorf("%w: missing id", ErrValidation)
	}

	var in struct {
		Name  *string  `mapstructure:"name"`
		Value *float64 `mapstructure:"value"`
		Count *float64 `mapstructure:"count"`
	}
	fields := make(map[string]any, 3)
	for _, k := range []string{"name", "value", "count"} {
		if v, ok := body[k]; ok && v != nil {
			fields[k] = v
		}
	}
	if v := firstPresent(body, "value", "price"); v != nil {
		fields["value"] = v
	}
	if v := firstPresent(body, "count", "quantity"); v != nil {
		fields["count"] = v
	}
	if err := decode(fields, &in); err != nil {
		return "", store.Patch{}, fmt.Errorf("%w: name must be a string, value and count must be numbers", ErrValidation)
	}
	patch := store.Patch{Name: in.Name, Value: in.Value}
	if in.Count != nil {
		n, err := toCount(*in.Count)
		if err != nil {
			return "", store.Patch{}, err
		}
		patch.Count = &n
	}
	return id, patch, nil
}
