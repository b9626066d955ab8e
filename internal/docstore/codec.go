package docstore

import (
	"encoding/json"
	"fmt"
)

// Encode converts a schema struct into document fields. The "id" field is
// dropped because ids live in the path.
func Encode(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out Fields
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	delete(out, "id")
	return out, nil
}

// Decode fills v from the document payload.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", doc.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", doc.Path, err)
	}
	return nil
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// MergeInto copies the entries of patch over base and returns base.
func MergeInto(base, patch Fields) Fields {
	if base == nil {
		base = make(Fields, len(patch))
	}
	for k, v := range patch {
		base[k] = v
	}
	return base
}
