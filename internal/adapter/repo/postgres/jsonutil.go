package postgres

import "encoding/json"

// headersToJSON marshals a headers map to JSON for storage in a jsonb
// column, falling back to "{}" if the map is empty or marshaling fails.
func headersToJSON(h map[string]string) []byte {
	if len(h) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(h)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func headersFromJSON(b []byte) map[string]string {
	if len(b) == 0 {
		return nil
	}
	var h map[string]string
	if err := json.Unmarshal(b, &h); err != nil {
		return nil
	}
	return h
}

// jsonMapToJSON marshals an opaque job input/prediction map for storage in
// a jsonb column, returning nil (SQL NULL) for an empty map instead of
// "{}" so COALESCE in UPDATE statements can tell "no value given" apart
// from "explicitly cleared".
func jsonMapToJSON(m map[string]any) []byte {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func jsonMapFromJSON(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

func stringsFromJSON(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	var s []string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	return s
}
