package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// structToJSON marshals an opaque payload for storage as TEXT. nil becomes
// SQL NULL rather than the literal string "null".
func structToJSON(s *structpb.Struct) (any, error) {
	if s == nil {
		return nil, nil
	}
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("sqlite: marshal struct: %w", err)
	}
	return string(b), nil
}

// jsonToStruct is the inverse of structToJSON.
func jsonToStruct(s sql.NullString) (*structpb.Struct, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var out structpb.Struct
	if err := out.UnmarshalJSON([]byte(s.String)); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal struct: %w", err)
	}
	return &out, nil
}

// stringsToJSON/jsonToStrings carry the saga's steps_completed/
// steps_remaining string slices as a JSON array column.
func stringsToJSON(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal string slice: %w", err)
	}
	return string(b), nil
}

func jsonToStrings(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal string slice: %w", err)
	}
	return out, nil
}
