package rule

import (
	"encoding/json"
	"fmt"
	"time"
)

func init() {
	Register("last-modified", decodeLastModified)
}

// LastModifiedRule matches items modified strictly after a cutoff. It
// consumes the last-modified representation, an RFC 3339 timestamp.
type LastModifiedRule struct {
	After time.Time
}

// NewLastModifiedRule creates a last-modified leaf
func NewLastModifiedRule(after time.Time) *LastModifiedRule {
	return &LastModifiedRule{After: after}
}

// Kind implements Rule
func (r *LastModifiedRule) Kind() string { return "last-modified" }

// OperatesOn implements Leaf
func (r *LastModifiedRule) OperatesOn() RepresentationType { return TypeLastModified }

// Split implements Rule
func (r *LastModifiedRule) Split() (Leaf, Rule, Rule) {
	return r, True, False
}

// Match implements Leaf
func (r *LastModifiedRule) Match(value any) ([]Match, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("last-modified rule needs a timestamp string, got %T", value)
	}
	modified, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", text, err)
	}
	if !modified.After(r.After) {
		return nil, nil
	}
	return []Match{{Match: modified.Format(time.RFC3339)}}, nil
}

// MarshalJSON implements json.Marshaler
func (r *LastModifiedRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":  "last-modified",
		"after": r.After.Format(time.RFC3339),
	})
}

func decodeLastModified(data []byte) (Rule, error) {
	var raw struct {
		After string `json:"after"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	after, err := time.Parse(time.RFC3339, raw.After)
	if err != nil {
		return nil, fmt.Errorf("parse after %q: %w", raw.After, err)
	}
	return &LastModifiedRule{After: after}, nil
}
