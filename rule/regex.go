package rule

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
)

func init() {
	Register("regex", decodeRegex)
}

// RegexRule matches a regular expression against the text representation
type RegexRule struct {
	Expression string

	compileOnce sync.Once
	compiled    *regexp.Regexp
	compileErr  error
}

// NewRegexRule creates a regex leaf. The expression is compiled lazily on
// first evaluation, so constructing a rule from a wire message never fails
// on a bad pattern; evaluation does.
func NewRegexRule(expression string) *RegexRule {
	return &RegexRule{Expression: expression}
}

// Kind implements Rule
func (r *RegexRule) Kind() string { return "regex" }

// OperatesOn implements Leaf
func (r *RegexRule) OperatesOn() RepresentationType { return TypeText }

// Split implements Rule
func (r *RegexRule) Split() (Leaf, Rule, Rule) {
	return r, True, False
}

func (r *RegexRule) pattern() (*regexp.Regexp, error) {
	r.compileOnce.Do(func() {
		r.compiled, r.compileErr = regexp.Compile(r.Expression)
	})
	return r.compiled, r.compileErr
}

// Match implements Leaf, reporting every occurrence with its byte offset
func (r *RegexRule) Match(value any) ([]Match, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("regex rule needs text, got %T", value)
	}
	pattern, err := r.pattern()
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", r.Expression, err)
	}

	var matches []Match
	for _, location := range pattern.FindAllStringIndex(text, -1) {
		matches = append(matches, Match{
			Offset: location[0],
			Match:  text[location[0]:location[1]],
		})
	}
	return matches, nil
}

// MarshalJSON implements json.Marshaler
func (r *RegexRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":       "regex",
		"expression": r.Expression,
	})
}

func decodeRegex(data []byte) (Rule, error) {
	var raw struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Expression == "" {
		return nil, fmt.Errorf("regex rule has no expression")
	}
	return NewRegexRule(raw.Expression), nil
}
