package rule

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/c360/scanstreams/rule/cpr"
)

func init() {
	Register("cpr", func([]byte) (Rule, error) { return NewCPRRule(), nil })
}

// cprCandidate finds ten-digit groups, optionally separated between the
// date and sequence parts, that are not embedded in longer digit runs.
var cprCandidate = regexp.MustCompile(`\b(\d{6})[ \-]?(\d{4})\b`)

// CPRRule finds plausible Danish CPR numbers in the text representation.
// Every candidate is scored by the plausibility calculator; candidates the
// calculator rejects are not matches.
type CPRRule struct {
	calculator *cpr.Calculator
}

// NewCPRRule creates a CPR leaf with its own scoring calculator
func NewCPRRule() *CPRRule {
	return &CPRRule{calculator: cpr.NewCalculator()}
}

// Kind implements Rule
func (r *CPRRule) Kind() string { return "cpr" }

// OperatesOn implements Leaf
func (r *CPRRule) OperatesOn() RepresentationType { return TypeText }

// Split implements Rule
func (r *CPRRule) Split() (Leaf, Rule, Rule) {
	return r, True, False
}

// Match implements Leaf
func (r *CPRRule) Match(value any) ([]Match, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("cpr rule needs text, got %T", value)
	}

	today := time.Now().UTC()
	var matches []Match
	for _, location := range cprCandidate.FindAllStringSubmatchIndex(text, -1) {
		candidate := text[location[2]:location[3]] + text[location[4]:location[5]]
		probability, err := r.calculator.Check(candidate, today)
		if err != nil || probability == 0 {
			continue
		}
		matches = append(matches, Match{
			Offset:      location[0],
			Match:       censorCPR(candidate),
			Probability: probability,
		})
	}
	return matches, nil
}

// censorCPR masks the sequence digits so match output never carries a full
// identifier.
func censorCPR(cpr string) string {
	return cpr[:6] + strings.Repeat("X", 4)
}

// MarshalJSON implements json.Marshaler
func (r *CPRRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"type": "cpr"})
}
