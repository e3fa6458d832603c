package rule

import (
	"encoding/json"
	"fmt"

	"github.com/c360/scanstreams/errors"
)

// Progress is the serialized continuation of a rule evaluation: the unsplit
// remainder of the rule plus every fragment produced so far. A Progress is
// self-contained, so a fresh evaluator on any process can pick up exactly
// where a previous hop stopped.
type Progress struct {
	Rule      Rule
	Fragments []Fragment
}

// NewProgress starts an evaluation from a fresh rule
func NewProgress(r Rule) Progress {
	return Progress{Rule: r}
}

// MarshalJSON implements json.Marshaler
func (p Progress) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"rule":    p.Rule,
		"matches": p.Fragments,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (p *Progress) UnmarshalJSON(data []byte) error {
	var raw struct {
		Rule    json.RawMessage `json:"rule"`
		Matches []Fragment      `json:"matches"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	if len(raw.Rule) == 0 {
		return fmt.Errorf("%w: progress has no rule", errors.ErrDeserialisation)
	}
	rule, err := Decode(raw.Rule)
	if err != nil {
		return err
	}
	p.Rule = rule
	p.Fragments = raw.Matches
	return nil
}

// Conclusion is the terminal outcome of an evaluation
type Conclusion struct {
	Matched   bool
	Fragments []Fragment
}

// Suspension is a paused evaluation waiting for a representation that has
// not been computed yet.
type Suspension struct {
	Remaining Progress
	Missing   RepresentationType
}

// Evaluate advances a Progress as far as the available representations
// allow. It returns exactly one of:
//   - a Conclusion, when the rule reduced to a terminal;
//   - a Suspension, when the next leaf needs a representation that is not
//     in reps;
//   - an error, when a leaf matcher failed (the caller reports a problem
//     and stops evaluating this item).
//
// Evaluation is pure: the same Progress and representations always produce
// the same outcome, and the input Progress is never mutated.
func Evaluate(p Progress, reps Representations) (*Conclusion, *Suspension, error) {
	current := p.Rule
	fragments := append([]Fragment(nil), p.Fragments...)

	for current != True && current != False {
		head, ifMatched, ifNot := current.Split()

		value, present := reps[head.OperatesOn()]
		if !present {
			return nil, &Suspension{
				Remaining: Progress{Rule: current, Fragments: fragments},
				Missing:   head.OperatesOn(),
			}, nil
		}

		matches, err := head.Match(value)
		if err != nil {
			return nil, nil, errors.Wrap(err, "Evaluator", "Evaluate",
				fmt.Sprintf("evaluate %s leaf", head.Kind()))
		}

		matched := len(matches) > 0
		fragments = append(fragments, Fragment{
			Rule:    head,
			Matched: matched,
			Matches: matches,
		})

		if matched {
			current = ifMatched
		} else {
			current = ifNot
		}
	}

	return &Conclusion{Matched: current == True, Fragments: fragments}, nil, nil
}

// RequiredType returns the representation type the next leaf of a rule
// needs, or "" when the rule is already terminal. The converter uses this
// to compute exactly the requested representation and nothing more.
func RequiredType(r Rule) RepresentationType {
	if r == True || r == False {
		return ""
	}
	head, _, _ := r.Split()
	return head.OperatesOn()
}
