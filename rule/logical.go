package rule

import (
	"encoding/json"
	"fmt"
)

func init() {
	Register("and", decodeAnd)
	Register("or", decodeOr)
	Register("not", decodeNot)
}

// AndRule matches when every component matches. Components are evaluated
// left to right; short-circuiting happens through the continuation chosen by
// Split, so representations needed only by later components are never
// requested when an earlier one fails.
type AndRule struct {
	Components []Rule
}

// And combines rules conjunctively, collapsing trivial cases
func And(components ...Rule) Rule {
	return makeAnd(components)
}

func makeAnd(components []Rule) Rule {
	kept := make([]Rule, 0, len(components))
	for _, component := range components {
		if component == False {
			return False
		}
		if component == True {
			continue
		}
		kept = append(kept, component)
	}
	switch len(kept) {
	case 0:
		return True
	case 1:
		return kept[0]
	default:
		return &AndRule{Components: kept}
	}
}

// Kind implements Rule
func (r *AndRule) Kind() string { return "and" }

// Split implements Rule. The head comes from the first component; the
// remaining components are carried into both continuations.
func (r *AndRule) Split() (Leaf, Rule, Rule) {
	head, ifMatched, ifNot := r.Components[0].Split()
	rest := r.Components[1:]
	return head,
		makeAnd(append([]Rule{ifMatched}, rest...)),
		makeAnd(append([]Rule{ifNot}, rest...))
}

// MarshalJSON implements json.Marshaler
func (r *AndRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":       "and",
		"components": r.Components,
	})
}

func decodeAnd(data []byte) (Rule, error) {
	components, err := decodeComponents(data)
	if err != nil {
		return nil, err
	}
	return makeAnd(components), nil
}

// OrRule matches when any component matches
type OrRule struct {
	Components []Rule
}

// Or combines rules disjunctively, collapsing trivial cases
func Or(components ...Rule) Rule {
	return makeOr(components)
}

func makeOr(components []Rule) Rule {
	kept := make([]Rule, 0, len(components))
	for _, component := range components {
		if component == True {
			return True
		}
		if component == False {
			continue
		}
		kept = append(kept, component)
	}
	switch len(kept) {
	case 0:
		return False
	case 1:
		return kept[0]
	default:
		return &OrRule{Components: kept}
	}
}

// Kind implements Rule
func (r *OrRule) Kind() string { return "or" }

// Split implements Rule
func (r *OrRule) Split() (Leaf, Rule, Rule) {
	head, ifMatched, ifNot := r.Components[0].Split()
	rest := r.Components[1:]
	return head,
		makeOr(append([]Rule{ifMatched}, rest...)),
		makeOr(append([]Rule{ifNot}, rest...))
}

// MarshalJSON implements json.Marshaler
func (r *OrRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":       "or",
		"components": r.Components,
	})
}

func decodeOr(data []byte) (Rule, error) {
	components, err := decodeComponents(data)
	if err != nil {
		return nil, err
	}
	return makeOr(components), nil
}

func decodeComponents(data []byte) ([]Rule, error) {
	var raw struct {
		Components []json.RawMessage `json:"components"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.Components) < 2 {
		return nil, fmt.Errorf("composite rule needs at least two components")
	}
	components := make([]Rule, len(raw.Components))
	for i, rawComponent := range raw.Components {
		component, err := Decode(rawComponent)
		if err != nil {
			return nil, err
		}
		components[i] = component
	}
	return components, nil
}

// NotRule inverts its child
type NotRule struct {
	Child Rule
}

// Not inverts a rule, collapsing trivial cases
func Not(child Rule) Rule {
	switch child {
	case True:
		return False
	case False:
		return True
	}
	if inner, ok := child.(*NotRule); ok {
		return inner.Child
	}
	return &NotRule{Child: child}
}

// Kind implements Rule
func (r *NotRule) Kind() string { return "not" }

// Split implements Rule, inverting the child's continuations
func (r *NotRule) Split() (Leaf, Rule, Rule) {
	head, ifMatched, ifNot := r.Child.Split()
	return head, Not(ifMatched), Not(ifNot)
}

// MarshalJSON implements json.Marshaler
func (r *NotRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type": "not",
		"rule": r.Child,
	})
}

func decodeNot(data []byte) (Rule, error) {
	var raw struct {
		Rule json.RawMessage `json:"rule"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.Rule) == 0 {
		return nil, fmt.Errorf("not rule has no child")
	}
	child, err := Decode(raw.Rule)
	if err != nil {
		return nil, err
	}
	return Not(child), nil
}
