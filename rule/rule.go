// Package rule implements the boolean rule tree evaluated against a content
// item's representations. Rules are immutable value types serialized as
// tagged JSON; Split decomposes a rule into the next leaf to evaluate plus
// the continuations to follow on a match or a non-match, which is what lets
// evaluation suspend when a representation is missing and resume later on a
// different process.
package rule

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/c360/scanstreams/errors"
)

// RepresentationType names a typed, derived view of content that leaves
// consume.
type RepresentationType string

// Representation types the built-in leaves operate on
const (
	TypeText         RepresentationType = "text"
	TypeLastModified RepresentationType = "last-modified"
)

// Representations maps representation types to their computed values. Text
// is a string; last-modified is an RFC 3339 string.
type Representations map[RepresentationType]any

// Match is one hit produced by a leaf rule
type Match struct {
	Offset      int     `json:"offset,omitempty"`
	Match       string  `json:"match"`
	Probability float64 `json:"probability,omitempty"`
}

// Fragment records the outcome of evaluating one leaf: the leaf itself and
// every match it produced. Fragment lists are append-only; a resumed
// evaluation never rewrites what an earlier hop found.
type Fragment struct {
	Rule    Rule    `json:"rule"`
	Matched bool    `json:"matched"`
	Matches []Match `json:"matches,omitempty"`
}

// UnmarshalJSON decodes the tagged rule inside the fragment
func (f *Fragment) UnmarshalJSON(data []byte) error {
	var raw struct {
		Rule    json.RawMessage `json:"rule"`
		Matched bool            `json:"matched"`
		Matches []Match         `json:"matches"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rule, err := Decode(raw.Rule)
	if err != nil {
		return err
	}
	f.Rule = rule
	f.Matched = raw.Matched
	f.Matches = raw.Matches
	return nil
}

// Rule is an immutable node in a boolean expression tree
type Rule interface {
	json.Marshaler

	// Kind returns the type discriminator used in serialized form
	Kind() string

	// Split decomposes the rule into the next leaf to evaluate and the
	// continuations to follow depending on whether that leaf matches.
	// Terminals are never split.
	Split() (head Leaf, ifMatched Rule, ifNot Rule)
}

// Leaf is a rule that consumes one representation and produces matches.
// Match is pure: it never mutates the leaf and depends only on its input.
type Leaf interface {
	Rule

	// OperatesOn declares which representation type Match consumes
	OperatesOn() RepresentationType

	// Match evaluates the leaf against a representation value
	Match(value any) ([]Match, error)
}

// terminal is a rule reduced to a boolean
type terminal bool

// The two terminal rules. Evaluation is finished when a rule reduces to one
// of these.
var (
	True  Rule = terminal(true)
	False Rule = terminal(false)
)

func (t terminal) Kind() string {
	if t {
		return "true"
	}
	return "false"
}

func (t terminal) Split() (Leaf, Rule, Rule) {
	// Terminals are checked before splitting; reaching this is a bug
	panic("rule: terminal cannot be split")
}

// MarshalJSON implements json.Marshaler
func (t terminal) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"type": t.Kind()})
}

// Decoder reconstructs a Rule from its serialized form
type Decoder func(data []byte) (Rule, error)

var (
	decoderMu sync.RWMutex
	decoders  = map[string]Decoder{
		"true":  func([]byte) (Rule, error) { return True, nil },
		"false": func([]byte) (Rule, error) { return False, nil },
	}
)

// Register associates a rule kind with a decoder. Concrete rule types call
// this from init.
func Register(kind string, decoder Decoder) {
	decoderMu.Lock()
	defer decoderMu.Unlock()
	if _, exists := decoders[kind]; exists {
		panic(fmt.Sprintf("rule: kind %q registered twice", kind))
	}
	decoders[kind] = decoder
}

// Decode reconstructs a Rule from tagged JSON. An unregistered kind fails
// with ErrUnknownScheme; malformed payloads fail with ErrDeserialisation.
func Decode(data []byte) (Rule, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("%w: rule object has no type", errors.ErrDeserialisation)
	}

	decoderMu.RLock()
	decoder, ok := decoders[probe.Type]
	decoderMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: rule %q", errors.ErrUnknownScheme, probe.Type)
	}

	rule, err := decoder(data)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %q: %v", errors.ErrDeserialisation, probe.Type, err)
	}
	return rule, nil
}
