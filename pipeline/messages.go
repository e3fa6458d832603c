package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/scanstreams/errors"
	"github.com/c360/scanstreams/model"
	"github.com/c360/scanstreams/rule"
)

// ScanTag identifies one scan run across every message it produces
type ScanTag struct {
	ID      string    `json:"id"`
	Scanner string    `json:"scanner"`
	Time    time.Time `json:"time"`
}

// NewScanTag creates a tag for a fresh scan run
func NewScanTag(scanner string) ScanTag {
	return ScanTag{
		ID:      uuid.NewString(),
		Scanner: scanner,
		Time:    time.Now().UTC(),
	}
}

// ScanSpec is the unit of work submitted to the pipeline: scan this Source
// with this Rule.
type ScanSpec struct {
	Tag    ScanTag
	Source model.Source
	Rule   rule.Rule
}

// MarshalJSON implements json.Marshaler
func (s ScanSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"scan_tag": s.Tag,
		"source":   s.Source,
		"rule":     s.Rule,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (s *ScanSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tag    ScanTag         `json:"scan_tag"`
		Source json.RawMessage `json:"source"`
		Rule   json.RawMessage `json:"rule"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	if len(raw.Source) == 0 || len(raw.Rule) == 0 {
		return fmt.Errorf("%w: scan spec needs source and rule", errors.ErrDeserialisation)
	}
	source, err := model.DecodeSource(raw.Source)
	if err != nil {
		return err
	}
	decodedRule, err := rule.Decode(raw.Rule)
	if err != nil {
		return err
	}
	s.Tag = raw.Tag
	s.Source = source
	s.Rule = decodedRule
	return nil
}

// ConversionMessage asks the converter for the representation the next leaf
// of the progress rule needs.
type ConversionMessage struct {
	Spec     ScanSpec
	Handle   model.Handle
	Progress rule.Progress
}

// MarshalJSON implements json.Marshaler
func (m ConversionMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"scan_spec": m.Spec,
		"handle":    m.Handle,
		"progress":  m.Progress,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *ConversionMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Spec     ScanSpec        `json:"scan_spec"`
		Handle   json.RawMessage `json:"handle"`
		Progress rule.Progress   `json:"progress"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	handle, err := model.DecodeHandle(raw.Handle)
	if err != nil {
		return err
	}
	m.Spec = raw.Spec
	m.Handle = handle
	m.Progress = raw.Progress
	return nil
}

// RepresentationMessage carries freshly computed representations back to
// the matcher together with the suspended progress.
type RepresentationMessage struct {
	Spec            ScanSpec
	Handle          model.Handle
	Progress        rule.Progress
	Representations rule.Representations
}

// MarshalJSON implements json.Marshaler
func (m RepresentationMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"scan_spec":       m.Spec,
		"handle":          m.Handle,
		"progress":        m.Progress,
		"representations": m.Representations,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *RepresentationMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Spec            ScanSpec             `json:"scan_spec"`
		Handle          json.RawMessage      `json:"handle"`
		Progress        rule.Progress        `json:"progress"`
		Representations rule.Representations `json:"representations"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	handle, err := model.DecodeHandle(raw.Handle)
	if err != nil {
		return err
	}
	m.Spec = raw.Spec
	m.Handle = handle
	m.Progress = raw.Progress
	m.Representations = raw.Representations
	return nil
}

// MatchMessage is the terminal verdict for one Handle
type MatchMessage struct {
	Spec      ScanSpec
	Handle    model.Handle
	Matched   bool
	Fragments []rule.Fragment
}

// MarshalJSON implements json.Marshaler
func (m MatchMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"scan_spec": m.Spec,
		"handle":    m.Handle,
		"matched":   m.Matched,
		"matches":   m.Fragments,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *MatchMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Spec      ScanSpec        `json:"scan_spec"`
		Handle    json.RawMessage `json:"handle"`
		Matched   bool            `json:"matched"`
		Fragments []rule.Fragment `json:"matches"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	handle, err := model.DecodeHandle(raw.Handle)
	if err != nil {
		return err
	}
	m.Spec = raw.Spec
	m.Handle = handle
	m.Matched = raw.Matched
	m.Fragments = raw.Fragments
	return nil
}

// HandleMessage requests metadata extraction for a matched Handle
type HandleMessage struct {
	Tag    ScanTag
	Handle model.Handle
}

// MarshalJSON implements json.Marshaler
func (m HandleMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"scan_tag": m.Tag,
		"handle":   m.Handle,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *HandleMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tag    ScanTag         `json:"scan_tag"`
		Handle json.RawMessage `json:"handle"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	handle, err := model.DecodeHandle(raw.Handle)
	if err != nil {
		return err
	}
	m.Tag = raw.Tag
	m.Handle = handle
	return nil
}

// Metadata captured for a matched item
type Metadata struct {
	Size         int64  `json:"size"`
	LastModified string `json:"last-modified,omitempty"`
	MimeType     string `json:"mime-type,omitempty"`
}

// MetadataMessage carries extracted metadata for a matched Handle
type MetadataMessage struct {
	Tag      ScanTag
	Handle   model.Handle
	Metadata Metadata
}

// MarshalJSON implements json.Marshaler
func (m MetadataMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"scan_tag": m.Tag,
		"handle":   m.Handle,
		"metadata": m.Metadata,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *MetadataMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tag      ScanTag         `json:"scan_tag"`
		Handle   json.RawMessage `json:"handle"`
		Metadata Metadata        `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	handle, err := model.DecodeHandle(raw.Handle)
	if err != nil {
		return err
	}
	m.Tag = raw.Tag
	m.Handle = handle
	m.Metadata = raw.Metadata
	return nil
}

// ProblemMessage reports a source or evaluation failure for one item. The
// handle, when present, is censored before the message leaves the stage.
type ProblemMessage struct {
	Tag     ScanTag      `json:"scan_tag"`
	Where   string       `json:"where"`
	Message string       `json:"message"`
	Handle  model.Handle `json:"-"`
}

// MarshalJSON implements json.Marshaler
func (m ProblemMessage) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"scan_tag": m.Tag,
		"where":    m.Where,
		"message":  m.Message,
	}
	if m.Handle != nil {
		out["handle"] = m.Handle
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (m *ProblemMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tag     ScanTag         `json:"scan_tag"`
		Where   string          `json:"where"`
		Message string          `json:"message"`
		Handle  json.RawMessage `json:"handle"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	m.Tag = raw.Tag
	m.Where = raw.Where
	m.Message = raw.Message
	if len(raw.Handle) > 0 {
		handle, err := model.DecodeHandle(raw.Handle)
		if err != nil {
			return err
		}
		m.Handle = handle
	}
	return nil
}

// ResultMessage is the exporter's output: the original body with every
// Handle and Source censored, tagged with the queue it came from.
type ResultMessage struct {
	Origin string          `json:"origin"`
	Body   json.RawMessage `json:"body"`
}
