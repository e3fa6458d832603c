package pipeline

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/scanstreams/errors"
)

// scanSpecSchema is the admission contract for the entry queue. Submitters
// outside this codebase produce scan specifications, so shape problems are
// caught before any decoding logic runs.
const scanSpecSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["scan_tag", "source", "rule"],
  "properties": {
    "scan_tag": {
      "type": "object",
      "required": ["id", "scanner"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "scanner": {"type": "string", "minLength": 1},
        "time": {"type": "string"}
      }
    },
    "source": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string", "minLength": 1}
      }
    },
    "rule": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var scanSpecSchemaLoader = gojsonschema.NewStringLoader(scanSpecSchema)

// validateScanSpec checks a raw scan specification against the admission
// schema. Failures classify as invalid so the stage drops the message.
func validateScanSpec(body []byte) error {
	result, err := gojsonschema.Validate(scanSpecSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrDeserialisation, err),
			"Explorer", "validateScanSpec", "parse scan spec")
	}
	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidData, strings.Join(reasons, "; ")),
			"Explorer", "validateScanSpec", "validate scan spec")
	}
	return nil
}
