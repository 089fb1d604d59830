// Package tabular turns raw model output into validated tables. It owns the
// three normalization stages the service applies to every completion:
// envelope extraction, fence stripping, and table normalization.
package tabular

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/voicetable/table-service/internal/core"
)

// Required keys of a table document.
const (
	keyHeaders = "headers"
	keyRows    = "rows"
)

// Error detail formats for table normalization.
const (
	errFmtParseFailure   = "%w: %v (candidate: %s)"
	errFmtTrailingData   = "%w: trailing data after JSON value (candidate: %s)"
	errFmtNotObject      = "%w: top-level JSON is %s, want object"
	errFmtMissingKey     = "%w: missing %q key"
	errFmtKeyNotArray    = "%w: %q is not an array"
	errFmtRowNotArray    = "%w: row %d is not an array"
	errFmtRowWidth       = "%w: row %d has %d cells, want %d"
	maxCandidateInDetail = 200
)

// Normalizer converts candidate JSON text into a core.Table with every value
// coerced to a string. The zero value is ready to use; StrictRowWidth opts
// into rejecting rows whose width differs from the header count (by default
// such rows pass through untouched).
type Normalizer struct {
	StrictRowWidth bool
}

// Normalize parses candidate text and shapes it into a table.
//
// Failures split along the caller-visible taxonomy: text that is not valid
// JSON yields core.ErrTableParse wrapping the offending candidate; valid JSON
// that is not an object holding a "headers" array and a "rows" array of
// arrays yields core.ErrTableShape naming the defect.
func (n Normalizer) Normalize(candidate string) (core.Table, error) {
	document, err := decodeCandidate(candidate)
	if err != nil {
		return core.Table{Headers: nil, Rows: nil}, err
	}

	object, ok := document.(map[string]any)
	if !ok {
		return core.Table{Headers: nil, Rows: nil}, fmt.Errorf(
			errFmtNotObject, core.ErrTableShape, describeValue(document),
		)
	}

	headers, err := shapeHeaders(object)
	if err != nil {
		return core.Table{Headers: nil, Rows: nil}, err
	}

	rows, err := n.shapeRows(object, len(headers))
	if err != nil {
		return core.Table{Headers: nil, Rows: nil}, err
	}

	return core.Table{Headers: headers, Rows: rows}, nil
}

// decodeCandidate parses exactly one JSON value, preserving numeric literals
// so cells keep the textual form the model produced.
func decodeCandidate(candidate string) (any, error) {
	decoder := json.NewDecoder(strings.NewReader(candidate))
	decoder.UseNumber()

	var document any

	err := decoder.Decode(&document)
	if err != nil {
		return nil, fmt.Errorf(
			errFmtParseFailure, core.ErrTableParse, err, snippet(candidate),
		)
	}

	_, err = decoder.Token()
	if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf(
			errFmtTrailingData, core.ErrTableParse, snippet(candidate),
		)
	}

	return document, nil
}

func shapeHeaders(object map[string]any) ([]string, error) {
	raw, present := object[keyHeaders]
	if !present {
		return nil, fmt.Errorf(errFmtMissingKey, core.ErrTableShape, keyHeaders)
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf(errFmtKeyNotArray, core.ErrTableShape, keyHeaders)
	}

	headers := make([]string, len(list))
	for i, value := range list {
		headers[i] = stringify(value)
	}

	return headers, nil
}

func (n Normalizer) shapeRows(
	object map[string]any,
	headerCount int,
) ([][]string, error) {
	raw, present := object[keyRows]
	if !present {
		return nil, fmt.Errorf(errFmtMissingKey, core.ErrTableShape, keyRows)
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf(errFmtKeyNotArray, core.ErrTableShape, keyRows)
	}

	rows := make([][]string, len(list))

	for i, rawRow := range list {
		cells, isArray := rawRow.([]any)
		if !isArray {
			return nil, fmt.Errorf(errFmtRowNotArray, core.ErrTableShape, i)
		}

		if n.StrictRowWidth && len(cells) != headerCount {
			return nil, fmt.Errorf(
				errFmtRowWidth, core.ErrTableShape, i, len(cells), headerCount,
			)
		}

		row := make([]string, len(cells))
		for j, value := range cells {
			row[j] = stringify(value)
		}

		rows[i] = row
	}

	return rows, nil
}

// stringify coerces one decoded JSON value to its textual cell form. Numbers
// keep the literal the model wrote, booleans and null use their JSON
// spellings, and compound values re-serialize to compact JSON.
func stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return typed
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}

		return string(encoded)
	}
}

func describeValue(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// snippet bounds candidate text embedded in error details.
func snippet(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if len(trimmed) <= maxCandidateInDetail {
		return strconv.Quote(trimmed)
	}

	return strconv.Quote(trimmed[:maxCandidateInDetail]) + "..."
}
