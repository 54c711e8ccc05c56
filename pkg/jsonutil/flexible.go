// Package jsonutil reads the loosely typed JSON that machine translation
// models reply with.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// candidateFields are the object keys models use to wrap a single translation.
var candidateFields = []string{"translation", "text", "value"}

// FlexibleStringValue converts a JSON value to a string. Models sometimes
// answer "42" with a bare number, a boolean, or an object such as
// {"translation": "..."}. Returns "" for null or empty input; anything else
// unrecognized is returned as raw JSON.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal json.Number
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if i, err := numVal.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return numVal.String()
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, field := range candidateFields {
			if v, ok := obj[field]; ok {
				return FlexibleStringValue(v)
			}
		}
	}

	return string(raw)
}

// FlexibleStrings decodes a JSON array into strings, converting each element
// with FlexibleStringValue.
func FlexibleStrings(raw []byte) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("expected a JSON array: %w", err)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, FlexibleStringValue(item))
	}
	return out, nil
}
