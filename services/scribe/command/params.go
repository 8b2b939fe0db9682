// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package command

import (
	"fmt"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// Field readers for parameter maps. Numbers tolerate float64 because
// params usually arrive through JSON.

func fieldErr(field, msg string) *fault.ValidationError {
	return &fault.ValidationError{
		Field:        field,
		CommandIndex: fault.NoIndex,
		Message:      msg,
	}
}

func stringField(p Params, key string, allowEmpty bool) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fieldErr(key, "required parameter missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", fieldErr(key, fmt.Sprintf("must be a string, got %T", v))
	}
	if s == "" && !allowEmpty {
		return "", fieldErr(key, "must not be empty")
	}
	return s, nil
}

// optionalString returns ("", nil) when the key is absent.
func optionalString(p Params, key string) (string, error) {
	if _, ok := p[key]; !ok {
		return "", nil
	}
	return stringField(p, key, true)
}

func intField(p Params, key string) (int, error) {
	n, ok, err := optionalInt(p, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fieldErr(key, "required parameter missing")
	}
	return n, nil
}

// optionalInt returns (0, false, nil) when the key is absent.
func optionalInt(p Params, key string) (int, bool, error) {
	v, ok := p[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, false, fieldErr(key, "must be an integer")
		}
		return int(n), true, nil
	default:
		return 0, false, fieldErr(key, fmt.Sprintf("must be an integer, got %T", v))
	}
}

// optionalBool returns (false, nil) when the key is absent.
func optionalBool(p Params, key string) (bool, error) {
	v, ok := p[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fieldErr(key, fmt.Sprintf("must be a boolean, got %T", v))
	}
	return b, nil
}

// rowsField decodes a table region. It accepts [][]string directly and
// the []any-of-[]any shape JSON decoding produces.
func rowsField(p Params, key string) ([][]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, fieldErr(key, "required parameter missing")
	}

	switch rows := v.(type) {
	case [][]string:
		if len(rows) == 0 {
			return nil, fieldErr(key, "must contain at least one row")
		}
		return rows, nil
	case []any:
		if len(rows) == 0 {
			return nil, fieldErr(key, "must contain at least one row")
		}
		out := make([][]string, len(rows))
		for i, rowVal := range rows {
			cells, ok := rowVal.([]any)
			if !ok {
				return nil, fieldErr(key, fmt.Sprintf("row %d must be an array, got %T", i, rowVal))
			}
			row := make([]string, len(cells))
			for j, cellVal := range cells {
				s, ok := cellVal.(string)
				if !ok {
					return nil, fieldErr(key, fmt.Sprintf("row %d cell %d must be a string, got %T", i, j, cellVal))
				}
				row[j] = s
			}
			out[i] = row
		}
		return out, nil
	default:
		return nil, fieldErr(key, fmt.Sprintf("must be an array of rows, got %T", v))
	}
}
