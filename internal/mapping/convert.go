// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mapping

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Convert turns a raw source value into its semantic type. A nil result
// with nil error means the value was empty; a non-nil error is a per-field
// conversion failure that the caller absorbs into the record.
//
// Dispatch is a tagged-variant switch over the configured type; the same
// engine behaves differently per profile purely through data.
func Convert(raw, fieldType, format string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	switch fieldType {
	case "string":
		return raw, nil

	case "integer":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		// "42.0" style numerics are accepted and truncated.
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return int64(f), nil
		}
		return nil, fmt.Errorf("cannot convert %q to integer", raw)

	case "float":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to float", raw)
		}
		return f, nil

	case "boolean":
		switch strings.ToLower(raw) {
		case "true", "yes", "1", "t", "y":
			return true, nil
		case "false", "no", "0", "f", "n":
			return false, nil
		}
		return nil, fmt.Errorf("cannot convert %q to boolean", raw)

	case "date":
		t, err := parseDate(raw, format, false)
		if err != nil {
			return nil, err
		}
		return t.Truncate(24 * time.Hour), nil

	case "datetime":
		t, err := parseDate(raw, format, true)
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	return nil, fmt.Errorf("unknown field type %q", fieldType)
}
