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

// strptime directives → Go reference-layout fragments. Profile format
// strings use the strptime dialect.
var strptimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'%': "%",
}

// strptimeToLayout translates a strptime-style format ("%d-%m-%Y") into a
// Go time layout ("02-01-2006").
func strptimeToLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return "", fmt.Errorf("trailing %% in format %q", format)
		}
		frag, ok := strptimeDirectives[format[i]]
		if !ok {
			return "", fmt.Errorf("unsupported directive %%%c in format %q", format[i], format)
		}
		b.WriteString(frag)
	}
	return b.String(), nil
}

// parseExplicit parses strictly against a configured strptime format.
// Failure here is a conversion error, never silently retried flexibly.
func parseExplicit(value, format string) (time.Time, error) {
	layout, err := strptimeToLayout(format)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("value %q does not match format %q", value, format)
	}
	return t, nil
}

// fallbackDateLayouts is the ordered list tried after flexible parsing.
var fallbackDateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"01-02-2006",
	"02/01/2006",
	"01/02/2006",
	"02.01.2006",
	"01.02.2006",
}

var fallbackDatetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"02-01-2006 15:04:05",
	"01-02-2006 15:04:05",
	"2006-01-02 15:04",
	"02-01-2006 15:04",
	"01-02-2006 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// parseFlexible recognises the common separators (-, /, .) and both
// year-first and day-first orders. Ambiguous all-numeric dates such as
// 04-02-2025 are read day-first: 4 February 2025. The components are
// swapped only when day-first is impossible (middle token > 12).
func parseFlexible(value string, withTime bool) (time.Time, error) {
	datePart := value
	timePart := ""
	if i := strings.IndexAny(value, " T"); i > 0 {
		datePart, timePart = value[:i], value[i+1:]
	}

	sep := ""
	for _, s := range []string{"-", "/", "."} {
		if strings.Contains(datePart, s) {
			sep = s
			break
		}
	}
	if sep == "" {
		return time.Time{}, fmt.Errorf("no recognised separator in %q", value)
	}

	tokens := strings.Split(datePart, sep)
	if len(tokens) != 3 {
		return time.Time{}, fmt.Errorf("expected 3 date components in %q", value)
	}

	nums := make([]int, 3)
	for i, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return time.Time{}, fmt.Errorf("non-numeric date component %q", tok)
		}
		nums[i] = n
	}

	var year, month, day int
	switch {
	case len(tokens[0]) == 4:
		// Year-first: Y-M-D.
		year, month, day = nums[0], nums[1], nums[2]
	case len(tokens[2]) == 4:
		// Day-first, swapping only when the middle token cannot be a month.
		day, month, year = nums[0], nums[1], nums[2]
		if month > 12 && day <= 12 {
			day, month = month, day
		}
	default:
		return time.Time{}, fmt.Errorf("no 4-digit year in %q", value)
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("invalid date components in %q", value)
	}

	hour, min, sec := 0, 0, 0
	if timePart != "" {
		if !withTime {
			return time.Time{}, fmt.Errorf("unexpected time component in date %q", value)
		}
		var err error
		hour, min, sec, err = parseClock(timePart)
		if err != nil {
			return time.Time{}, err
		}
	}

	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
	// time.Date normalises overflow (Feb 31 → Mar 3); reject that.
	if t.Day() != day || int(t.Month()) != month || t.Year() != year {
		return time.Time{}, fmt.Errorf("invalid calendar date %q", value)
	}
	return t, nil
}

func parseClock(s string) (hour, min, sec int, err error) {
	parts := strings.Split(strings.TrimSuffix(s, "Z"), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("invalid time component %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err == nil {
		min, err = strconv.Atoi(parts[1])
	}
	if err == nil && len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
	}
	if err != nil || hour > 23 || min > 59 || sec > 59 {
		return 0, 0, 0, fmt.Errorf("invalid time component %q", s)
	}
	return hour, min, sec, nil
}

// parseDate resolves a date/datetime value by fixed precedence: explicit
// format, flexible parsing, then the ordered fallback layouts.
func parseDate(value, format string, withTime bool) (time.Time, error) {
	if format != "" {
		return parseExplicit(value, format)
	}

	if t, err := parseFlexible(value, withTime); err == nil {
		return t, nil
	}

	layouts := fallbackDateLayouts
	if withTime {
		layouts = append(fallbackDatetimeLayouts, fallbackDateLayouts...)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse %q as date", value)
}
