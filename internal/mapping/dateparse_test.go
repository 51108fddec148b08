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
	"testing"
	"time"
)

// TestStrptimeToLayout verifies strptime directive translation.
func TestStrptimeToLayout(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"%Y-%m-%d", "2006-01-02"},
		{"%d-%m-%Y", "02-01-2006"},
		{"%d/%m/%Y %H:%M:%S", "02/01/2006 15:04:05"},
		{"%y%m%d", "060102"},
		{"100%%", "100%"},
	}

	for _, tt := range tests {
		got, err := strptimeToLayout(tt.format)
		if err != nil {
			t.Errorf("strptimeToLayout(%q) error: %v", tt.format, err)
			continue
		}
		if got != tt.want {
			t.Errorf("strptimeToLayout(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

// TestStrptimeToLayout_Unsupported verifies that unknown directives fail
// rather than silently passing through.
func TestStrptimeToLayout_Unsupported(t *testing.T) {
	for _, format := range []string{"%Q", "%d-%b-%Y", "trailing%"} {
		if _, err := strptimeToLayout(format); err == nil {
			t.Errorf("strptimeToLayout(%q) expected error, got none", format)
		}
	}
}

// TestParseDate_ExplicitFormat verifies that a configured format is applied
// strictly: the value must match exactly, and a mismatch is an error rather
// than a flexible retry.
func TestParseDate_ExplicitFormat(t *testing.T) {
	got, err := parseDate("04-02-2025", "%d-%m-%Y", false)
	if err != nil {
		t.Fatalf("parseDate error: %v", err)
	}
	want := time.Date(2025, time.February, 4, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parseDate = %v, want %v", got, want)
	}

	// 2025-02-04 is a valid date but not in %d-%m-%Y form.
	if _, err := parseDate("2025-02-04", "%d-%m-%Y", false); err == nil {
		t.Error("expected error for value not matching explicit format")
	}
}

// TestParseFlexible_DayFirst verifies that ambiguous all-numeric dates are
// read day-first.
func TestParseFlexible_DayFirst(t *testing.T) {
	got, err := parseFlexible("04-02-2025", false)
	if err != nil {
		t.Fatalf("parseFlexible error: %v", err)
	}
	want := time.Date(2025, time.February, 4, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parseFlexible(04-02-2025) = %v, want %v (day-first)", got, want)
	}
}

// TestParseFlexible_SwapsWhenDayFirstImpossible verifies the month/day swap
// when the middle component cannot be a month.
func TestParseFlexible_SwapsWhenDayFirstImpossible(t *testing.T) {
	got, err := parseFlexible("02-14-2025", false)
	if err != nil {
		t.Fatalf("parseFlexible error: %v", err)
	}
	want := time.Date(2025, time.February, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parseFlexible(02-14-2025) = %v, want %v", got, want)
	}
}

// TestParseFlexible_Separators verifies the recognised separators and the
// year-first order.
func TestParseFlexible_Separators(t *testing.T) {
	want := time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC)
	for _, value := range []string{"2025-03-07", "07/03/2025", "07.03.2025", "2025/03/07"} {
		got, err := parseFlexible(value, false)
		if err != nil {
			t.Errorf("parseFlexible(%q) error: %v", value, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseFlexible(%q) = %v, want %v", value, got, want)
		}
	}
}

// TestParseFlexible_WithTime verifies datetime parsing with both space and
// T separators.
func TestParseFlexible_WithTime(t *testing.T) {
	want := time.Date(2025, time.February, 4, 13, 45, 30, 0, time.UTC)
	for _, value := range []string{"04-02-2025 13:45:30", "2025-02-04T13:45:30"} {
		got, err := parseFlexible(value, true)
		if err != nil {
			t.Errorf("parseFlexible(%q) error: %v", value, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseFlexible(%q) = %v, want %v", value, got, want)
		}
	}

	// Time component on a plain date field is an error.
	if _, err := parseFlexible("04-02-2025 13:45:30", false); err == nil {
		t.Error("expected error for time component in date field")
	}
}

// TestParseFlexible_Invalid verifies rejection of impossible dates and
// malformed inputs.
func TestParseFlexible_Invalid(t *testing.T) {
	invalid := []string{
		"31-02-2025", // Feb 31
		"00-01-2025",
		"13-13-2025", // neither order works
		"04022025",   // no separator
		"04-02",      // two components
		"aa-bb-cccc",
		"04-02-25", // no 4-digit year
	}
	for _, value := range invalid {
		if _, err := parseFlexible(value, false); err == nil {
			t.Errorf("parseFlexible(%q) expected error, got none", value)
		}
	}
}

// TestParseDate_FallbackLayouts verifies that values the flexible parser
// cannot handle still resolve via the fallback layout list.
func TestParseDate_FallbackLayouts(t *testing.T) {
	got, err := parseDate("2025-02-04T13:45:30Z", "", true)
	if err != nil {
		t.Fatalf("parseDate error: %v", err)
	}
	want := time.Date(2025, time.February, 4, 13, 45, 30, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parseDate = %v, want %v", got, want)
	}
}
