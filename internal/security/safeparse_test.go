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

package security

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bcem/refimport/internal/profile"
)

func defaultPolicy() *profile.SecurityPolicy {
	return &profile.SecurityPolicy{
		XML:  profile.XMLLimits{MaxDepth: 100, DisableEntities: true, DisableDTD: true},
		JSON: profile.JSONLimits{MaxDepth: 50, MaxStringLen: 10000, MaxArrayLen: 1000},
	}
}

// TestParseDocument_XML verifies unit selection and field access over a
// nested XML document.
func TestParseDocument_XML(t *testing.T) {
	doc, err := ParseDocument("products.xml", []byte(`<export>
		<meta><batch>77</batch></meta>
		<product><code>P-1</code><detail><weight>2.5</weight></detail></product>
		<product><code>P-2</code></product>
	</export>`), defaultPolicy())
	if err != nil {
		t.Fatalf("ParseDocument error: %v", err)
	}

	units := doc.Units("product")
	if len(units) != 2 {
		t.Fatalf("unit count = %d, want 2", len(units))
	}

	if v, ok := units[0].Field("code"); !ok || v != "P-1" {
		t.Errorf("code = (%q, %v), want P-1", v, ok)
	}
	// Descendant fields resolve through nesting.
	if v, ok := units[0].Field("weight"); !ok || v != "2.5" {
		t.Errorf("weight = (%q, %v), want 2.5", v, ok)
	}
	if _, ok := units[1].Field("weight"); ok {
		t.Error("absent descendant should not resolve")
	}
}

// TestParseDocument_XMLRejectsDTD verifies DTD declarations are refused
// outright, which closes off entity-expansion attacks.
func TestParseDocument_XMLRejectsDTD(t *testing.T) {
	content := `<!DOCTYPE lolz [<!ENTITY lol "lol">]><root>&lol;</root>`

	_, err := ParseDocument("evil.xml", []byte(content), defaultPolicy())
	var pv *ParseViolation
	if !errors.As(err, &pv) {
		t.Fatalf("expected ParseViolation, got %v", err)
	}
	if pv.File != "evil.xml" {
		t.Errorf("violation file = %q, want evil.xml", pv.File)
	}
}

// TestParseDocument_XMLDepthLimit verifies the nesting cap.
func TestParseDocument_XMLDepthLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "<n%d>", i)
	}
	for i := 19; i >= 0; i-- {
		fmt.Fprintf(&b, "</n%d>", i)
	}

	policy := defaultPolicy()
	policy.XML.MaxDepth = 10

	_, err := ParseDocument("deep.xml", []byte(b.String()), policy)
	var pv *ParseViolation
	if !errors.As(err, &pv) {
		t.Fatalf("expected ParseViolation, got %v", err)
	}
}

// TestParseDocument_XMLMalformed verifies malformed input is a violation.
func TestParseDocument_XMLMalformed(t *testing.T) {
	for _, content := range []string{"<root><unclosed></root>", "not xml at all", ""} {
		_, err := ParseDocument("bad.xml", []byte(content), defaultPolicy())
		var pv *ParseViolation
		if !errors.As(err, &pv) {
			t.Errorf("content %q: expected ParseViolation, got %v", content, err)
		}
	}
}

// TestParseDocument_JSON verifies object and array roots and scalar
// stringification.
func TestParseDocument_JSON(t *testing.T) {
	doc, err := ParseDocument("items.json",
		[]byte(`[{"code":"A","qty":3,"active":true},{"code":"B","qty":1.5}]`), defaultPolicy())
	if err != nil {
		t.Fatalf("ParseDocument error: %v", err)
	}

	units := doc.Units("")
	if len(units) != 2 {
		t.Fatalf("unit count = %d, want 2", len(units))
	}
	if v, _ := units[0].Field("qty"); v != "3" {
		t.Errorf("qty = %q, want source literal 3", v)
	}
	if v, _ := units[1].Field("qty"); v != "1.5" {
		t.Errorf("qty = %q, want source literal 1.5", v)
	}
	if v, _ := units[0].Field("active"); v != "true" {
		t.Errorf("active = %q, want true", v)
	}

	// Single-object root is one unit.
	doc, err = ParseDocument("item.json", []byte(`{"code":"C"}`), defaultPolicy())
	if err != nil {
		t.Fatalf("ParseDocument error: %v", err)
	}
	if len(doc.Units("")) != 1 {
		t.Errorf("object root units = %d, want 1", len(doc.Units("")))
	}
}

// TestParseDocument_JSONLimits verifies the depth, string, and array caps.
func TestParseDocument_JSONLimits(t *testing.T) {
	policy := defaultPolicy()
	policy.JSON = profile.JSONLimits{MaxDepth: 3, MaxStringLen: 10, MaxArrayLen: 2}

	tests := []struct {
		name    string
		content string
	}{
		{"depth", `{"a":{"b":{"c":{"d":1}}}}`},
		{"string", `{"a":"` + strings.Repeat("x", 11) + `"}`},
		{"array", `{"a":[1,2,3]}`},
	}
	for _, tt := range tests {
		_, err := ParseDocument("big.json", []byte(tt.content), policy)
		var pv *ParseViolation
		if !errors.As(err, &pv) {
			t.Errorf("%s: expected ParseViolation, got %v", tt.name, err)
		}
	}
}

// TestParseDocument_JSONBadRoot verifies scalar roots and non-object array
// elements are refused.
func TestParseDocument_JSONBadRoot(t *testing.T) {
	for _, content := range []string{`42`, `"hello"`, `[1,2,3]`, `{]`} {
		_, err := ParseDocument("bad.json", []byte(content), defaultPolicy())
		var pv *ParseViolation
		if !errors.As(err, &pv) {
			t.Errorf("content %q: expected ParseViolation, got %v", content, err)
		}
	}
}

// TestParseDocument_UnsupportedExtension verifies anything but .xml/.json
// is refused by name, before any content inspection.
func TestParseDocument_UnsupportedExtension(t *testing.T) {
	for _, name := range []string{"report.csv", "archive.zip", "noext"} {
		_, err := ParseDocument(name, []byte("irrelevant"), defaultPolicy())
		var pv *ParseViolation
		if !errors.As(err, &pv) {
			t.Errorf("%s: expected ParseViolation, got %v", name, err)
		}
	}
}
