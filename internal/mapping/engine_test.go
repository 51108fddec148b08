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

	"github.com/bcem/refimport/internal/models"
	"github.com/bcem/refimport/internal/profile"
	"github.com/bcem/refimport/internal/security"
)

func testPolicy() *profile.SecurityPolicy {
	return &profile.SecurityPolicy{
		XML:  profile.XMLLimits{MaxDepth: 100, DisableEntities: true, DisableDTD: true},
		JSON: profile.JSONLimits{MaxDepth: 50, MaxStringLen: 10000, MaxArrayLen: 1000},
	}
}

func parseDoc(t *testing.T, name, content string) *security.Document {
	t.Helper()
	doc, err := security.ParseDocument(name, []byte(content), testPolicy())
	if err != nil {
		t.Fatalf("ParseDocument(%s) error: %v", name, err)
	}
	return doc
}

func productMapping() profile.TableMapping {
	return profile.TableMapping{
		Name:        "products",
		RootElement: "product",
		KeyColumn:   "code",
		Fields: []profile.Field{
			{Source: "code", Spec: profile.FieldSpec{Column: "code", Type: "string"}},
			{Source: "qty", Spec: profile.FieldSpec{Column: "quantity", Type: "integer"}},
			{Source: "active", Spec: profile.FieldSpec{Column: "is_active", Type: "boolean"}},
			{Source: "group", Spec: profile.FieldSpec{
				Column: "group_id",
				Type:   "string",
				Lookup: &profile.LookupRule{Table: "groups", ErrorIfNotFound: true},
			}},
		},
	}
}

// TestEngine_MapXML verifies that each root element becomes one record with
// converted field values in declaration order.
func TestEngine_MapXML(t *testing.T) {
	doc := parseDoc(t, "products.xml", `<export>
		<product><code>P-1</code><qty>5</qty><active>yes</active><group>tools</group></product>
		<product><code>P-2</code><qty>0</qty><active>no</active><group>paint</group></product>
	</export>`)

	records := NewEngine().Map(doc, productMapping())

	var got []*models.ExtractedRecord
	for {
		rec, ok := records.Next()
		if !ok {
			break
		}
		got = append(got, rec)
	}

	if len(got) != 2 {
		t.Fatalf("record count = %d, want 2", len(got))
	}

	first := got[0]
	if first.Table != "products" {
		t.Errorf("table = %q, want products", first.Table)
	}
	if len(first.Fields) != 4 {
		t.Fatalf("field count = %d, want 4", len(first.Fields))
	}
	if first.Fields[0].Value != "P-1" {
		t.Errorf("code = %v, want P-1", first.Fields[0].Value)
	}
	if first.Fields[1].Value != int64(5) {
		t.Errorf("quantity = %v, want 5", first.Fields[1].Value)
	}
	if first.Fields[2].Value != true {
		t.Errorf("is_active = %v, want true", first.Fields[2].Value)
	}
}

// TestEngine_LookupPassthrough verifies that lookup fields carry the raw
// natural key untouched, tagged for the loader to resolve.
func TestEngine_LookupPassthrough(t *testing.T) {
	doc := parseDoc(t, "products.xml",
		`<export><product><code>P-1</code><qty>1</qty><active>y</active><group>tools</group></product></export>`)

	rec, ok := NewEngine().Map(doc, productMapping()).Next()
	if !ok {
		t.Fatal("expected one record")
	}

	group := rec.Fields[3]
	if !group.Lookup {
		t.Error("group field should be tagged for lookup")
	}
	if group.Raw != "tools" {
		t.Errorf("group raw = %q, want tools", group.Raw)
	}
	if group.Value != nil {
		t.Errorf("group value = %v, want nil before resolution", group.Value)
	}
}

// TestEngine_ConversionErrorIsPerField verifies that one bad field flags
// that field and leaves the rest of the record, and sibling records, intact.
func TestEngine_ConversionErrorIsPerField(t *testing.T) {
	doc := parseDoc(t, "products.xml", `<export>
		<product><code>P-1</code><qty>many</qty><active>yes</active><group>tools</group></product>
		<product><code>P-2</code><qty>3</qty><active>yes</active><group>tools</group></product>
	</export>`)

	records := NewEngine().Map(doc, productMapping())

	first, ok := records.Next()
	if !ok {
		t.Fatal("expected first record")
	}
	if errs := first.ConversionErrors(); len(errs) != 1 {
		t.Fatalf("conversion errors = %d, want 1", len(errs))
	}
	if first.Fields[1].Err == "" || first.Fields[1].Raw != "many" {
		t.Errorf("bad field = %+v, want raw preserved with error", first.Fields[1])
	}
	if first.Fields[0].Value != "P-1" {
		t.Errorf("sibling field lost: code = %v", first.Fields[0].Value)
	}

	second, ok := records.Next()
	if !ok {
		t.Fatal("expected second record after conversion error")
	}
	if second.Fields[1].Value != int64(3) {
		t.Errorf("second record quantity = %v, want 3", second.Fields[1].Value)
	}
}

// TestEngine_AbsentFieldIsNull verifies that a missing source field yields
// a null column, not an error.
func TestEngine_AbsentFieldIsNull(t *testing.T) {
	doc := parseDoc(t, "products.xml",
		`<export><product><code>P-1</code></product></export>`)

	rec, ok := NewEngine().Map(doc, productMapping()).Next()
	if !ok {
		t.Fatal("expected one record")
	}

	qty := rec.Fields[1]
	if qty.Value != nil || qty.Err != "" {
		t.Errorf("absent field = %+v, want null without error", qty)
	}
}

// TestEngine_MapJSON verifies the same mapping works unchanged over a JSON
// document.
func TestEngine_MapJSON(t *testing.T) {
	doc := parseDoc(t, "products.json",
		`[{"code":"P-9","qty":7,"active":true,"group":"tools"}]`)

	tm := productMapping()
	tm.RootElement = ""

	rec, ok := NewEngine().Map(doc, tm).Next()
	if !ok {
		t.Fatal("expected one record")
	}
	if rec.Fields[0].Value != "P-9" {
		t.Errorf("code = %v, want P-9", rec.Fields[0].Value)
	}
	if rec.Fields[1].Value != int64(7) {
		t.Errorf("quantity = %v, want 7", rec.Fields[1].Value)
	}
	if rec.Fields[2].Value != true {
		t.Errorf("is_active = %v, want true", rec.Fields[2].Value)
	}
}

// TestEngine_SinglePass verifies the sequence is consumed once.
func TestEngine_SinglePass(t *testing.T) {
	doc := parseDoc(t, "products.xml",
		`<export><product><code>P-1</code></product></export>`)

	records := NewEngine().Map(doc, productMapping())
	if _, ok := records.Next(); !ok {
		t.Fatal("expected one record")
	}
	if _, ok := records.Next(); ok {
		t.Error("sequence should be exhausted after one record")
	}
}
