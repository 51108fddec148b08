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
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bcem/refimport/internal/profile"
)

// Unit is one source-record unit of a parsed document. Field returns the raw
// textual value of a named source field, descendant-first for XML.
type Unit interface {
	Field(name string) (string, bool)
}

// Document is a structured file parsed under the policy's safety limits.
// Parsing is single-use upstream of the mapping engine; the document itself
// is an immutable tree.
type Document struct {
	Name    string
	root    *xmlNode
	records []jsonUnit
	isXML   bool
}

// Units returns the record units selected by rootElement. For XML this is
// every descendant element with that name (or the document root when empty);
// for JSON it is each array element, or each element of the array stored
// under the rootElement key, or the whole object.
func (d *Document) Units(rootElement string) []Unit {
	if d.isXML {
		var elems []*xmlNode
		if rootElement == "" {
			elems = []*xmlNode{d.root}
		} else {
			d.root.findAll(rootElement, &elems)
		}
		units := make([]Unit, len(elems))
		for i, e := range elems {
			units[i] = e
		}
		return units
	}

	units := make([]Unit, 0, len(d.records))
	for _, r := range d.records {
		if rootElement != "" {
			nested, ok := r[rootElement]
			if !ok {
				continue
			}
			switch v := nested.(type) {
			case []any:
				for _, item := range v {
					if m, ok := item.(map[string]any); ok {
						units = append(units, jsonUnit(m))
					}
				}
			case map[string]any:
				units = append(units, jsonUnit(v))
			}
			continue
		}
		units = append(units, r)
	}
	return units
}

// ParseDocument parses an extracted file with a safety-constrained parser.
// XML parsing rejects DTDs and entity declarations and caps nesting depth;
// JSON parsing caps nesting depth, string length, and array length. Any
// breach is a ParseViolation scoped to this file.
func ParseDocument(name string, content []byte, policy *profile.SecurityPolicy) (*Document, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".xml":
		root, err := parseXML(name, content, policy.XML)
		if err != nil {
			return nil, err
		}
		return &Document{Name: name, root: root, isXML: true}, nil
	case ".json":
		records, err := parseJSON(name, content, policy.JSON)
		if err != nil {
			return nil, err
		}
		return &Document{Name: name, records: records}, nil
	}
	return nil, &ParseViolation{File: name, Reason: "unsupported file type"}
}

// --- XML ---

type xmlNode struct {
	name     string
	text     string
	children []*xmlNode
}

// Field implements Unit: first descendant element with a matching local
// name, depth-first.
func (n *xmlNode) Field(name string) (string, bool) {
	for _, c := range n.children {
		if c.name == name {
			return strings.TrimSpace(c.text), true
		}
		if v, ok := c.Field(name); ok {
			return v, true
		}
	}
	return "", false
}

func (n *xmlNode) findAll(name string, out *[]*xmlNode) {
	for _, c := range n.children {
		if c.name == name {
			*out = append(*out, c)
		}
		c.findAll(name, out)
	}
}

func parseXML(name string, content []byte, limits profile.XMLLimits) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.Strict = true
	if !limits.DisableEntities {
		// Permissive mode still never resolves external entities; it only
		// widens the allowed character-entity set.
		dec.Entity = xml.HTMLEntity
	}

	root := &xmlNode{}
	stack := []*xmlNode{root}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseViolation{File: name, Reason: fmt.Sprintf("malformed XML: %v", err)}
		}

		switch t := tok.(type) {
		case xml.Directive:
			if limits.DisableDTD {
				return nil, &ParseViolation{File: name, Reason: "DTD processing is disabled"}
			}
		case xml.ProcInst:
			// XML declaration only; anything else is suspect but harmless
			// because we never dispatch on it.
		case xml.StartElement:
			if len(stack) > limits.MaxDepth {
				return nil, &ParseViolation{File: name, Reason: fmt.Sprintf("nesting depth exceeds maximum of %d", limits.MaxDepth)}
			}
			node := &xmlNode{name: t.Name.Local}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, node)
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			stack[len(stack)-1].text += string(t)
		}
	}

	if len(root.children) == 0 {
		return nil, &ParseViolation{File: name, Reason: "empty document"}
	}
	return root.children[0], nil
}

// --- JSON ---

type jsonUnit map[string]any

// Field implements Unit. Scalar values come back as their literal text
// (numbers keep their source representation via json.Number).
func (u jsonUnit) Field(name string) (string, bool) {
	v, ok := u[name]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	}
	return "", false
}

func parseJSON(name string, content []byte, limits profile.JSONLimits) ([]jsonUnit, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	value, err := readJSONValue(dec, 1, limits)
	if err != nil {
		var pv *ParseViolation
		if errors.As(err, &pv) {
			pv.File = name
			return nil, pv
		}
		return nil, &ParseViolation{File: name, Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}

	// Both a single record and an array of records are accepted.
	switch v := value.(type) {
	case map[string]any:
		return []jsonUnit{jsonUnit(v)}, nil
	case []any:
		records := make([]jsonUnit, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, &ParseViolation{File: name, Reason: "array elements must be objects"}
			}
			records = append(records, jsonUnit(m))
		}
		return records, nil
	}
	return nil, &ParseViolation{File: name, Reason: "document root must be an object or array"}
}

func readJSONValue(dec *json.Decoder, depth int, limits profile.JSONLimits) (any, error) {
	if depth > limits.MaxDepth {
		return nil, &ParseViolation{Reason: fmt.Sprintf("nesting depth exceeds maximum of %d", limits.MaxDepth)}
	}

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := make(map[string]any)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				val, err := readJSONValue(dec, depth+1, limits)
				if err != nil {
					return nil, err
				}
				obj[key] = val
			}
			if _, err := dec.Token(); err != nil { // closing }
				return nil, err
			}
			return obj, nil
		case '[':
			var arr []any
			for dec.More() {
				val, err := readJSONValue(dec, depth+1, limits)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
				if len(arr) > limits.MaxArrayLen {
					return nil, &ParseViolation{Reason: fmt.Sprintf("array length exceeds maximum of %d", limits.MaxArrayLen)}
				}
			}
			if _, err := dec.Token(); err != nil { // closing ]
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		if len(t) > limits.MaxStringLen {
			return nil, &ParseViolation{Reason: fmt.Sprintf("string length exceeds maximum of %d", limits.MaxStringLen)}
		}
		return t, nil
	default:
		return tok, nil
	}
}
