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

// Package profile resolves named import profiles: the security policy, field
// mappings, lookup rules, and file processing order for one data source.
// Profiles are declared in YAML and immutable once loaded.
package profile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LookupRule resolves a natural-key value in a source field to a surrogate
// key before insertion. Query is a parameterized template with a single
// :value placeholder; {table} expands to Table.
type LookupRule struct {
	Table           string `yaml:"table"`
	Query           string `yaml:"query"`
	ErrorIfNotFound bool   `yaml:"error_if_not_found"`
}

// FieldSpec maps one source field to a target column with a semantic type.
type FieldSpec struct {
	Column string      `yaml:"column"`
	Type   string      `yaml:"type"` // string, integer, float, date, datetime, boolean
	Format string      `yaml:"format,omitempty"`
	Lookup *LookupRule `yaml:"lookup,omitempty"`
}

// Field pairs a source-field name with its spec, preserving declaration order.
type Field struct {
	Source string
	Spec   FieldSpec
}

// TableMapping maps one source file (or a root-element subset of it) to a
// target table. KeyColumn is the upsert conflict key.
type TableMapping struct {
	Name        string
	RootElement string
	KeyColumn   string
	Fields      []Field
}

// Field returns the spec for a source-field name.
func (m *TableMapping) Field(source string) (FieldSpec, bool) {
	for _, f := range m.Fields {
		if f.Source == source {
			return f.Spec, true
		}
	}
	return FieldSpec{}, false
}

// ArchiveLimits bound archive extraction (zip-bomb protection).
type ArchiveLimits struct {
	MaxRatio          float64
	MaxFiles          int
	MaxFileSize       int64
	AllowedExtensions []string
}

// XMLLimits bound structured XML parsing.
type XMLLimits struct {
	MaxDepth        int
	DisableEntities bool
	DisableDTD      bool
}

// JSONLimits bound structured JSON parsing.
type JSONLimits struct {
	MaxDepth     int
	MaxStringLen int
	MaxArrayLen  int
}

// SecurityPolicy is the layered policy the gate enforces for one profile.
type SecurityPolicy struct {
	EmailChecks            []string // subset of {spf, dkim, dmarc}
	AllowedSenderDomains   []string
	SpamThreshold          float64
	MalwareScan            bool
	MaxAttachmentSize      int64
	AllowedAttachmentTypes []string
	Archive                ArchiveLimits
	XML                    XMLLimits
	JSON                   JSONLimits
}

// RequiresCheck reports whether the named optional email check (spf, dkim,
// dmarc) is required by this policy.
func (p *SecurityPolicy) RequiresCheck(name string) bool {
	for _, c := range p.EmailChecks {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// Profile is one named import configuration. Read-only after load; shared
// by all pipeline components for the duration of one run.
type Profile struct {
	Name              string
	SenderEmails      []string
	PrimaryAttachment string
	Lookback          time.Duration
	Inboxes           []string
	ReferenceOrder    []string
	Mappings          map[string][]TableMapping
	Security          SecurityPolicy
}

// MappingsFor returns the table mappings declared for one source file name.
func (p *Profile) MappingsFor(fileName string) ([]TableMapping, error) {
	maps, ok := p.Mappings[fileName]
	if !ok || len(maps) == 0 {
		return nil, fmt.Errorf("no mapping found for file %s in profile %s", fileName, p.Name)
	}
	return maps, nil
}

// --- YAML mirror structures ---

type rawLookup struct {
	Table           string `yaml:"table"`
	Query           string `yaml:"query"`
	ErrorIfNotFound bool   `yaml:"error_if_not_found"`
}

type rawField struct {
	Column string     `yaml:"column"`
	Type   string     `yaml:"type"`
	Format string     `yaml:"format"`
	Lookup *rawLookup `yaml:"lookup"`
}

type rawTable struct {
	Name        string    `yaml:"name"`
	RootElement string    `yaml:"root_element"`
	Key         string    `yaml:"key"`
	Fields      yaml.Node `yaml:"fields"`
}

type rawMapping struct {
	// Single-table shorthand…
	Table       string    `yaml:"table"`
	RootElement string    `yaml:"root_element"`
	Key         string    `yaml:"key"`
	Fields      yaml.Node `yaml:"fields"`
	// …or an explicit multi-table list.
	Tables []rawTable `yaml:"tables"`
}

type rawSecurity struct {
	EmailChecks            []string `yaml:"email_checks"`
	AllowedSenderDomains   []string `yaml:"allowed_sender_domains"`
	SpamThreshold          *float64 `yaml:"spam_threshold"`
	MalwareScan            *bool    `yaml:"malware_scan"`
	MaxAttachmentSize      string   `yaml:"max_attachment_size"`
	AllowedAttachmentTypes []string `yaml:"allowed_attachment_types"`
	FileValidation         struct {
		ZipExtraction struct {
			MaxRatio     *float64 `yaml:"max_ratio"`
			MaxFiles     int      `yaml:"max_files"`
			MaxFileSize  string   `yaml:"max_file_size"`
			AllowedTypes []string `yaml:"allowed_types"`
		} `yaml:"zip_extraction"`
		XML struct {
			MaxDepth        int   `yaml:"max_depth"`
			DisableEntities *bool `yaml:"disable_entities"`
			DisableDTD      *bool `yaml:"disable_dtd"`
		} `yaml:"xml"`
		JSON struct {
			MaxDepth        int `yaml:"max_depth"`
			MaxStringLength int `yaml:"max_string_length"`
			MaxArrayLength  int `yaml:"max_array_length"`
		} `yaml:"json"`
	} `yaml:"file_validation"`
}

type rawProfile struct {
	SenderEmail       string                `yaml:"sender_email"`
	SenderEmails      []string              `yaml:"sender_emails"`
	PrimaryAttachment string                `yaml:"primary_attachment"`
	DaysLookback      int                   `yaml:"days_lookback"`
	Inboxes           []string              `yaml:"inboxes"`
	ReferenceOrder    []string              `yaml:"reference_order"`
	Mappings          map[string]rawMapping `yaml:"mappings"`
	Security          rawSecurity           `yaml:"security"`
}

// parseFields walks a YAML mapping node pair-wise so the declared field
// order survives decoding. yaml.v3 map decoding would lose it.
func parseFields(node yaml.Node) ([]Field, error) {
	if node.Kind == 0 {
		return nil, fmt.Errorf("fields block is missing")
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("fields must be a mapping, got %v", node.Kind)
	}

	fields := make([]Field, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var rf rawField
		if err := node.Content[i+1].Decode(&rf); err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		if rf.Column == "" {
			return nil, fmt.Errorf("field %s: column is required", key)
		}

		spec := FieldSpec{
			Column: rf.Column,
			Type:   rf.Type,
			Format: rf.Format,
		}
		if spec.Type == "" {
			spec.Type = "string"
		}
		if !validFieldType(spec.Type) {
			return nil, fmt.Errorf("field %s: unknown type %q", key, rf.Type)
		}
		if rf.Lookup != nil {
			if rf.Lookup.Table == "" || rf.Lookup.Query == "" {
				return nil, fmt.Errorf("field %s: lookup requires table and query", key)
			}
			spec.Lookup = &LookupRule{
				Table:           rf.Lookup.Table,
				Query:           rf.Lookup.Query,
				ErrorIfNotFound: rf.Lookup.ErrorIfNotFound,
			}
		}
		fields = append(fields, Field{Source: key, Spec: spec})
	}
	return fields, nil
}

func validFieldType(t string) bool {
	switch t {
	case "string", "integer", "float", "date", "datetime", "boolean":
		return true
	}
	return false
}

// parseSize converts a human size string ("50MB", "10KB", "1048576") to bytes.
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	units := []struct {
		suffix string
		mult   int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			num := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q", s)
			}
			return int64(f * float64(u.mult)), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n, nil
}
