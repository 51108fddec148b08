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

package profile

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store holds the loaded import profiles. Pure data access; resolution only.
type Store struct {
	profiles map[string]*Profile
}

type rawDocument struct {
	Imports map[string]rawProfile `yaml:"imports"`
}

// Load reads import profiles from a YAML document, expanding ${VAR}
// references before unmarshalling.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse builds a Store from raw YAML bytes.
func Parse(data []byte) (*Store, error) {
	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profile YAML: %w", err)
	}
	if len(doc.Imports) == 0 {
		return nil, fmt.Errorf("no import profiles configured")
	}

	store := &Store{profiles: make(map[string]*Profile, len(doc.Imports))}
	for name, raw := range doc.Imports {
		p, err := buildProfile(name, raw)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		store.profiles[name] = p
	}
	return store, nil
}

// Profile resolves a named import profile.
func (s *Store) Profile(name string) (*Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("no configuration found for import profile %q", name)
	}
	return p, nil
}

// Names returns the configured profile names, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for n := range s.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func buildProfile(name string, raw rawProfile) (*Profile, error) {
	p := &Profile{
		Name:              name,
		PrimaryAttachment: raw.PrimaryAttachment,
		Inboxes:           raw.Inboxes,
		ReferenceOrder:    raw.ReferenceOrder,
		Mappings:          make(map[string][]TableMapping, len(raw.Mappings)),
	}

	p.SenderEmails = raw.SenderEmails
	if raw.SenderEmail != "" {
		p.SenderEmails = append(p.SenderEmails, raw.SenderEmail)
	}
	if len(p.SenderEmails) == 0 {
		return nil, fmt.Errorf("sender_email is required")
	}
	if p.PrimaryAttachment == "" {
		return nil, fmt.Errorf("primary_attachment is required")
	}
	if len(p.ReferenceOrder) == 0 {
		return nil, fmt.Errorf("reference_order is required")
	}

	days := raw.DaysLookback
	if days <= 0 {
		days = 90
	}
	p.Lookback = time.Duration(days) * 24 * time.Hour

	if len(p.Inboxes) == 0 {
		p.Inboxes = []string{"INBOX"}
	}

	for fileName, rm := range raw.Mappings {
		maps, err := buildMappings(rm)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", fileName, err)
		}
		p.Mappings[fileName] = maps
	}

	// Every file in reference_order needs a mapping; a typo here would
	// otherwise only surface mid-run.
	for _, f := range p.ReferenceOrder {
		if _, ok := p.Mappings[f]; !ok {
			return nil, fmt.Errorf("reference_order lists %s but no mapping is declared for it", f)
		}
	}

	sec, err := buildSecurity(raw.Security)
	if err != nil {
		return nil, err
	}
	p.Security = sec

	return p, nil
}

func buildMappings(rm rawMapping) ([]TableMapping, error) {
	tables := rm.Tables
	if len(tables) == 0 {
		if rm.Table == "" {
			return nil, fmt.Errorf("table or tables is required")
		}
		tables = []rawTable{{
			Name:        rm.Table,
			RootElement: rm.RootElement,
			Key:         rm.Key,
			Fields:      rm.Fields,
		}}
	}

	out := make([]TableMapping, 0, len(tables))
	for _, rt := range tables {
		if rt.Name == "" {
			return nil, fmt.Errorf("table name is required")
		}
		fields, err := parseFields(rt.Fields)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", rt.Name, err)
		}
		key := rt.Key
		if key == "" {
			key = "id"
		}
		out = append(out, TableMapping{
			Name:        rt.Name,
			RootElement: rt.RootElement,
			KeyColumn:   key,
			Fields:      fields,
		})
	}
	return out, nil
}

func buildSecurity(raw rawSecurity) (SecurityPolicy, error) {
	sec := SecurityPolicy{
		EmailChecks:            raw.EmailChecks,
		AllowedSenderDomains:   raw.AllowedSenderDomains,
		SpamThreshold:          5.0,
		MalwareScan:            true,
		AllowedAttachmentTypes: raw.AllowedAttachmentTypes,
	}
	for _, c := range raw.EmailChecks {
		switch strings.ToLower(c) {
		case "spf", "dkim", "dmarc":
		default:
			return sec, fmt.Errorf("unknown email check %q (want spf, dkim or dmarc)", c)
		}
	}
	if raw.MalwareScan != nil {
		sec.MalwareScan = *raw.MalwareScan
	}
	// Pointer so an explicit 0 (reject everything scored) survives.
	if raw.SpamThreshold != nil {
		sec.SpamThreshold = *raw.SpamThreshold
	}

	maxAtt, err := parseSize(raw.MaxAttachmentSize)
	if err != nil {
		return sec, fmt.Errorf("max_attachment_size: %w", err)
	}
	if maxAtt == 0 {
		maxAtt = 50 << 20
	}
	sec.MaxAttachmentSize = maxAtt

	zc := raw.FileValidation.ZipExtraction
	maxFileSize, err := parseSize(zc.MaxFileSize)
	if err != nil {
		return sec, fmt.Errorf("zip_extraction.max_file_size: %w", err)
	}
	sec.Archive = ArchiveLimits{
		MaxRatio:          15,
		MaxFiles:          zc.MaxFiles,
		MaxFileSize:       maxFileSize,
		AllowedExtensions: zc.AllowedTypes,
	}
	if zc.MaxRatio != nil {
		sec.Archive.MaxRatio = *zc.MaxRatio
	}
	if sec.Archive.MaxFiles == 0 {
		sec.Archive.MaxFiles = 200
	}
	if sec.Archive.MaxFileSize == 0 {
		sec.Archive.MaxFileSize = 50 << 20
	}
	if len(sec.Archive.AllowedExtensions) == 0 {
		sec.Archive.AllowedExtensions = []string{".xml", ".json"}
	}

	xc := raw.FileValidation.XML
	sec.XML = XMLLimits{MaxDepth: xc.MaxDepth, DisableEntities: true, DisableDTD: true}
	if xc.DisableEntities != nil {
		sec.XML.DisableEntities = *xc.DisableEntities
	}
	if xc.DisableDTD != nil {
		sec.XML.DisableDTD = *xc.DisableDTD
	}
	if sec.XML.MaxDepth == 0 {
		sec.XML.MaxDepth = 100
	}

	jc := raw.FileValidation.JSON
	sec.JSON = JSONLimits{
		MaxDepth:     jc.MaxDepth,
		MaxStringLen: jc.MaxStringLength,
		MaxArrayLen:  jc.MaxArrayLength,
	}
	if sec.JSON.MaxDepth == 0 {
		sec.JSON.MaxDepth = 50
	}
	if sec.JSON.MaxStringLen == 0 {
		sec.JSON.MaxStringLen = 10000
	}
	if sec.JSON.MaxArrayLen == 0 {
		sec.JSON.MaxArrayLen = 1000
	}

	return sec, nil
}
