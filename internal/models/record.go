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

package models

// FieldValue is one converted column value on an extracted record. Exactly
// one of the following holds per field:
//
//   - a converted Value ready for insertion
//   - a pending lookup (Lookup=true, Raw carries the natural key)
//   - a conversion error (Err != "", Value nil)
type FieldValue struct {
	Column string
	Value  any
	Raw    string
	Lookup bool
	Err    string
}

// ExtractedRecord is one mapped source-record unit: an ordered set of target
// columns. Transient; produced by the mapping engine and consumed immediately
// by the loader.
type ExtractedRecord struct {
	Table  string
	Fields []FieldValue
}

// ConversionErrors returns the per-field conversion failures accumulated on
// the record. A non-empty result does not make the record unloadable.
func (r *ExtractedRecord) ConversionErrors() []FieldValue {
	var errs []FieldValue
	for _, f := range r.Fields {
		if f.Err != "" {
			errs = append(errs, f)
		}
	}
	return errs
}

// FileState tracks one source file through the pipeline.
//
//	Pending → Extracting → Skipped
//	Pending → Extracting → Mapping → Loading → Committed
//	                     …→ Loading → RolledBack
//
// Skipped, Committed and RolledBack are terminal.
type FileState string

const (
	FilePending    FileState = "pending"
	FileExtracting FileState = "extracting"
	FileSkipped    FileState = "skipped"
	FileMapping    FileState = "mapping"
	FileLoading    FileState = "loading"
	FileCommitted  FileState = "committed"
	FileRolledBack FileState = "rolled_back"
)

// Terminal reports whether no further transition is allowed from s.
func (s FileState) Terminal() bool {
	switch s {
	case FileSkipped, FileCommitted, FileRolledBack:
		return true
	}
	return false
}
