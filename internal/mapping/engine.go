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

// Package mapping turns sanitized documents into typed records driven by a
// field-mapping schema. One generic engine interprets the per-profile
// conversion rules; there is no per-format code.
package mapping

import (
	"log/slog"

	"github.com/bcem/refimport/internal/models"
	"github.com/bcem/refimport/internal/profile"
	"github.com/bcem/refimport/internal/security"
)

// Engine maps parsed documents to extracted records.
type Engine struct{}

// NewEngine creates a mapping engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Map returns a lazy, one-pass sequence of extracted records for one table
// mapping. Per-field conversion failures are flagged on the record, never
// raised; they do not stop sibling records from being produced.
func (e *Engine) Map(doc *security.Document, tm profile.TableMapping) *Records {
	return &Records{
		units:   doc.Units(tm.RootElement),
		mapping: tm,
		file:    doc.Name,
	}
}

// Records iterates extracted records. Single pass, non-restartable.
type Records struct {
	units   []security.Unit
	mapping profile.TableMapping
	file    string
	idx     int
}

// Next produces the next record, or false when the sequence is exhausted.
func (r *Records) Next() (*models.ExtractedRecord, bool) {
	if r.idx >= len(r.units) {
		return nil, false
	}
	unit := r.units[r.idx]
	r.idx++

	rec := &models.ExtractedRecord{
		Table:  r.mapping.Name,
		Fields: make([]models.FieldValue, 0, len(r.mapping.Fields)),
	}

	for _, field := range r.mapping.Fields {
		fv := models.FieldValue{Column: field.Spec.Column}

		raw, ok := unit.Field(field.Source)
		if !ok || raw == "" {
			// Absent source field → null column.
			rec.Fields = append(rec.Fields, fv)
			continue
		}

		if field.Spec.Lookup != nil {
			// Resolution is deferred to the loader; pass the natural key
			// through tagged for lookup.
			fv.Raw = raw
			fv.Lookup = true
			rec.Fields = append(rec.Fields, fv)
			continue
		}

		value, err := Convert(raw, field.Spec.Type, field.Spec.Format)
		if err != nil {
			slog.Warn("field conversion failed",
				"file", r.file,
				"table", r.mapping.Name,
				"field", field.Source,
				"column", field.Spec.Column,
				"error", err,
			)
			fv.Raw = raw
			fv.Err = err.Error()
			rec.Fields = append(rec.Fields, fv)
			continue
		}
		fv.Value = value
		rec.Fields = append(rec.Fields, fv)
	}

	return rec, true
}
