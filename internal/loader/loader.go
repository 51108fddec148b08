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

// Package loader applies mapped record batches to Postgres in the profile's
// declared file order, resolving cross-entity lookups to surrogate keys.
// Each file's records are committed as one transaction; a mandatory lookup
// miss or database error aborts the whole file so no partially
// foreign-keyed table state can persist.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bcem/refimport/internal/models"
	"github.com/bcem/refimport/internal/profile"
)

// LookupNotFound reports a mandatory lookup that matched no row. File-scoped
// by policy: the surrounding transaction is rolled back entirely.
type LookupNotFound struct {
	Table string
	Value string
}

func (e *LookupNotFound) Error() string {
	return fmt.Sprintf("no matching record in %s for value %q", e.Table, e.Value)
}

// Querier is the slice of pgx.Tx the loader needs. Satisfied by pgx.Tx and
// by test fakes.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RecordSource is a one-pass sequence of extracted records (mapping.Records).
type RecordSource interface {
	Next() (*models.ExtractedRecord, bool)
}

// Loader writes extracted records inside caller-owned transactions.
type Loader struct {
	// lookupCache spans one run: earlier files' commits are durable before
	// later files load, so cached surrogate keys stay valid. The owner must
	// call Reset between runs; a row committed by a later run would
	// otherwise stay shadowed by a cached miss.
	lookupCache map[string]any
	now         func() time.Time
}

// New creates a loader.
func New() *Loader {
	return &Loader{
		lookupCache: make(map[string]any),
		now:         time.Now,
	}
}

// Reset drops the lookup cache. Called at the start of each run so entries
// never outlive the run whose commits made them valid.
func (l *Loader) Reset() {
	l.lookupCache = make(map[string]any)
}

// LoadFile applies one file's records for one table mapping inside tx.
// Returns the number of records written and the number that carried
// conversion errors (written with those columns NULL). Any error means
// the caller must roll back the transaction; nothing from this file may
// persist.
func (l *Loader) LoadFile(ctx context.Context, tx Querier, fileName string, tm profile.TableMapping, records RecordSource) (int, int, error) {
	count, flawed := 0, 0
	for {
		rec, ok := records.Next()
		if !ok {
			break
		}

		if errs := rec.ConversionErrors(); len(errs) > 0 {
			flawed++
			for _, f := range errs {
				slog.Warn("record carries conversion error, column set to NULL",
					"file", fileName,
					"table", rec.Table,
					"column", f.Column,
					"raw", f.Raw,
				)
			}
		}

		if err := l.resolveLookups(ctx, tx, tm, rec); err != nil {
			return count, flawed, err
		}

		if err := l.saveRecord(ctx, tx, tm, rec); err != nil {
			return count, flawed, fmt.Errorf("save record in %s: %w", rec.Table, err)
		}
		count++

		if count%100 == 0 {
			slog.Info("loading progress", "file", fileName, "table", rec.Table, "records", count)
		}
	}
	return count, flawed, nil
}

// resolveLookups replaces each lookup-tagged field's natural key with the
// surrogate key from the target table. A miss on an error_if_not_found rule
// aborts the file; otherwise the column becomes NULL with a warning.
func (l *Loader) resolveLookups(ctx context.Context, tx Querier, tm profile.TableMapping, rec *models.ExtractedRecord) error {
	for i := range rec.Fields {
		fv := &rec.Fields[i]
		if !fv.Lookup {
			continue
		}

		rule := lookupRuleFor(tm, fv.Column)
		if rule == nil {
			return fmt.Errorf("field %s tagged for lookup but no rule declared", fv.Column)
		}

		value, found, err := l.lookup(ctx, tx, rule, fv.Raw)
		if err != nil {
			return fmt.Errorf("lookup in %s: %w", rule.Table, err)
		}
		if !found {
			if rule.ErrorIfNotFound {
				return &LookupNotFound{Table: rule.Table, Value: fv.Raw}
			}
			slog.Warn("lookup miss, column set to NULL",
				"table", rule.Table,
				"value", fv.Raw,
				"column", fv.Column,
			)
			fv.Value = nil
			continue
		}
		fv.Value = value
	}
	return nil
}

func lookupRuleFor(tm profile.TableMapping, column string) *profile.LookupRule {
	for _, f := range tm.Fields {
		if f.Spec.Column == column && f.Spec.Lookup != nil {
			return f.Spec.Lookup
		}
	}
	return nil
}

// lookup executes the rule's parameterized query template, caching results
// (hits and misses both) per run.
func (l *Loader) lookup(ctx context.Context, tx Querier, rule *profile.LookupRule, value string) (any, bool, error) {
	cacheKey := rule.Table + ":" + value
	if cached, ok := l.lookupCache[cacheKey]; ok {
		return cached, cached != nil, nil
	}

	query := expandLookupQuery(rule)
	var result any
	err := tx.QueryRow(ctx, query, value).Scan(&result)
	if err == pgx.ErrNoRows {
		l.lookupCache[cacheKey] = nil
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	l.lookupCache[cacheKey] = result
	return result, result != nil, nil
}

// expandLookupQuery turns the config template into executable SQL: {table}
// expands to the rule's table, the single :value placeholder becomes $1.
func expandLookupQuery(rule *profile.LookupRule) string {
	q := strings.ReplaceAll(rule.Query, "{table}", rule.Table)
	return strings.ReplaceAll(q, ":value", "$1")
}

// saveRecord upserts one record. NULL-valued columns are omitted from the
// insert; created/modified timestamps are stamped when the mapping does not
// provide them.
func (l *Loader) saveRecord(ctx context.Context, tx Querier, tm profile.TableMapping, rec *models.ExtractedRecord) error {
	columns := make([]string, 0, len(rec.Fields)+2)
	values := make([]any, 0, len(rec.Fields)+2)
	for _, f := range rec.Fields {
		if f.Value == nil {
			continue
		}
		columns = append(columns, f.Column)
		values = append(values, f.Value)
	}
	if len(columns) == 0 {
		return nil
	}

	now := l.now().UTC()
	if !containsColumn(columns, "created") {
		columns = append(columns, "created")
		values = append(values, now)
	}
	if !containsColumn(columns, "modified") {
		columns = append(columns, "modified")
		values = append(values, now)
	}

	sql := buildUpsert(rec.Table, tm.KeyColumn, columns)
	if _, err := tx.Exec(ctx, sql, values...); err != nil {
		return err
	}
	return nil
}

func containsColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

// buildUpsert constructs INSERT … ON CONFLICT (key) DO UPDATE for the given
// columns. Identifiers come from operator-owned configuration, sanitized
// regardless. Without the key column among the values a plain INSERT is
// emitted because Postgres cannot infer the conflict target.
func buildUpsert(table, keyColumn string, columns []string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)

	if !containsColumn(columns, keyColumn) {
		return sql
	}

	var updates []string
	for _, c := range columns {
		if c == keyColumn || c == "created" {
			continue
		}
		q := pgx.Identifier{c}.Sanitize()
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	if len(updates) == 0 {
		return sql + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", pgx.Identifier{keyColumn}.Sanitize())
	}
	return sql + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{keyColumn}.Sanitize(),
		strings.Join(updates, ", "),
	)
}
