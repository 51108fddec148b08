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

// Package pipeline drives one import run end to end: profile resolution,
// security gating, idempotency check, mapping, and dependency-ordered
// loading. Validation of sibling files runs concurrently; loading is
// strictly serialized in the profile's reference order, and cancellation
// is honoured at transaction boundaries only.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/bcem/refimport/internal/ledger"
	"github.com/bcem/refimport/internal/loader"
	"github.com/bcem/refimport/internal/mapping"
	"github.com/bcem/refimport/internal/models"
	"github.com/bcem/refimport/internal/profile"
	"github.com/bcem/refimport/internal/security"
)

// Source delivers inbound messages for a profile: the mailbox collaborator.
type Source interface {
	Fetch(ctx context.Context, prof *profile.Profile) ([]*models.InboundMessage, error)
}

// LedgerStore is the slice of ledger.Ledger the pipeline needs.
type LedgerStore interface {
	ShouldProcess(ctx context.Context, fileName string, content []byte) (bool, error)
	Record(ctx context.Context, fileName, fingerprint string, status ledger.Status, recordCount int) error
}

// SeenFilter is the optional fast-path guard in front of the ledger.
type SeenFilter interface {
	IsNew(ctx context.Context, fingerprint string) (bool, error)
	Forget(ctx context.Context, fingerprint string) error
}

// TxBeginner opens database transactions. Satisfied by pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config wires the pipeline's collaborators.
type Config struct {
	Profiles *profile.Store
	Source   Source
	Gate     *security.Gate
	Ledger   LedgerStore
	Seen     SeenFilter // optional
	Engine   *mapping.Engine
	Loader   *loader.Loader
	DB       TxBeginner
	Sink     Sink // optional, defaults to LogSink
}

// Pipeline is the import run orchestrator.
type Pipeline struct {
	profiles *profile.Store
	source   Source
	gate     *security.Gate
	ledger   LedgerStore
	seen     SeenFilter
	engine   *mapping.Engine
	loader   *loader.Loader
	db       TxBeginner
	sink     Sink
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	sink := cfg.Sink
	if sink == nil {
		sink = LogSink{}
	}
	return &Pipeline{
		profiles: cfg.Profiles,
		source:   cfg.Source,
		gate:     cfg.Gate,
		ledger:   cfg.Ledger,
		seen:     cfg.Seen,
		engine:   cfg.Engine,
		loader:   cfg.Loader,
		db:       cfg.DB,
		sink:     sink,
	}
}

// FileOutcome is one file's terminal state for a run.
type FileOutcome struct {
	File    string
	State   models.FileState
	Records int
	Err     string
}

// RunResult summarises one run.
type RunResult struct {
	RunID    string
	Profile  string
	Message  string // processed message ID, empty when none was accepted
	Outcomes []FileOutcome
}

// fileWork carries one file through the concurrent validation phase into
// the serial load phase.
type fileWork struct {
	name        string
	content     []byte
	fingerprint string
	skip        bool
	doc         *security.Document
	parseErr    error
}

// Run executes one import for the named profile: the first message that
// passes the security gate is processed to completion.
func (p *Pipeline) Run(ctx context.Context, profileName string) (*RunResult, error) {
	prof, err := p.profiles.Profile(profileName)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:   uuid.New().String(),
		Profile: profileName,
	}
	p.emit(Event{Kind: EventRunStarted, RunID: result.RunID, Profile: profileName})

	msgs, err := p.source.Fetch(ctx, prof)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if len(msgs) == 0 {
		slog.Info("no messages to process", "profile", profileName)
		p.emit(Event{Kind: EventRunFinished, RunID: result.RunID, Profile: profileName, Detail: "no messages"})
		return result, nil
	}

	for _, msg := range msgs {
		verdict := p.gate.Evaluate(ctx, msg, prof)
		p.emit(Event{
			Kind:    EventVerdict,
			RunID:   result.RunID,
			Profile: profileName,
			File:    prof.PrimaryAttachment,
			Detail:  verdictDetail(verdict),
		})

		if !verdict.Accepted {
			slog.Warn("message rejected by security gate",
				"profile", profileName,
				"message_id", msg.MessageID,
				"reason", verdict.Reason,
			)
			continue
		}

		result.Message = msg.MessageID
		err := p.processFiles(ctx, prof, verdict.Files, result)
		p.emit(Event{Kind: EventRunFinished, RunID: result.RunID, Profile: profileName})
		return result, err
	}

	p.emit(Event{Kind: EventRunFinished, RunID: result.RunID, Profile: profileName, Detail: "no message accepted"})
	return result, nil
}

// processFiles validates concurrently, then loads serially in
// reference_order.
func (p *Pipeline) processFiles(ctx context.Context, prof *profile.Profile, files []models.ExtractedFile, result *RunResult) error {
	byName := make(map[string][]byte, len(files))
	for _, f := range files {
		byName[f.Name] = f.Content
	}

	// Phase 1: fingerprint, idempotency check, and safe parse per file.
	// Independent and side-effect-free up to the point of load.
	work := make([]*fileWork, len(prof.ReferenceOrder))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range prof.ReferenceOrder {
		content, ok := byName[name]
		if !ok {
			continue
		}
		w := &fileWork{name: name, content: content}
		work[i] = w
		p.emit(Event{Kind: EventFileState, RunID: result.RunID, Profile: prof.Name, File: name, State: models.FilePending})
		g.Go(func() error {
			p.emit(Event{Kind: EventFileState, RunID: result.RunID, Profile: prof.Name, File: w.name, State: models.FileExtracting})
			return p.prepareFile(gctx, prof, w)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Phase 2: strictly serialized loading. File N+1's transaction never
	// begins before file N's commit or rollback is durable. The lookup
	// cache starts empty each run: a miss recorded last run may have been
	// filled by a row committed since.
	p.loader.Reset()
	for i, name := range prof.ReferenceOrder {
		w := work[i]
		if w == nil {
			slog.Warn("file listed in reference_order not present in attachment", "file", name)
			continue
		}

		if err := ctx.Err(); err != nil {
			// Cancellation between files: stop dequeuing, leave completed
			// files' ledger entries intact.
			return fmt.Errorf("run cancelled before %s: %w", name, err)
		}

		outcome := p.loadFile(ctx, prof, w, result.RunID)
		result.Outcomes = append(result.Outcomes, outcome)

		if outcome.State == models.FileRolledBack {
			// Later files' lookups depend on this file's rows; continuing
			// would cascade misleading failures.
			return fmt.Errorf("file %s failed: %s", name, outcome.Err)
		}
	}
	return nil
}

func (p *Pipeline) prepareFile(ctx context.Context, prof *profile.Profile, w *fileWork) error {
	w.fingerprint = ledger.Fingerprint(w.content)

	need, err := p.ledger.ShouldProcess(ctx, w.name, w.content)
	if err != nil {
		return fmt.Errorf("ledger check for %s: %w", w.name, err)
	}
	if !need {
		w.skip = true
		return nil
	}

	if p.seen != nil {
		isNew, err := p.seen.IsNew(ctx, w.fingerprint)
		if err != nil {
			// The durable ledger already vouched for processing; a broken
			// fast path must not veto it.
			slog.Warn("seen-filter check failed", "file", w.name, "error", err)
		} else if !isNew {
			w.skip = true
			return nil
		}
	}

	w.doc, w.parseErr = security.ParseDocument(w.name, w.content, &prof.Security)
	return nil
}

// loadFile walks one file through Mapping → Loading → Committed/RolledBack,
// or straight to Skipped.
func (p *Pipeline) loadFile(ctx context.Context, prof *profile.Profile, w *fileWork, runID string) FileOutcome {
	emitState := func(state models.FileState, detail string) {
		p.emit(Event{
			Kind:    EventFileState,
			RunID:   runID,
			Profile: prof.Name,
			File:    w.name,
			State:   state,
			Detail:  detail,
		})
	}

	if w.skip {
		emitState(models.FileSkipped, "unchanged since last success")
		return FileOutcome{File: w.name, State: models.FileSkipped}
	}

	if w.parseErr != nil {
		emitState(models.FileRolledBack, w.parseErr.Error())
		p.recordOutcome(ctx, w, ledger.StatusFailed, 0)
		return FileOutcome{File: w.name, State: models.FileRolledBack, Err: w.parseErr.Error()}
	}

	mappings, err := prof.MappingsFor(w.name)
	if err != nil {
		emitState(models.FileRolledBack, err.Error())
		p.recordOutcome(ctx, w, ledger.StatusFailed, 0)
		return FileOutcome{File: w.name, State: models.FileRolledBack, Err: err.Error()}
	}

	emitState(models.FileMapping, "")

	tx, err := p.db.Begin(ctx)
	if err != nil {
		emitState(models.FileRolledBack, err.Error())
		p.recordOutcome(ctx, w, ledger.StatusFailed, 0)
		return FileOutcome{File: w.name, State: models.FileRolledBack, Err: err.Error()}
	}

	emitState(models.FileLoading, "")

	total, flawed := 0, 0
	for _, tm := range mappings {
		records := p.engine.Map(w.doc, tm)
		n, f, err := p.loader.LoadFile(ctx, tx, w.name, tm, records)
		total += n
		flawed += f
		if err != nil {
			// Roll back the entire file. A partially-applied file must
			// never persist.
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("rollback failed", "file", w.name, "error", rbErr)
			}
			var notFound *loader.LookupNotFound
			if errors.As(err, &notFound) {
				slog.Error("mandatory lookup failed, file rolled back",
					"file", w.name,
					"lookup_table", notFound.Table,
					"value", notFound.Value,
				)
			}
			emitState(models.FileRolledBack, err.Error())
			p.recordOutcome(ctx, w, ledger.StatusFailed, 0)
			return FileOutcome{File: w.name, State: models.FileRolledBack, Err: err.Error()}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		emitState(models.FileRolledBack, err.Error())
		p.recordOutcome(ctx, w, ledger.StatusFailed, 0)
		return FileOutcome{File: w.name, State: models.FileRolledBack, Err: err.Error()}
	}

	// Records with conversion errors still committed with NULL columns;
	// a partial status keeps the file eligible for reprocessing once the
	// source data is corrected.
	status := ledger.StatusSuccess
	if flawed > 0 {
		status = ledger.StatusPartial
	}
	p.recordOutcome(ctx, w, status, total)
	emitState(models.FileCommitted, fmt.Sprintf("%d records", total))
	return FileOutcome{File: w.name, State: models.FileCommitted, Records: total}
}

// recordOutcome writes the ledger entry after the file reached a terminal
// state. On failure the seen-filter forgets the fingerprint so the next
// poll can retry without waiting out the TTL.
func (p *Pipeline) recordOutcome(ctx context.Context, w *fileWork, status ledger.Status, count int) {
	if err := p.ledger.Record(ctx, w.name, w.fingerprint, status, count); err != nil {
		slog.Error("failed to record ledger entry", "file", w.name, "error", err)
	}
	if status != ledger.StatusSuccess && p.seen != nil {
		if err := p.seen.Forget(ctx, w.fingerprint); err != nil {
			slog.Warn("failed to clear seen-filter entry", "file", w.name, "error", err)
		}
	}
}

func (p *Pipeline) emit(e Event) {
	e.Time = time.Now().UTC()
	p.sink.Emit(e)
}

func verdictDetail(v *models.SecurityVerdict) string {
	if v.Accepted {
		return fmt.Sprintf("accepted, %d files", len(v.Files))
	}
	return "rejected: " + v.Reason
}
