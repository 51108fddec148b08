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

package pipeline

import (
	"log/slog"
	"time"

	"github.com/bcem/refimport/internal/models"
)

// EventKind classifies pipeline observations.
type EventKind string

const (
	EventRunStarted  EventKind = "run_started"
	EventRunFinished EventKind = "run_finished"
	EventVerdict     EventKind = "verdict"
	EventFileState   EventKind = "file_state"
)

// Event is a read-only observation emitted as the pipeline progresses.
// Consumers (progress rendering, notifications) are never blocked on.
type Event struct {
	Kind    EventKind
	RunID   string
	Profile string
	File    string
	State   models.FileState
	Detail  string
	Time    time.Time
}

// Sink receives pipeline events. Implementations must not block and must
// tolerate concurrent calls: validation-phase states are emitted from
// worker goroutines.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// LogSink writes events to the structured log.
type LogSink struct{}

// Emit implements Sink.
func (LogSink) Emit(e Event) {
	slog.Info("pipeline event",
		"kind", e.Kind,
		"run_id", e.RunID,
		"profile", e.Profile,
		"file", e.File,
		"state", e.State,
		"detail", e.Detail,
	)
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
