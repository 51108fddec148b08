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

// Package notify publishes import events to Redis for downstream consumers.
// Reporting dashboards and alerting read the list with BRPOP.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/refimport/internal/pipeline"
)

// DefaultQueueName is the Redis list events are pushed to when the
// configuration does not name one.
const DefaultQueueName = "refimport:events"

// Publisher sends pipeline events to a Redis list as JSON documents.
type Publisher struct {
	rdb       *redis.Client
	queueName string
	timeout   time.Duration
}

// NewPublisher creates a publisher targeting the named Redis list.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
		timeout:   2 * time.Second,
	}
}

// eventDocument is the wire form of a pipeline event.
type eventDocument struct {
	Kind    string    `json:"kind"`
	RunID   string    `json:"run_id"`
	Profile string    `json:"profile"`
	File    string    `json:"file,omitempty"`
	State   string    `json:"state,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Time    time.Time `json:"time"`
}

// Emit implements pipeline.Sink. Publishing is fire-and-forget: a Redis
// failure is logged and the pipeline carries on, since notification delivery
// must never decide whether a file commits.
func (p *Publisher) Emit(e pipeline.Event) {
	doc := eventDocument{
		Kind:    string(e.Kind),
		RunID:   e.RunID,
		Profile: e.Profile,
		File:    e.File,
		State:   string(e.State),
		Detail:  e.Detail,
		Time:    e.Time,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		slog.Error("marshal import event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.rdb.LPush(ctx, p.queueName, string(body)).Err(); err != nil {
		slog.Error("publish import event",
			"queue", p.queueName,
			"kind", doc.Kind,
			"error", err,
		)
		return
	}

	slog.Debug("published import event",
		"queue", p.queueName,
		"kind", doc.Kind,
		"run_id", doc.RunID,
		"file", doc.File,
	)
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
