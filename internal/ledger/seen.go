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

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultSeenTTL is how long a fingerprint stays in the fast-path
	// filter. Poll lookback windows overlap; the durable ledger remains
	// the source of truth well past this.
	DefaultSeenTTL = 24 * time.Hour

	seenKeyPrefix = "refimport:seen:"
)

// SeenFilter is a Redis SETNX guard in front of the durable ledger. It stops
// overlapping poll windows from re-entering the pipeline with a fingerprint
// whose ledger write has not landed yet.
type SeenFilter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSeenFilter creates a seen-filter backed by Redis.
func NewSeenFilter(rdb *redis.Client) *SeenFilter {
	return &SeenFilter{
		rdb: rdb,
		ttl: DefaultSeenTTL,
	}
}

// IsNew returns true if the fingerprint has NOT been seen before. If true,
// the fingerprint is marked as seen atomically (SETNX).
func (f *SeenFilter) IsNew(ctx context.Context, fingerprint string) (bool, error) {
	key := seenKeyPrefix + fingerprint

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("seen-filter SETNX: %w", err)
	}
	return set, nil
}

// Forget drops a fingerprint from the filter so a failed file can re-enter
// the pipeline on the next poll without waiting for the TTL.
func (f *SeenFilter) Forget(ctx context.Context, fingerprint string) error {
	if err := f.rdb.Del(ctx, seenKeyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("seen-filter DEL: %w", err)
	}
	return nil
}
