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
	"errors"
	"fmt"
)

// ArchiveViolation reports a breached archive-safety limit (zip bomb, entry
// count, entry size, disallowed extension, path traversal). Treated as a
// security rejection; partial extraction output is discarded.
type ArchiveViolation struct {
	Entry  string
	Reason string
}

func (e *ArchiveViolation) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("archive safety violation: %s", e.Reason)
	}
	return fmt.Sprintf("archive safety violation in %s: %s", e.Entry, e.Reason)
}

// ParseViolation reports a breached structured-parse safety limit. Scoped to
// one file; sibling files are unaffected.
type ParseViolation struct {
	File   string
	Reason string
}

func (e *ParseViolation) Error() string {
	return fmt.Sprintf("parse safety violation in %s: %s", e.File, e.Reason)
}

// ErrScanUnavailable marks the malware-scan engine as unreachable. Policy is
// fail-closed: this rejects the message, it never passes it.
var ErrScanUnavailable = errors.New("malware scan engine unavailable")
