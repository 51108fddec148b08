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
	"strings"
	"testing"
)

// TestFingerprint verifies stability and content sensitivity. The file name
// plays no part: the same bytes under any name fingerprint identically.
func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("<export/>"))
	b := Fingerprint([]byte("<export/>"))
	c := Fingerprint([]byte("<export> </export>"))

	if a != b {
		t.Error("identical content must fingerprint identically")
	}
	if a == c {
		t.Error("different content must fingerprint differently")
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Errorf("fingerprint %q not lowercase hex SHA-256", a)
	}
}

// TestFingerprint_Empty verifies empty content is still a valid fingerprint.
func TestFingerprint_Empty(t *testing.T) {
	if got := Fingerprint(nil); len(got) != 64 {
		t.Errorf("fingerprint of empty content = %q", got)
	}
}
