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
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bcem/refimport/internal/models"
	"github.com/bcem/refimport/internal/profile"
)

// mockScanner implements Scanner for testing.
type mockScanner struct {
	result ScanResult
	err    error
	calls  int
}

func (m *mockScanner) Scan(_ context.Context, _ []byte) (ScanResult, error) {
	m.calls++
	return m.result, m.err
}

func testProfile() *profile.Profile {
	return &profile.Profile{
		Name:              "supplier_catalog",
		SenderEmails:      []string{"exports@supplier.example.com"},
		PrimaryAttachment: "products.xml",
		Security: profile.SecurityPolicy{
			AllowedSenderDomains: []string{"supplier.example.com"},
			SpamThreshold:        5.0,
			MalwareScan:          true,
			MaxAttachmentSize:    50 << 20,
			Archive: profile.ArchiveLimits{
				MaxRatio:          15,
				MaxFiles:          200,
				MaxFileSize:       50 << 20,
				AllowedExtensions: []string{".xml", ".json"},
			},
			XML:  profile.XMLLimits{MaxDepth: 100, DisableEntities: true, DisableDTD: true},
			JSON: profile.JSONLimits{MaxDepth: 50, MaxStringLen: 10000, MaxArrayLen: 1000},
		},
	}
}

func cleanScanner() *mockScanner {
	return &mockScanner{result: ScanResult{Clean: true}}
}

func testMessage() *models.InboundMessage {
	return &models.InboundMessage{
		MessageID: "m1",
		From:      models.EmailAddress{Address: "exports@supplier.example.com"},
		Attachments: []models.Attachment{{
			Name:        "products.xml",
			ContentType: "application/xml",
			Content:     []byte(`<export><product><code>P-1</code></product></export>`),
		}},
	}
}

func checkState(t *testing.T, v *models.SecurityVerdict, name models.CheckName, want models.CheckState) {
	t.Helper()
	c := v.Check(name)
	if c.State != want {
		t.Errorf("check %s = %s, want %s", name, c.State, want)
	}
}

// TestGate_Accept verifies the full sequence passes a clean message and
// yields its file for processing.
func TestGate_Accept(t *testing.T) {
	scanner := cleanScanner()
	gate := NewGate(GateConfig{Scanner: scanner})

	v := gate.Evaluate(context.Background(), testMessage(), testProfile())
	if !v.Accepted {
		t.Fatalf("verdict rejected: %s", v.Reason)
	}
	if len(v.Files) != 1 || v.Files[0].Name != "products.xml" {
		t.Errorf("files = %v, want the primary attachment", v.Files)
	}
	if scanner.calls != 1 {
		t.Errorf("scanner calls = %d, want 1", scanner.calls)
	}

	checkState(t, v, models.CheckSenderDomain, models.CheckPassed)
	checkState(t, v, models.CheckSpamScore, models.CheckPassed)
	checkState(t, v, models.CheckMalware, models.CheckPassed)
	checkState(t, v, models.CheckParseSafety, models.CheckPassed)
	// Optional email checks default off, plain file skips extraction.
	checkState(t, v, models.CheckSPF, models.CheckSkipped)
	checkState(t, v, models.CheckDKIM, models.CheckSkipped)
	checkState(t, v, models.CheckDMARC, models.CheckSkipped)
	checkState(t, v, models.CheckArchive, models.CheckSkipped)

	// The verdict always carries the full check list.
	if len(v.Checks) != 9 {
		t.Errorf("check count = %d, want 9", len(v.Checks))
	}
}

// TestGate_ShortCircuit verifies that a failure stops evaluation: later
// checks are recorded as not evaluated, never as passed, and no files come
// back.
func TestGate_ShortCircuit(t *testing.T) {
	scanner := cleanScanner()
	gate := NewGate(GateConfig{Scanner: scanner})

	msg := testMessage()
	msg.From.Address = "someone@attacker.example.net"

	v := gate.Evaluate(context.Background(), msg, testProfile())
	if v.Accepted {
		t.Fatal("verdict should be rejected")
	}
	if len(v.Files) != 0 {
		t.Errorf("rejected verdict carries %d files, want 0", len(v.Files))
	}
	if scanner.calls != 0 {
		t.Errorf("scanner ran despite earlier rejection")
	}

	checkState(t, v, models.CheckSenderDomain, models.CheckFailed)
	checkState(t, v, models.CheckSpamScore, models.CheckNotEvaluated)
	checkState(t, v, models.CheckAttachment, models.CheckNotEvaluated)
	checkState(t, v, models.CheckParseSafety, models.CheckNotEvaluated)
	// Policy-skipped checks stay skipped even when unreached.
	checkState(t, v, models.CheckSPF, models.CheckSkipped)
	checkState(t, v, models.CheckMalware, models.CheckNotEvaluated)
}

// TestGate_SpamThreshold verifies rejection above, and acceptance at, the
// configured score.
func TestGate_SpamThreshold(t *testing.T) {
	gate := NewGate(GateConfig{Scanner: cleanScanner()})

	msg := testMessage()
	msg.Headers = map[string]string{"X-Spam-Score": "7.5"}
	v := gate.Evaluate(context.Background(), msg, testProfile())
	if v.Accepted {
		t.Error("score above threshold should reject")
	}
	checkState(t, v, models.CheckSpamScore, models.CheckFailed)

	msg.Headers = map[string]string{"X-Spam-Score": "5.0"}
	v = gate.Evaluate(context.Background(), msg, testProfile())
	if !v.Accepted {
		t.Errorf("score at threshold should pass: %s", v.Reason)
	}
}

// TestGate_MissingAttachment verifies rejection when the expected
// attachment is absent.
func TestGate_MissingAttachment(t *testing.T) {
	gate := NewGate(GateConfig{Scanner: cleanScanner()})

	msg := testMessage()
	msg.Attachments = nil

	v := gate.Evaluate(context.Background(), msg, testProfile())
	if v.Accepted {
		t.Fatal("missing attachment should reject")
	}
	checkState(t, v, models.CheckAttachment, models.CheckFailed)
}

// TestGate_AttachmentTooLarge verifies the size cap.
func TestGate_AttachmentTooLarge(t *testing.T) {
	gate := NewGate(GateConfig{Scanner: cleanScanner()})

	prof := testProfile()
	prof.Security.MaxAttachmentSize = 10

	v := gate.Evaluate(context.Background(), testMessage(), prof)
	if v.Accepted {
		t.Fatal("oversized attachment should reject")
	}
	checkState(t, v, models.CheckAttachment, models.CheckFailed)
}

// TestGate_MalwareFailClosed verifies that scanner unavailability rejects
// rather than waving the message through.
func TestGate_MalwareFailClosed(t *testing.T) {
	tests := []struct {
		name    string
		scanner Scanner
	}{
		{"scan error", &mockScanner{err: fmt.Errorf("%w: connection refused", ErrScanUnavailable)}},
		{"no engine", nil},
	}

	for _, tt := range tests {
		gate := NewGate(GateConfig{Scanner: tt.scanner})
		v := gate.Evaluate(context.Background(), testMessage(), testProfile())
		if v.Accepted {
			t.Errorf("%s: should reject", tt.name)
		}
		checkState(t, v, models.CheckMalware, models.CheckFailed)
	}
}

// TestGate_MalwareInfected verifies a positive detection rejects with the
// signature recorded.
func TestGate_MalwareInfected(t *testing.T) {
	scanner := &mockScanner{result: ScanResult{Clean: false, Signature: "Eicar-Signature"}}
	gate := NewGate(GateConfig{Scanner: scanner})

	v := gate.Evaluate(context.Background(), testMessage(), testProfile())
	if v.Accepted {
		t.Fatal("infected attachment should reject")
	}
	c := v.Check(models.CheckMalware)
	if c.State != models.CheckFailed {
		t.Fatalf("malware check = %+v, want failed", c)
	}
	if !strings.Contains(c.Detail, "Eicar-Signature") {
		t.Errorf("malware detail = %q, want signature recorded", c.Detail)
	}
}

// TestGate_MalwareDisabled verifies the policy toggle skips scanning.
func TestGate_MalwareDisabled(t *testing.T) {
	prof := testProfile()
	prof.Security.MalwareScan = false

	gate := NewGate(GateConfig{Scanner: nil})
	v := gate.Evaluate(context.Background(), testMessage(), prof)
	if !v.Accepted {
		t.Fatalf("verdict rejected: %s", v.Reason)
	}
	checkState(t, v, models.CheckMalware, models.CheckSkipped)
}

// TestGate_ArchiveExtraction verifies a ZIP attachment is extracted when it
// stays inside the limits.
func TestGate_ArchiveExtraction(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"groups.xml":   "<groups><group><code>G-1</code></group></groups>",
		"products.xml": "<export><product><code>P-1</code></product></export>",
	})

	msg := testMessage()
	msg.Attachments = []models.Attachment{{
		Name:        "catalog.zip",
		ContentType: "application/zip",
		Content:     archive,
	}}
	prof := testProfile()
	prof.PrimaryAttachment = "catalog.zip"

	gate := NewGate(GateConfig{Scanner: cleanScanner()})
	v := gate.Evaluate(context.Background(), msg, prof)
	if !v.Accepted {
		t.Fatalf("verdict rejected: %s", v.Reason)
	}
	checkState(t, v, models.CheckArchive, models.CheckPassed)
	if len(v.Files) != 2 {
		t.Errorf("extracted files = %d, want 2", len(v.Files))
	}
}

// TestGate_ArchiveViolationRejects verifies an archive-limit breach rejects
// the whole message.
func TestGate_ArchiveViolationRejects(t *testing.T) {
	archive := buildZip(t, map[string]string{"payload.exe": "MZ"})

	msg := testMessage()
	msg.Attachments = []models.Attachment{{Name: "catalog.zip", Content: archive}}
	prof := testProfile()
	prof.PrimaryAttachment = "catalog.zip"

	gate := NewGate(GateConfig{Scanner: cleanScanner()})
	v := gate.Evaluate(context.Background(), msg, prof)
	if v.Accepted {
		t.Fatal("archive violation should reject")
	}
	checkState(t, v, models.CheckArchive, models.CheckFailed)
	checkState(t, v, models.CheckParseSafety, models.CheckNotEvaluated)
}

// TestGate_ParseSafetyDropsFile verifies a single bad file is dropped while
// the rest of the archive survives, and that losing every file rejects.
func TestGate_ParseSafetyDropsFile(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"good.xml": "<export><product><code>P-1</code></product></export>",
		"bad.xml":  "<export><unclosed></export>",
	})

	msg := testMessage()
	msg.Attachments = []models.Attachment{{Name: "catalog.zip", Content: archive}}
	prof := testProfile()
	prof.PrimaryAttachment = "catalog.zip"

	gate := NewGate(GateConfig{Scanner: cleanScanner()})
	v := gate.Evaluate(context.Background(), msg, prof)
	if !v.Accepted {
		t.Fatalf("verdict rejected: %s", v.Reason)
	}
	if len(v.Files) != 1 || v.Files[0].Name != "good.xml" {
		t.Errorf("files = %v, want only good.xml", v.Files)
	}

	// All files bad → reject.
	archive = buildZip(t, map[string]string{"bad.xml": "<export><unclosed></export>"})
	msg.Attachments[0].Content = archive
	v = gate.Evaluate(context.Background(), msg, prof)
	if v.Accepted {
		t.Fatal("message with no parseable files should reject")
	}
	checkState(t, v, models.CheckParseSafety, models.CheckFailed)
}

// TestGate_EmailChecksRequired verifies SPF/DKIM/DMARC enforcement when the
// policy requires them.
func TestGate_EmailChecksRequired(t *testing.T) {
	prof := testProfile()
	prof.Security.EmailChecks = []string{"spf", "dkim", "dmarc"}

	gate := NewGate(GateConfig{Scanner: cleanScanner(), Resolver: &mockResolver{}})

	msg := testMessage()
	msg.Headers = map[string]string{
		"Authentication-Results": "mx.example; spf=pass; dkim=pass; dmarc=pass",
	}
	v := gate.Evaluate(context.Background(), msg, prof)
	if !v.Accepted {
		t.Fatalf("verdict rejected: %s", v.Reason)
	}
	checkState(t, v, models.CheckSPF, models.CheckPassed)
	checkState(t, v, models.CheckDKIM, models.CheckPassed)
	checkState(t, v, models.CheckDMARC, models.CheckPassed)

	// DKIM failure stops there; DMARC is never reached.
	msg.Headers = map[string]string{
		"Authentication-Results": "mx.example; spf=pass; dkim=fail",
	}
	v = gate.Evaluate(context.Background(), msg, prof)
	if v.Accepted {
		t.Fatal("dkim failure should reject")
	}
	checkState(t, v, models.CheckDKIM, models.CheckFailed)
	checkState(t, v, models.CheckDMARC, models.CheckNotEvaluated)
}

// TestGate_Deterministic verifies the same message and profile always
// produce the same verdict.
func TestGate_Deterministic(t *testing.T) {
	gate := NewGate(GateConfig{Scanner: cleanScanner()})

	first := gate.Evaluate(context.Background(), testMessage(), testProfile())
	second := gate.Evaluate(context.Background(), testMessage(), testProfile())

	if first.Accepted != second.Accepted || first.Reason != second.Reason {
		t.Fatalf("verdicts differ: %+v vs %+v", first, second)
	}
	if len(first.Checks) != len(second.Checks) {
		t.Fatalf("check counts differ")
	}
	for i := range first.Checks {
		if first.Checks[i].State != second.Checks[i].State {
			t.Errorf("check %s differs: %s vs %s",
				first.Checks[i].Name, first.Checks[i].State, second.Checks[i].State)
		}
	}
}
