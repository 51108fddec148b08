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

// CheckName identifies one security check in the gate's fixed sequence.
type CheckName string

const (
	CheckSenderDomain CheckName = "sender_domain"
	CheckSPF          CheckName = "spf"
	CheckDKIM         CheckName = "dkim"
	CheckDMARC        CheckName = "dmarc"
	CheckSpamScore    CheckName = "spam_score"
	CheckAttachment   CheckName = "attachment"
	CheckMalware      CheckName = "malware"
	CheckArchive      CheckName = "archive"
	CheckParseSafety  CheckName = "parse_safety"
)

// CheckState records how a single check concluded. A short-circuited check
// is NotEvaluated, never Passed.
type CheckState string

const (
	CheckPassed       CheckState = "passed"
	CheckFailed       CheckState = "failed"
	CheckSkipped      CheckState = "skipped"       // not required by policy
	CheckNotEvaluated CheckState = "not_evaluated" // gate short-circuited earlier
)

// CheckResult is one check's outcome with an optional detail for the audit log.
type CheckResult struct {
	Name   CheckName  `json:"name"`
	State  CheckState `json:"state"`
	Detail string     `json:"detail,omitempty"`
}

// SecurityVerdict is the gate's aggregate result for one message. Checks
// always contains an entry for every check in gate order, even when the
// gate short-circuited.
type SecurityVerdict struct {
	Accepted bool            `json:"accepted"`
	Reason   string          `json:"reason,omitempty"`
	Checks   []CheckResult   `json:"checks"`
	Files    []ExtractedFile `json:"-"`
}

// Check returns the recorded result for a named check.
func (v *SecurityVerdict) Check(name CheckName) CheckResult {
	for _, c := range v.Checks {
		if c.Name == name {
			return c
		}
	}
	return CheckResult{Name: name, State: CheckNotEvaluated}
}
