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

// Package security validates inbound messages and their attachments against
// an import profile's layered policy: sender authenticity, spam score,
// malware scan, archive-safety limits, and parser-safety limits. Checks run
// in a fixed order and short-circuit on the first hard failure; the verdict
// records every check's state either way.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bcem/refimport/internal/models"
	"github.com/bcem/refimport/internal/profile"
)

// gateOrder is the fixed evaluation sequence.
var gateOrder = []models.CheckName{
	models.CheckSenderDomain,
	models.CheckSPF,
	models.CheckDKIM,
	models.CheckDMARC,
	models.CheckSpamScore,
	models.CheckAttachment,
	models.CheckMalware,
	models.CheckArchive,
	models.CheckParseSafety,
}

// Gate evaluates messages against a profile's security policy. Evaluation is
// deterministic for the same inputs and mutates no shared state.
type Gate struct {
	scanner    Scanner
	resolver   txtResolver
	dnsTimeout time.Duration
}

// GateConfig holds the gate's external collaborators.
type GateConfig struct {
	Scanner    Scanner       // nil rejects any policy that requires scanning
	Resolver   txtResolver   // defaults to net.DefaultResolver
	DNSTimeout time.Duration // per-lookup timeout, default 5s
}

// NewGate creates a security gate.
func NewGate(cfg GateConfig) *Gate {
	if cfg.DNSTimeout <= 0 {
		cfg.DNSTimeout = 5 * time.Second
	}
	if cfg.Resolver == nil {
		cfg.Resolver = net.DefaultResolver
	}
	return &Gate{
		scanner:    cfg.Scanner,
		resolver:   cfg.Resolver,
		dnsTimeout: cfg.DNSTimeout,
	}
}

// verdictBuilder accumulates per-check states so a short-circuit still
// yields a complete audit record.
type verdictBuilder struct {
	states  map[models.CheckName]models.CheckResult
	files   []models.ExtractedFile
	skipped map[models.CheckName]bool
}

func newVerdictBuilder(policy *profile.SecurityPolicy) *verdictBuilder {
	b := &verdictBuilder{
		states:  make(map[models.CheckName]models.CheckResult, len(gateOrder)),
		skipped: make(map[models.CheckName]bool),
	}
	if !policy.RequiresCheck("spf") {
		b.skipped[models.CheckSPF] = true
	}
	if !policy.RequiresCheck("dkim") {
		b.skipped[models.CheckDKIM] = true
	}
	if !policy.RequiresCheck("dmarc") {
		b.skipped[models.CheckDMARC] = true
	}
	if !policy.MalwareScan {
		b.skipped[models.CheckMalware] = true
	}
	return b
}

func (b *verdictBuilder) pass(name models.CheckName, detail string) {
	b.states[name] = models.CheckResult{Name: name, State: models.CheckPassed, Detail: detail}
}

func (b *verdictBuilder) skip(name models.CheckName, detail string) {
	b.states[name] = models.CheckResult{Name: name, State: models.CheckSkipped, Detail: detail}
}

// reject finalises the verdict: the failing check is recorded, and every
// check not yet reached is recorded as not-evaluated, never as passed.
func (b *verdictBuilder) reject(name models.CheckName, reason string) *models.SecurityVerdict {
	b.states[name] = models.CheckResult{Name: name, State: models.CheckFailed, Detail: reason}
	return b.build(false, fmt.Sprintf("%s: %s", name, reason))
}

func (b *verdictBuilder) accept() *models.SecurityVerdict {
	return b.build(true, "")
}

func (b *verdictBuilder) build(accepted bool, reason string) *models.SecurityVerdict {
	v := &models.SecurityVerdict{
		Accepted: accepted,
		Reason:   reason,
		Checks:   make([]models.CheckResult, 0, len(gateOrder)),
		Files:    b.files,
	}
	if !accepted {
		v.Files = nil // rejected messages yield no extracted output
	}
	for _, name := range gateOrder {
		if r, ok := b.states[name]; ok {
			v.Checks = append(v.Checks, r)
			continue
		}
		state := models.CheckNotEvaluated
		if b.skipped[name] {
			state = models.CheckSkipped
		}
		v.Checks = append(v.Checks, models.CheckResult{Name: name, State: state})
	}
	return v
}

// Evaluate runs the full check sequence for one message against a profile.
func (g *Gate) Evaluate(ctx context.Context, msg *models.InboundMessage, prof *profile.Profile) *models.SecurityVerdict {
	policy := &prof.Security
	b := newVerdictBuilder(policy)

	// 1. Sender-domain allow-list.
	dom := senderDomain(msg.From.Address)
	if !domainAllowed(dom, policy.AllowedSenderDomains) {
		return b.reject(models.CheckSenderDomain, fmt.Sprintf("domain %q not in allow-list", dom))
	}
	b.pass(models.CheckSenderDomain, dom)

	// 2. SPF.
	var spf, dkim AuthResult
	if policy.RequiresCheck("spf") {
		spf = spfResult(ctx, msg, g.resolver, g.dnsTimeout)
		if spf != AuthPass {
			return b.reject(models.CheckSPF, fmt.Sprintf("spf=%s", spf))
		}
		b.pass(models.CheckSPF, string(spf))
	} else {
		b.skip(models.CheckSPF, "not required")
	}

	// 3. DKIM.
	if policy.RequiresCheck("dkim") {
		dkim = dkimResult(msg)
		if dkim != AuthPass {
			return b.reject(models.CheckDKIM, fmt.Sprintf("dkim=%s", dkim))
		}
		b.pass(models.CheckDKIM, string(dkim))
	} else {
		b.skip(models.CheckDKIM, "not required")
	}

	// 4. DMARC.
	if policy.RequiresCheck("dmarc") {
		dmarc := dmarcResult(msg, spf, dkim)
		if dmarc != AuthPass {
			return b.reject(models.CheckDMARC, fmt.Sprintf("dmarc=%s", dmarc))
		}
		b.pass(models.CheckDMARC, string(dmarc))
	} else {
		b.skip(models.CheckDMARC, "not required")
	}

	// 5. Spam score.
	if score, present := spamScore(msg); present && score > policy.SpamThreshold {
		return b.reject(models.CheckSpamScore, fmt.Sprintf("score %.1f exceeds threshold %.1f", score, policy.SpamThreshold))
	}
	b.pass(models.CheckSpamScore, "")

	// 6. Primary attachment MIME type and size.
	att := primaryAttachment(msg, prof.PrimaryAttachment)
	if att == nil {
		return b.reject(models.CheckAttachment, fmt.Sprintf("primary attachment %q not found", prof.PrimaryAttachment))
	}
	if int64(len(att.Content)) > policy.MaxAttachmentSize {
		return b.reject(models.CheckAttachment, fmt.Sprintf("size %d exceeds maximum of %d", len(att.Content), policy.MaxAttachmentSize))
	}
	mimeType := detectMIME(att)
	if !mimeAllowed(mimeType, policy.AllowedAttachmentTypes) {
		return b.reject(models.CheckAttachment, fmt.Sprintf("type %s not allowed", mimeType))
	}
	b.pass(models.CheckAttachment, mimeType)

	// 7. Malware scan (fail-closed).
	if policy.MalwareScan {
		if g.scanner == nil {
			return b.reject(models.CheckMalware, "no scan engine configured")
		}
		res, err := g.scanner.Scan(ctx, att.Content)
		if err != nil {
			slog.Error("malware scan unavailable, rejecting", "attachment", att.Name, "error", err)
			return b.reject(models.CheckMalware, err.Error())
		}
		if !res.Clean {
			return b.reject(models.CheckMalware, fmt.Sprintf("infected: %s", res.Signature))
		}
		b.pass(models.CheckMalware, "clean")
	} else {
		b.skip(models.CheckMalware, "disabled by policy")
	}

	// 8. Archive extraction under zip-bomb limits.
	if isZip(att.Content) {
		files, err := extractArchive(att.Name, att.Content, policy.Archive)
		if err != nil {
			return b.reject(models.CheckArchive, err.Error())
		}
		b.files = files
		b.pass(models.CheckArchive, fmt.Sprintf("%d files extracted", len(files)))
	} else {
		b.files = []models.ExtractedFile{{Name: att.Name, Content: att.Content}}
		b.skip(models.CheckArchive, "attachment is not an archive")
	}

	// 9. Parser-safety validation per extracted file. A violation drops
	// only that file unless nothing parseable remains.
	var safe []models.ExtractedFile
	var dropped []string
	for _, f := range b.files {
		if _, err := ParseDocument(f.Name, f.Content, policy); err != nil {
			slog.Warn("extracted file failed safe parsing", "file", f.Name, "error", err)
			dropped = append(dropped, f.Name)
			continue
		}
		safe = append(safe, f)
	}
	if len(safe) == 0 {
		return b.reject(models.CheckParseSafety, "no extracted file passed safe parsing")
	}
	b.files = safe
	if len(dropped) > 0 {
		b.pass(models.CheckParseSafety, fmt.Sprintf("dropped: %s", strings.Join(dropped, ", ")))
	} else {
		b.pass(models.CheckParseSafety, "")
	}

	return b.accept()
}

func primaryAttachment(msg *models.InboundMessage, name string) *models.Attachment {
	for i := range msg.Attachments {
		if msg.Attachments[i].Name == name {
			return &msg.Attachments[i]
		}
	}
	return nil
}

// detectMIME sniffs the attachment content, falling back to the declared
// content type. Sniffing beats trusting the sender's declaration.
func detectMIME(att *models.Attachment) string {
	if len(att.Content) > 0 {
		detected := http.DetectContentType(att.Content)
		if detected != "application/octet-stream" {
			if i := strings.Index(detected, ";"); i >= 0 {
				detected = detected[:i]
			}
			return detected
		}
	}
	return att.ContentType
}

func mimeAllowed(mimeType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(mimeType, a) {
			return true
		}
	}
	return false
}
