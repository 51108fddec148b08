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
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bcem/refimport/internal/models"
)

// AuthResult is a tri-state outcome from the mail authentication
// collaborators (SPF/DKIM/DMARC).
type AuthResult string

const (
	AuthPass    AuthResult = "pass"
	AuthFail    AuthResult = "fail"
	AuthUnknown AuthResult = "none"
)

// txtResolver is the slice of net.Resolver the SPF fallback needs.
type txtResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

var domainPattern = regexp.MustCompile(`@([\w.-]+)`)

// senderDomain extracts the domain part of an address, tolerating
// "Name <user@domain>" forms.
func senderDomain(address string) string {
	m := domainPattern.FindStringSubmatch(address)
	if m == nil {
		return ""
	}
	return strings.ToLower(strings.TrimRight(m[1], ">"))
}

// domainAllowed matches dom against the allow-list, exact or as a subdomain.
func domainAllowed(dom string, allowed []string) bool {
	if dom == "" {
		return false
	}
	for _, a := range allowed {
		a = strings.ToLower(a)
		if dom == a || strings.HasSuffix(dom, "."+a) {
			return true
		}
	}
	return false
}

// headerAuthResult scans Authentication-Results for "<method>=<result>".
func headerAuthResult(msg *models.InboundMessage, method string) AuthResult {
	auth := strings.ToLower(msg.Header("Authentication-Results"))
	if auth == "" {
		return AuthUnknown
	}
	re := regexp.MustCompile(method + `=(\w+)`)
	m := re.FindStringSubmatch(auth)
	if m == nil {
		return AuthUnknown
	}
	switch m[1] {
	case "pass":
		return AuthPass
	case "none":
		return AuthUnknown
	default:
		return AuthFail
	}
}

// spfResult resolves the SPF outcome from the message's received chain
// first, then falls back to a live TXT lookup for the sender domain. The
// lookup carries its own timeout; a timeout is a fail (fail-closed).
func spfResult(ctx context.Context, msg *models.InboundMessage, resolver txtResolver, timeout time.Duration) AuthResult {
	if spf := strings.ToLower(msg.Header("Received-SPF")); spf != "" {
		if strings.Contains(spf, "pass") {
			return AuthPass
		}
		return AuthFail
	}

	if r := headerAuthResult(msg, "spf"); r != AuthUnknown {
		return r
	}

	if resolver == nil {
		return AuthUnknown
	}

	dom := senderDomain(msg.From.Address)
	if dom == "" {
		return AuthFail
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	records, err := resolver.LookupTXT(ctx, dom)
	if err != nil {
		// DNS unreachable or NXDOMAIN: no evidence of authorisation.
		return AuthFail
	}
	for _, rec := range records {
		if strings.HasPrefix(rec, "v=spf1") {
			// Without the delivering IP the published policy is the
			// strongest signal available to a post-delivery check.
			return AuthPass
		}
	}
	return AuthFail
}

// dkimResult verifies DKIM via the authentication headers. A message that
// carries a signature but no verifier result is not treated as a pass.
func dkimResult(msg *models.InboundMessage) AuthResult {
	return headerAuthResult(msg, "dkim")
}

// dmarcResult checks DMARC alignment: an explicit pass from the verifier,
// or a pass from both SPF and DKIM with a From-domain match.
func dmarcResult(msg *models.InboundMessage, spf, dkim AuthResult) AuthResult {
	switch headerAuthResult(msg, "dmarc") {
	case AuthPass:
		return AuthPass
	case AuthFail:
		return AuthFail
	}

	if spf == AuthPass && dkim == AuthPass && signingDomainAligned(msg) {
		return AuthPass
	}
	return AuthFail
}

var signingDomainPattern = regexp.MustCompile(`header\.d=([\w.-]+)`)

// signingDomainAligned compares the DKIM signing domain recorded in
// Authentication-Results (header.d=) against the From domain, relaxed:
// equal, or one an ancestor of the other. A result line without header.d
// carries no domain to compare, so it does not count against the message.
func signingDomainAligned(msg *models.InboundMessage) bool {
	auth := strings.ToLower(msg.Header("Authentication-Results"))
	m := signingDomainPattern.FindStringSubmatch(auth)
	if m == nil {
		return true
	}
	signing := m[1]
	from := senderDomain(msg.From.Address)
	if from == "" {
		return false
	}
	return from == signing ||
		strings.HasSuffix(from, "."+signing) ||
		strings.HasSuffix(signing, "."+from)
}

// spamScore reads the spam headers. The boolean reports whether any score
// header was present at all.
func spamScore(msg *models.InboundMessage) (float64, bool) {
	if raw := strings.TrimSpace(msg.Header("X-Spam-Score")); raw != "" {
		if score, err := strconv.ParseFloat(raw, 64); err == nil {
			return score, true
		}
	}
	if status := strings.ToLower(msg.Header("X-Spam-Status")); status != "" {
		if strings.HasPrefix(status, "yes") {
			// No numeric score; signal "over any threshold".
			return 1e9, true
		}
		return 0, true
	}
	return 0, false
}

var _ txtResolver = (*net.Resolver)(nil)
