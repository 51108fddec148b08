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

// Package models defines the data structures shared across the import service.
package models

import "time"

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Attachment represents a file attached to an email. Content holds the
// decoded bytes; the security gate is the only consumer of untrusted content.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Content     []byte `json:"-"`
}

// InboundMessage is the triple the mailbox collaborator delivers: parsed
// headers, sender identity, and raw attachment bytes. The security gate
// consumes exactly this per message.
type InboundMessage struct {
	MessageID   string            `json:"message_id"`
	From        EmailAddress      `json:"from"`
	Subject     string            `json:"subject"`
	ReceivedAt  time.Time         `json:"received_at"`
	Folder      string            `json:"folder,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments"`
}

// Header returns a message header by case-insensitive name, or "".
func (m *InboundMessage) Header(name string) string {
	for k, v := range m.Headers {
		if equalFold(k, name) {
			return v
		}
	}
	return ""
}

// equalFold is an ASCII-only case-insensitive compare; header names are ASCII.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ExtractedFile is one sanitized file produced by the security gate, either
// the attachment itself or an entry pulled out of an archive attachment.
type ExtractedFile struct {
	Name    string
	Content []byte
}
