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

// Package mailbox retrieves candidate messages from a monitored Microsoft
// Graph mailbox. It is a thin delivery wrapper: it filters by the profile's
// senders and lookback window and hands over raw headers and attachment
// bytes; all policy decisions belong to the security gate.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/refimport/internal/models"
	"github.com/bcem/refimport/internal/profile"
)

// DefaultGraphBaseURL is the production Graph API endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// Client fetches messages with attachments from one mailbox.
type Client struct {
	httpClient   *http.Client
	graphBaseURL string
	mailboxUser  string
}

// Config holds the Graph connection settings for one monitored mailbox.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	MailboxUser  string
	GraphBaseURL string // defaults to DefaultGraphBaseURL
}

// NewClient creates a mailbox client using OAuth2 client credentials.
func NewClient(ctx context.Context, cfg Config) *Client {
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	base := cfg.GraphBaseURL
	if base == "" {
		base = DefaultGraphBaseURL
	}
	return &Client{
		httpClient:   creds.Client(ctx),
		graphBaseURL: base,
		mailboxUser:  cfg.MailboxUser,
	}
}

// NewClientWithHTTP creates a client around an existing HTTP client; used
// by tests with httptest servers.
func NewClientWithHTTP(httpClient *http.Client, graphBaseURL, mailboxUser string) *Client {
	return &Client{
		httpClient:   httpClient,
		graphBaseURL: graphBaseURL,
		mailboxUser:  mailboxUser,
	}
}

// Fetch implements pipeline.Source: messages from the profile's allowed
// senders within the lookback window, newest first, attachments expanded.
func (c *Client) Fetch(ctx context.Context, prof *profile.Profile) ([]*models.InboundMessage, error) {
	since := time.Now().UTC().Add(-prof.Lookback)

	var filters []string
	filters = append(filters, fmt.Sprintf("receivedDateTime ge %s", since.Format(time.RFC3339)))
	var senderClauses []string
	for _, s := range prof.SenderEmails {
		senderClauses = append(senderClauses, fmt.Sprintf("from/emailAddress/address eq '%s'", s))
	}
	filters = append(filters, "("+strings.Join(senderClauses, " or ")+")")

	params := url.Values{}
	params.Set("$filter", strings.Join(filters, " and "))
	params.Set("$expand", "attachments")
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$top", "25")

	listURL := fmt.Sprintf("%s/users/%s/messages?%s", c.graphBaseURL, c.mailboxUser, params.Encode())

	var messages []*models.InboundMessage
	for nextURL := listURL; nextURL != ""; {
		page, err := c.fetchPage(ctx, nextURL)
		if err != nil {
			return nil, err
		}
		for _, gm := range page.Value {
			msg, err := parseMessage(gm)
			if err != nil {
				slog.Warn("skipping unparseable message", "message_id", gm.ID, "error", err)
				continue
			}
			messages = append(messages, msg)
		}
		nextURL = page.NextLink
	}

	slog.Info("mailbox fetch complete",
		"profile", prof.Name,
		"messages", len(messages),
		"lookback", prof.Lookback,
	)
	return messages, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*listResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "odata.maxpagesize=25")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph API returned HTTP %d", resp.StatusCode)
	}

	return decodeListResponse(resp.Body)
}
