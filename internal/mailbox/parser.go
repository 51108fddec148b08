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

package mailbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/bcem/refimport/internal/models"
)

// graphMessage represents the relevant fields from a Graph API message.
type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	ReceivedDateTime       string `json:"receivedDateTime"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
	Attachments []struct {
		ODataType    string `json:"@odata.type"`
		Name         string `json:"name"`
		ContentType  string `json:"contentType"`
		Size         int    `json:"size"`
		ContentBytes string `json:"contentBytes"`
	} `json:"attachments"`
}

// listResponse is one page of a messages listing.
type listResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

func decodeListResponse(body io.Reader) (*listResponse, error) {
	var page listResponse
	if err := json.NewDecoder(body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}
	return &page, nil
}

// parseMessage converts a Graph API message into the delivery triple the
// pipeline consumes: headers, sender identity, and decoded attachment bytes.
func parseMessage(gm graphMessage) (*models.InboundMessage, error) {
	headers := make(map[string]string, len(gm.InternetMessageHeaders))
	for _, h := range gm.InternetMessageHeaders {
		headers[h.Name] = h.Value
	}

	received, err := time.Parse(time.RFC3339, gm.ReceivedDateTime)
	if err != nil {
		received = time.Now().UTC()
	}

	msg := &models.InboundMessage{
		MessageID:  gm.ID,
		Subject:    gm.Subject,
		ReceivedAt: received,
		Headers:    headers,
	}
	msg.From.Address = gm.From.EmailAddress.Address
	msg.From.Name = gm.From.EmailAddress.Name

	for _, att := range gm.Attachments {
		if att.ContentBytes == "" {
			continue // reference/item attachments carry no inline bytes
		}
		content, err := base64.StdEncoding.DecodeString(att.ContentBytes)
		if err != nil {
			return nil, fmt.Errorf("decode attachment %s: %w", att.Name, err)
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Name:        att.Name,
			ContentType: att.ContentType,
			Size:        att.Size,
			Content:     content,
		})
	}

	return msg, nil
}
