// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/mail"
)

// EventType represents the type of delivery event.
type EventType string

const (
	// EventMailDelivered is emitted once a mail has been sent and its delivery
	// record written to the log app.
	EventMailDelivered EventType = "mail.delivered"
)

// DeliveryEvent describes one relayed notification.
type DeliveryEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// SourceApp and HookType identify the webhook that triggered the mail.
	SourceApp config.AppID `json:"sourceApp"`
	HookType  string       `json:"hookType"`
	RecordID  string       `json:"recordId,omitempty"`

	SMTPProfile string   `json:"smtpProfile"`
	MessageID   string   `json:"messageId"`
	Accepted    []string `json:"accepted"`
	Rejected    []string `json:"rejected"`

	// LogRecordID is the id of the record created in the log app.
	LogRecordID string `json:"logRecordId,omitempty"`
}

// NewDeliveryEvent fills id, type and timestamp for a successful delivery.
func NewDeliveryEvent(sourceApp config.AppID, hookType, profile string, info mail.DeliveryInfo) *DeliveryEvent {
	return &DeliveryEvent{
		ID:          uuid.NewString(),
		Type:        EventMailDelivered,
		Timestamp:   time.Now().UTC(),
		SourceApp:   sourceApp,
		HookType:    hookType,
		SMTPProfile: profile,
		MessageID:   info.MessageID,
		Accepted:    info.Accepted,
		Rejected:    info.Rejected,
	}
}
