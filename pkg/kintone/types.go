package kintone

import (
	"github.com/telekom/kintone-mail-relay/pkg/config"
)

// Field is a single kintone field as it appears in REST responses and webhook
// payloads. Value is a string for text, number and date fields, a []any for
// checkbox and multi-select fields, and an object for user and file fields.
type Field struct {
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// Record maps field codes to fields.
type Record map[string]Field

// Values flattens a record to field code -> value.
func (r Record) Values() map[string]any {
	out := make(map[string]any, len(r))
	for code, f := range r {
		out[code] = f.Value
	}
	return out
}

// StringRecord builds a record whose fields all carry string values.
func StringRecord(values map[string]string) Record {
	out := make(Record, len(values))
	for code, v := range values {
		out[code] = Field{Value: v}
	}
	return out
}

// NotificationApp identifies the app a webhook was sent from.
type NotificationApp struct {
	ID   config.AppID `json:"id"`
	Name string       `json:"name,omitempty"`
}

// Notification is the body kintone POSTs for record webhooks.
type Notification struct {
	ID          string          `json:"id,omitempty"`
	Type        string          `json:"type"`
	App         NotificationApp `json:"app"`
	Record      Record          `json:"record"`
	RecordTitle string          `json:"recordTitle,omitempty"`
	URL         string          `json:"url"`
}

// RecordID returns the $id field of the record. It is empty when kintone did
// not send one; the notification ID identifies the webhook, not the record.
func (n Notification) RecordID() string {
	if f, ok := n.Record["$id"]; ok {
		if s, ok := f.Value.(string); ok {
			return s
		}
	}
	return ""
}
