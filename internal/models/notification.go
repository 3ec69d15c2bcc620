package models

import "time"

const (
	NotificationSuccess = "success"
	NotificationFailure = "failure"
)

// NotificationRecord is the rendered outcome message for an export attempt.
type NotificationRecord struct {
	Kind       string       `json:"kind"`
	ExportID   string       `json:"export_id"`
	Suffix     string       `json:"suffix"`
	To         string       `json:"to"`
	From       string       `json:"from"`
	Subject    string       `json:"subject"`
	TextBody   string       `json:"text_body"`
	HTMLBody   string       `json:"-"`
	StorageKey string       `json:"storage_key,omitempty"`
	Stats      *ExportStats `json:"stats,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Key is the storage name of the record: export id plus kind suffix.
func (r NotificationRecord) Key() string {
	return r.ExportID + r.Suffix
}
