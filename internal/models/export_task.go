package models

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"time"
)

var exportIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ExportTask is the payload enqueued for one logical export. It is immutable
// once created; the attempt counter lives in QueueMessage.
type ExportTask struct {
	ExportID    string    `json:"export_id"`
	AdminEmail  string    `json:"admin_email"`
	RequestedAt time.Time `json:"requested_at"`
}

// Validate checks the task before it enters the pipeline. The export id ends
// up in file names and storage keys, so only a safe character set is allowed.
func (t ExportTask) Validate() error {
	if t.ExportID == "" {
		return errors.New("export id is required")
	}
	if !exportIDPattern.MatchString(t.ExportID) {
		return fmt.Errorf("export id %q contains unsupported characters", t.ExportID)
	}
	if t.AdminEmail == "" {
		return errors.New("admin email is required")
	}
	if _, err := mail.ParseAddress(t.AdminEmail); err != nil {
		return fmt.Errorf("invalid admin email %q: %w", t.AdminEmail, err)
	}
	return nil
}

// QueueMessage wraps a task with the delivery bookkeeping owned by the queue.
type QueueMessage struct {
	Task       ExportTask `json:"task"`
	Attempts   int        `json:"attempts"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	LastError  string     `json:"last_error,omitempty"`
	// Receipt identifies an in-flight delivery. Only queues that track
	// deliveries set it.
	Receipt string `json:"-"`
}

// ExportArtifact is the file produced by one attempt.
type ExportArtifact struct {
	LocalPath  string `json:"local_path"`
	StorageKey string `json:"storage_key,omitempty"`
	Rows       int    `json:"rows"`
}

// ExportRun is one attempt persisted in the run history.
type ExportRun struct {
	ID         int64       `json:"id"`
	ExportID   string      `json:"export_id"`
	AdminEmail string      `json:"admin_email"`
	Attempt    int         `json:"attempt"`
	Status     ExportState `json:"status"`
	StorageKey *string     `json:"storage_key,omitempty"`
	Rows       int         `json:"rows"`
	LastError  *string     `json:"last_error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}
