package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

const JobKindEmbedMessage = "embed-message"

// Job is one durable unit of indexing work. Rows are created only inside the
// writer's transaction (outbox) and reach a terminal status of completed or
// failed; failed rows are kept for operator inspection.
type Job struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Payload        []byte    `json:"payload"`
	Status         JobStatus `json:"status"`
	Attempts       int       `json:"attempts"`
	NotBefore      time.Time `json:"not_before"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EmbedPayload is the payload of an embed-message job.
type EmbedPayload struct {
	MessageID string `json:"message_id"`
	Model     string `json:"model"`
}

func (p EmbedPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func ParseEmbedPayload(raw []byte) (EmbedPayload, error) {
	var p EmbedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return EmbedPayload{}, WrapError(ErrPermanent, "parse embed payload", err)
	}
	if p.MessageID == "" || p.Model == "" {
		return EmbedPayload{}, WrapError(ErrPermanent, "parse embed payload", ErrValidation)
	}
	return p, nil
}
