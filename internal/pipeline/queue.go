// Package pipeline decouples webhook ingestion from suggestion and reply.
// The webhook handler commits the inbound message, enqueues a job and
// returns; workers consume jobs and run the auto-reply gate.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one inbound message awaiting evaluation.
type Job struct {
	ThreadID   uuid.UUID `json:"thread_id"`
	CompanyID  uuid.UUID `json:"company_id"`
	PropertyID uuid.UUID `json:"property_id"`
	StayID     uuid.UUID `json:"stay_id"`
	Channel    string    `json:"channel"`
	Body       string    `json:"body"`
	GuestAddr  string    `json:"guest_addr"`
	PropAddr   string    `json:"prop_addr"`
	ReceivedAt time.Time `json:"received_at"`
}

// Queue moves jobs from webhook handlers to workers.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or the context ends.
	Dequeue(ctx context.Context) (Job, func(), error)
}

func marshalJob(job Job) ([]byte, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("pipeline: marshal job: %w", err)
	}
	return b, nil
}

func unmarshalJob(b []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return Job{}, fmt.Errorf("pipeline: unmarshal job: %w", err)
	}
	return job, nil
}
