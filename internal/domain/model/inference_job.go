package model

import "time"

type InferenceJobStatus string

const (
	InferenceJobPending    InferenceJobStatus = "pending"
	InferenceJobProcessing InferenceJobStatus = "processing"
	InferenceJobSucceeded  InferenceJobStatus = "succeeded"
	InferenceJobFailed     InferenceJobStatus = "failed"
)

// InferenceJob is one queued inbound message awaiting a reply.
type InferenceJob struct {
	ID               string
	ConversationID   string
	InboundMessageID string
	Status           InferenceJobStatus
	Attempts         int
	LastError        string
	ReceivedAt       time.Time // receive time of the inbound, set on claim
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// JobIDs returns the ids of jobs in order.
func JobIDs(jobs []InferenceJob) []string {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return ids
}
