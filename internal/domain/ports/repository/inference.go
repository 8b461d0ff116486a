package repository

import (
	"context"
	"time"

	"sms-agent/internal/domain/model"
)

// InferenceRepository is the storage used by the job batch processor.
type InferenceRepository interface {
	// LoadInboundMessage returns the inbound message a job was queued for.
	LoadInboundMessage(ctx context.Context, tx Tx, jobID string) (*model.InboundMessage, error)
	LoadConversation(ctx context.Context, tx Tx, conversationID string) (*model.Conversation, error)
	// LoadRecentTranscript returns at most limit of the latest turns, oldest first.
	LoadRecentTranscript(ctx context.Context, tx Tx, conversationID string, limit int) (model.Transcript, error)

	// InsertOutboundMessage returns inserted=false when the storage layer
	// declined the row (duplicate conversation/inbound/sequence).
	InsertOutboundMessage(ctx context.Context, tx Tx, msg *model.OutboundMessage) (id string, inserted bool, err error)
	MarkJobsSucceeded(ctx context.Context, tx Tx, jobIDs []string) error
}

// UserContextRepository backs context extraction.
type UserContextRepository interface {
	CountInboundMessages(ctx context.Context, tx Tx, conversationID string) (int, error)
	// LoadFullTranscript returns the whole delivered history with the user.
	LoadFullTranscript(ctx context.Context, tx Tx, conversationID string) (model.Transcript, error)
	SaveUserContext(ctx context.Context, tx Tx, conversationID, summary string) error
}

// JobQueueRepository is used by the job runner, the caller of the processor.
type JobQueueRepository interface {
	// ClaimBatch moves up to limit pending jobs of a single conversation to
	// processing and returns them oldest first. domain.ErrNotFound when idle.
	ClaimBatch(ctx context.Context, limit int) ([]model.InferenceJob, error)
	// Release puts processing jobs back to pending, or to failed once
	// attempts reached maxAttempts.
	Release(ctx context.Context, jobIDs []string, cause string, maxAttempts int) error
	// RecoverStale returns jobs stuck in processing for longer than olderThan
	// (a crashed worker) to pending and reports how many moved.
	RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error)
}
