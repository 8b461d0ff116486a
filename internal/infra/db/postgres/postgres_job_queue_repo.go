package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/model"
	"sms-agent/internal/domain/ports/repository"
)

var _ repository.JobQueueRepository = (*jobQueueRepo)(nil)

type jobQueueRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobQueueRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobQueueRepo {
	return &jobQueueRepo{pool: pool, tm: tm}
}

// ClaimBatch picks the conversation with the oldest pending inbound that has no
// job in processing, and moves up to limit of its pending jobs to processing.
// Jobs come back ordered by inbound receive time.
// A transaction-scoped advisory lock on the conversation keeps two claimers
// from splitting one conversation's backlog.
func (r *jobQueueRepo) ClaimBatch(ctx context.Context, limit int) ([]model.InferenceJob, error) {
	if limit <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	var jobs []model.InferenceJob

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const pickConversation = `
SELECT j.conversation_id
FROM inference_jobs j
JOIN inbound_messages i ON i.id = j.inbound_message_id
WHERE j.status = 'pending'
  AND NOT EXISTS (
      SELECT 1 FROM inference_jobs p
      WHERE p.conversation_id = j.conversation_id AND p.status = 'processing')
ORDER BY i.received_at, j.created_at, j.id
LIMIT 1
FOR UPDATE OF j SKIP LOCKED;`

		row, err := pickRow(ctx, r.pool, tx, pickConversation)
		if err != nil {
			return err
		}
		var convID string
		if err := row.Scan(&convID); err != nil {
			return mapNoRows(err)
		}

		row, err = pickRow(ctx, r.pool, tx, `SELECT pg_try_advisory_xact_lock(hashtext($1));`, convID)
		if err != nil {
			return err
		}
		var locked bool
		if err := row.Scan(&locked); err != nil {
			return err
		}
		if !locked {
			return domain.ErrNotFound
		}

		const claim = `
WITH batch AS (
    SELECT j.id, i.received_at
    FROM inference_jobs j
    JOIN inbound_messages i ON i.id = j.inbound_message_id
    WHERE j.conversation_id = $1
      AND j.status = 'pending'
      AND NOT EXISTS (
          SELECT 1 FROM inference_jobs p
          WHERE p.conversation_id = $1 AND p.status = 'processing')
    ORDER BY i.received_at, j.created_at, j.id
    LIMIT $2
    FOR UPDATE OF j SKIP LOCKED
)
UPDATE inference_jobs j
SET status = 'processing', attempts = j.attempts + 1, updated_at = now()
FROM batch
WHERE j.id = batch.id
RETURNING j.id, j.conversation_id, j.inbound_message_id, j.status, j.attempts,
          COALESCE(j.last_error, ''), batch.received_at, j.created_at, j.updated_at;`

		rows, err := queryRows(ctx, r.pool, tx, claim, convID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				j      model.InferenceJob
				status string
			)
			if err := rows.Scan(&j.ID, &j.ConversationID, &j.InboundMessageID, &status, &j.Attempts,
				&j.LastError, &j.ReceivedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrReadDatabaseRow, err)
			}
			j.Status = model.InferenceJobStatus(status)
			jobs = append(jobs, j)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(jobs) == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// RETURNING order is unspecified
	sortClaimed(jobs)
	return jobs, nil
}

// sortClaimed orders a batch by inbound receive time so the newest message
// ends up last. Ties fall back to job creation time, then id.
func sortClaimed(jobs []model.InferenceJob) {
	sort.SliceStable(jobs, func(i, k int) bool {
		a, b := jobs[i], jobs[k]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (r *jobQueueRepo) Release(ctx context.Context, jobIDs []string, cause string, maxAttempts int) error {
	if len(jobIDs) == 0 {
		return nil
	}
	const q = `
UPDATE inference_jobs
SET status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'pending' END,
    last_error = $3,
    updated_at = now()
WHERE id = ANY($1) AND status = 'processing';`

	if _, err := execSQL(ctx, r.pool, nil, q, jobIDs, maxAttempts, cause); err != nil {
		return fmt.Errorf("release jobs: %w", err)
	}
	return nil
}

func (r *jobQueueRepo) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `
UPDATE inference_jobs
SET status = 'pending', last_error = 'recovered from stale processing', updated_at = now()
WHERE status = 'processing' AND updated_at < now() - ($1::bigint * interval '1 millisecond');`

	tag, err := execSQL(ctx, r.pool, nil, q, olderThan.Milliseconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
