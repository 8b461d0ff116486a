package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/model"
	"sms-agent/internal/domain/ports/repository"
)

var _ repository.InferenceRepository = (*inferenceRepo)(nil)

type inferenceRepo struct {
	pool *pgxpool.Pool
}

func NewInferenceRepo(pool *pgxpool.Pool) *inferenceRepo {
	return &inferenceRepo{pool: pool}
}

func (r *inferenceRepo) LoadInboundMessage(ctx context.Context, tx repository.Tx, jobID string) (*model.InboundMessage, error) {
	const q = `
SELECT i.id, i.conversation_id, i.provider, i.provider_message_sid,
       i.from_address, i.to_address, i.body, i.received_at
FROM inference_jobs j
JOIN inbound_messages i ON i.id = j.inbound_message_id
WHERE j.id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	var m model.InboundMessage
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Provider, &m.ProviderMessageSID,
		&m.FromAddress, &m.ToAddress, &m.Body, &m.ReceivedAt); err != nil {
		return nil, fmt.Errorf("inbound for job %s: %w", jobID, mapNoRows(err))
	}
	return &m, nil
}

func (r *inferenceRepo) LoadConversation(ctx context.Context, tx repository.Tx, conversationID string) (*model.Conversation, error) {
	return loadConversation(ctx, r.pool, tx, conversationID)
}

func loadConversation(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, conversationID string) (*model.Conversation, error) {
	const q = `
SELECT id, channel, user_number, has_paid, user_context, updated_at
FROM conversations
WHERE id = $1;`

	row, err := pickRow(ctx, pool, tx, q, conversationID)
	if err != nil {
		return nil, err
	}
	var c model.Conversation
	if err := row.Scan(&c.ID, &c.Channel, &c.UserNumber, &c.HasPaid, &c.UserContext, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, mapNoRows(err))
	}
	return &c, nil
}

// LoadRecentTranscript merges inbound and not-failed outbound rows. Queued
// replies are included so the model sees what it already said. On equal
// timestamps inbound sorts first and outbound segments keep their sequence.
func (r *inferenceRepo) LoadRecentTranscript(ctx context.Context, tx repository.Tx, conversationID string, limit int) (model.Transcript, error) {
	const q = `
SELECT direction, body, at
FROM (
    SELECT 'inbound' AS direction, body, received_at AS at, 0 AS tie, 0 AS seq
    FROM inbound_messages
    WHERE conversation_id = $1
    UNION ALL
    SELECT 'outbound', body, created_at, 1, sequence_number
    FROM outbound_messages
    WHERE conversation_id = $1 AND status <> 'failed'
) t
ORDER BY at DESC, tie DESC, seq DESC
LIMIT NULLIF($2::int, 0);`

	rows, err := queryRows(ctx, r.pool, tx, q, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out model.Transcript
	for rows.Next() {
		var (
			t   model.Turn
			dir string
		)
		if err := rows.Scan(&dir, &t.Body, &t.At); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrReadDatabaseRow, err)
		}
		t.Direction = model.Direction(dir)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest first from the query; callers want oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *inferenceRepo) InsertOutboundMessage(ctx context.Context, tx repository.Tx, msg *model.OutboundMessage) (string, bool, error) {
	const q = `
INSERT INTO outbound_messages (
    id, conversation_id, inbound_message_id, provider, from_address, to_address,
    body, sequence_number, prompt_version, model, provider_inbound_sid, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (conversation_id, inbound_message_id, sequence_number) DO NOTHING
RETURNING id;`

	status := msg.Status
	if status == "" {
		status = model.OutboundStatusQueued
	}
	row, err := pickRow(ctx, r.pool, tx, q,
		msg.ID, msg.ConversationID, msg.InboundMessageID, msg.Provider, msg.FromAddress, msg.ToAddress,
		msg.Body, msg.SequenceNumber, msg.PromptVersion, msg.Model, msg.ProviderInboundSID, status)
	if err != nil {
		return "", false, err
	}
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (r *inferenceRepo) MarkJobsSucceeded(ctx context.Context, tx repository.Tx, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return domain.ErrInvalidArgument
	}
	const q = `
UPDATE inference_jobs
SET status = 'succeeded', last_error = NULL, updated_at = now()
WHERE id = ANY($1) AND status <> 'succeeded';`

	_, err := execSQL(ctx, r.pool, tx, q, jobIDs)
	return err
}
