package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/model"
	"sms-agent/internal/domain/ports/repository"
)

var _ repository.UserContextRepository = (*userContextRepo)(nil)

type userContextRepo struct {
	pool *pgxpool.Pool
}

func NewUserContextRepo(pool *pgxpool.Pool) *userContextRepo {
	return &userContextRepo{pool: pool}
}

func (r *userContextRepo) CountInboundMessages(ctx context.Context, tx repository.Tx, conversationID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT count(*) FROM inbound_messages WHERE conversation_id = $1;`, conversationID)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

// LoadFullTranscript returns what was actually exchanged with the user:
// inbound from the user's number and outbound to it that left the system.
func (r *userContextRepo) LoadFullTranscript(ctx context.Context, tx repository.Tx, conversationID string) (model.Transcript, error) {
	conv, err := loadConversation(ctx, r.pool, tx, conversationID)
	if err != nil {
		return nil, err
	}

	inbound, err := r.turns(ctx, tx, model.DirectionInbound, `
SELECT body, received_at
FROM inbound_messages
WHERE conversation_id = $1 AND from_address = $2
ORDER BY received_at ASC;`, conv.ID, conv.UserNumber)
	if err != nil {
		return nil, err
	}
	outbound, err := r.turns(ctx, tx, model.DirectionOutbound, `
SELECT body, created_at
FROM outbound_messages
WHERE conversation_id = $1 AND to_address = $2 AND status IN ('sent', 'sending')
ORDER BY created_at ASC, sequence_number ASC;`, conv.ID, conv.UserNumber)
	if err != nil {
		return nil, err
	}
	return model.MergeTimeline(inbound, outbound), nil
}

func (r *userContextRepo) turns(ctx context.Context, tx repository.Tx, dir model.Direction, q string, args ...interface{}) ([]model.Turn, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Turn
	for rows.Next() {
		t := model.Turn{Direction: dir}
		if err := rows.Scan(&t.Body, &t.At); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *userContextRepo) SaveUserContext(ctx context.Context, tx repository.Tx, conversationID, summary string) error {
	const q = `
UPDATE conversations
SET user_context = $2, updated_at = now()
WHERE id = $1;`

	tag, err := execSQL(ctx, r.pool, tx, q, conversationID, summary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	return nil
}
