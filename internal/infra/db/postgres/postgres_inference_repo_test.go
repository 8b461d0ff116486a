//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/model"
	"sms-agent/internal/domain/ports/repository"
)

const (
	user  = "+15550001111"
	agent = "+15559990000"
)

func TestInferenceRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewInferenceRepo(testPool)
	tm := NewTxManager(testPool)
	t0 := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	t.Run("loads inbound, conversation and transcript in a read-only tx", func(t *testing.T) {
		cleanup(t)
		conv := seedConversation(t, user, false)
		in1 := seedInbound(t, conv, user, agent, "hello", t0)
		in2 := seedInbound(t, conv, user, agent, "anyone?", t0.Add(time.Second))
		seedJob(t, conv, in1, t0)
		job2 := seedJob(t, conv, in2, t0.Add(time.Second))

		err := tm.WithTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(ctx context.Context, tx repository.Tx) error {
			in, err := repo.LoadInboundMessage(ctx, tx, job2)
			if err != nil {
				return err
			}
			if in.ID != in2 || in.FromAddress != user || in.ToAddress != agent {
				t.Fatalf("unexpected inbound: %+v", in)
			}
			c, err := repo.LoadConversation(ctx, tx, conv)
			if err != nil {
				return err
			}
			if c.HasPaid || c.UserContext != nil || c.UserNumber != user {
				t.Fatalf("unexpected conversation: %+v", c)
			}
			tr, err := repo.LoadRecentTranscript(ctx, tx, conv, 10)
			if err != nil {
				return err
			}
			if got := tr.Render(); got != "USER: hello\nUSER: anyone?" {
				t.Fatalf("transcript = %q", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("read tx: %v", err)
		}
	})

	t.Run("missing job maps to ErrNotFound", func(t *testing.T) {
		cleanup(t)
		_, err := repo.LoadInboundMessage(ctx, nil, uuid.NewString())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("outbound insert is idempotent per sequence", func(t *testing.T) {
		cleanup(t)
		conv := seedConversation(t, user, false)
		in := seedInbound(t, conv, user, agent, "hello", t0)
		inbound := &model.InboundMessage{ID: in, ConversationID: conv, Provider: "twilio", ProviderMessageSID: "SM1", FromAddress: user, ToAddress: agent}

		msg := model.NewReplySegment(inbound, 0, "hey", "V2-unpaid", "gpt-5")
		msg.ID = uuid.NewString()
		id, inserted, err := repo.InsertOutboundMessage(ctx, nil, msg)
		if err != nil || !inserted || id != msg.ID {
			t.Fatalf("first insert: id=%q inserted=%v err=%v", id, inserted, err)
		}

		dup := model.NewReplySegment(inbound, 0, "hey again", "V2-unpaid", "gpt-5")
		dup.ID = uuid.NewString()
		id, inserted, err = repo.InsertOutboundMessage(ctx, nil, dup)
		if err != nil || inserted || id != "" {
			t.Fatalf("duplicate insert: id=%q inserted=%v err=%v", id, inserted, err)
		}
	})

	t.Run("read-only tx rejects writes", func(t *testing.T) {
		cleanup(t)
		conv := seedConversation(t, user, false)
		in := seedInbound(t, conv, user, agent, "hello", t0)
		inbound := &model.InboundMessage{ID: in, ConversationID: conv, Provider: "twilio", FromAddress: user, ToAddress: agent}

		err := tm.WithTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(ctx context.Context, tx repository.Tx) error {
			msg := model.NewReplySegment(inbound, 0, "x", "V1", "gpt-5")
			msg.ID = uuid.NewString()
			_, _, err := repo.InsertOutboundMessage(ctx, tx, msg)
			return err
		})
		if err == nil {
			t.Fatal("expected read-only transaction to reject insert")
		}
	})

	t.Run("rollback discards inserts and job updates", func(t *testing.T) {
		cleanup(t)
		conv := seedConversation(t, user, false)
		in := seedInbound(t, conv, user, agent, "hello", t0)
		job := seedJob(t, conv, in, t0)
		inbound := &model.InboundMessage{ID: in, ConversationID: conv, Provider: "twilio", FromAddress: user, ToAddress: agent}

		boom := errors.New("boom")
		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			msg := model.NewReplySegment(inbound, 0, "x", "V1", "gpt-5")
			msg.ID = uuid.NewString()
			if _, _, err := repo.InsertOutboundMessage(ctx, tx, msg); err != nil {
				return err
			}
			if err := repo.MarkJobsSucceeded(ctx, tx, []string{job}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		var n int
		_ = testPool.QueryRow(ctx, `SELECT count(*) FROM outbound_messages`).Scan(&n)
		if n != 0 {
			t.Fatalf("expected no outbound rows, got %d", n)
		}
		if s := jobStatus(t, job); s != "pending" {
			t.Fatalf("job status = %s", s)
		}
	})

	t.Run("recent transcript keeps the newest turns in order", func(t *testing.T) {
		cleanup(t)
		conv := seedConversation(t, user, false)
		in1 := seedInbound(t, conv, user, agent, "one", t0)
		seedInbound(t, conv, user, agent, "two", t0.Add(2*time.Second))
		inbound := &model.InboundMessage{ID: in1, ConversationID: conv, Provider: "twilio", FromAddress: user, ToAddress: agent}
		for i, body := range []string{"reply a", "reply b"} {
			msg := model.NewReplySegment(inbound, i, body, "V1", "gpt-5")
			msg.ID = uuid.NewString()
			if _, _, err := repo.InsertOutboundMessage(ctx, nil, msg); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		_, _ = testPool.Exec(ctx, `UPDATE outbound_messages SET created_at = $1`, t0.Add(time.Second))

		tr, err := repo.LoadRecentTranscript(ctx, nil, conv, 3)
		if err != nil {
			t.Fatalf("transcript: %v", err)
		}
		if got := tr.Render(); got != "SLASH: reply a\nSLASH: reply b\nUSER: two" {
			t.Fatalf("transcript = %q", got)
		}
	})
}
