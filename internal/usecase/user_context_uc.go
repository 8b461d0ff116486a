// File: internal/usecase/user_context_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/ports/adapter"
	"sms-agent/internal/domain/ports/repository"
	"sms-agent/internal/infra/logging"
	"sms-agent/internal/infra/metrics"
	"sms-agent/internal/infra/retry"
	"sms-agent/internal/prompts"
)

// Compile-time check
var _ UserContextUseCase = (*userContextUC)(nil)

// UserContextUseCase maintains the per-conversation user summary read by
// the paid prompt.
type UserContextUseCase interface {
	// Extract summarizes the whole delivered history and stores it. It
	// returns nil when there was nothing to summarize.
	Extract(ctx context.Context, conversationID string) (*string, error)
	// ShouldExtract reports whether a batch of batchSize inbound messages
	// crossed an interval boundary.
	ShouldExtract(ctx context.Context, conversationID string, batchSize int) (bool, error)
	// ExtractIfDue is the post-commit task body.
	ExtractIfDue(ctx context.Context, conversationID string, batchSize int) error
}

type UserContextOptions struct {
	Interval int
	Model    string
	Timeout  time.Duration
	Retry    retry.Options
	// LockTTL bounds how long one extraction may hold its lock.
	LockTTL time.Duration
}

type userContextUC struct {
	repo   repository.UserContextRepository
	ai     adapter.ModelClient
	locker adapter.Locker
	opts   UserContextOptions
	log    *zerolog.Logger
}

// NewUserContextUseCase wires context extraction. locker may be nil.
func NewUserContextUseCase(
	repo repository.UserContextRepository,
	ai adapter.ModelClient,
	locker adapter.Locker,
	opts UserContextOptions,
	logger *zerolog.Logger,
) *userContextUC {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = retryableModelError
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	return &userContextUC{repo: repo, ai: ai, locker: locker, opts: opts, log: logger}
}

func userContextLockKey(conversationID string) string {
	return "user_context:" + conversationID
}

func (u *userContextUC) Extract(ctx context.Context, conversationID string) (*string, error) {
	ctx = logging.WithConversationID(ctx, conversationID)
	log := logging.With(ctx, u.log)
	defer logging.TraceDuration(log, "UserContextUC.Extract")()

	if u.locker != nil {
		key := userContextLockKey(conversationID)
		token, err := u.locker.TryLock(ctx, key, u.opts.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				metrics.IncUserContextExtraction("lock_held")
			}
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		defer func() {
			if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("unlock failed")
			}
		}()
	}

	transcript, err := u.repo.LoadFullTranscript(ctx, nil, conversationID)
	if err != nil {
		metrics.IncUserContextExtraction("error")
		return nil, fmt.Errorf("load transcript %s: %w", conversationID, err)
	}
	rendered := transcript.Render()
	if strings.TrimSpace(rendered) == "" {
		metrics.IncUserContextExtraction("empty_transcript")
		log.Debug().Msg("no transcript, skipping context extraction")
		return nil, nil
	}

	prompt, err := prompts.UserContextPrompt(rendered)
	if err != nil {
		metrics.IncUserContextExtraction("error")
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	output, err := u.callModel(ctx, log, prompt)
	if err != nil {
		metrics.IncUserContextExtraction("error")
		return nil, err
	}

	summary := prompts.ParseUserContext(output)
	if summary == nil {
		metrics.IncUserContextExtraction("no_context")
		log.Info().Msg("no useful user context found")
		return nil, nil
	}
	if err := u.repo.SaveUserContext(ctx, nil, conversationID, *summary); err != nil {
		metrics.IncUserContextExtraction("error")
		return nil, fmt.Errorf("save user context %s: %w", conversationID, err)
	}
	metrics.IncUserContextExtraction("saved")
	log.Info().Int("turns", len(transcript)).Msg("user context saved")
	return summary, nil
}

func (u *userContextUC) callModel(ctx context.Context, log *zerolog.Logger, p prompts.Prompt) (string, error) {
	var cancel context.CancelFunc
	if u.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, u.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	opts := u.opts.Retry
	opts.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.IncModelRetry("user_context")
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying context extraction")
	}
	req := adapter.ModelRequest{Model: u.opts.Model, Instructions: p.Instructions, Input: p.Input}
	resp, err := retry.Do(ctx, func(ctx context.Context) (adapter.ModelResponse, error) {
		return u.ai.Respond(ctx, req)
	}, opts)
	if err != nil {
		return "", classifyModelError(err)
	}
	return resp.Output, nil
}

func (u *userContextUC) ShouldExtract(ctx context.Context, conversationID string, batchSize int) (bool, error) {
	count, err := u.repo.CountInboundMessages(ctx, nil, conversationID)
	if err != nil {
		return false, fmt.Errorf("count inbound %s: %w", conversationID, err)
	}
	return ShouldTrigger(count, batchSize, u.opts.Interval), nil
}

func (u *userContextUC) ExtractIfDue(ctx context.Context, conversationID string, batchSize int) error {
	due, err := u.ShouldExtract(ctx, conversationID, batchSize)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}
	if _, err := u.Extract(ctx, conversationID); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			logging.With(ctx, u.log).Debug().Msg("context extraction already running elsewhere")
			return nil
		}
		return err
	}
	return nil
}
