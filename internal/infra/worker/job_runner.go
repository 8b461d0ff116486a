package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/model"
	"sms-agent/internal/domain/ports/adapter"
	"sms-agent/internal/domain/ports/repository"
	"sms-agent/internal/infra/logging"
	"sms-agent/internal/usecase"
)

type RunnerOptions struct {
	PollInterval time.Duration
	BatchLimit   int
	MaxAttempts  int
	LockTTL      time.Duration
	StaleAfter   time.Duration
}

// JobRunner claims pending inference jobs one conversation at a time and
// hands them to the batch processor.
type JobRunner struct {
	jobs      repository.JobQueueRepository
	processor usecase.InferenceUseCase
	locker    adapter.Locker
	opts      RunnerOptions
	log       *zerolog.Logger
}

// NewJobRunner wires the runner. locker may be nil.
func NewJobRunner(
	jobs repository.JobQueueRepository,
	processor usecase.InferenceUseCase,
	locker adapter.Locker,
	opts RunnerOptions,
	log *zerolog.Logger,
) *JobRunner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 10
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &JobRunner{jobs: jobs, processor: processor, locker: locker, opts: opts, log: log}
}

func conversationLockKey(conversationID string) string {
	return "conversation:" + conversationID
}

// Start runs a loop that submits one claim+process unit to pool per tick.
// This should be run in a goroutine.
func (r *JobRunner) Start(ctx context.Context, pool *Pool) {
	r.log.Info().Dur("poll", r.opts.PollInterval).Msg("inference job runner started")
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("inference job runner stopping")
			return
		case <-ticker.C:
			// all workers busy: the next tick will try again
			_ = pool.Submit("inference_batch", func(ctx context.Context) error {
				_, err := r.RunOnce(ctx)
				return err
			})
		}
	}
}

// Sweep returns jobs left in processing by a crashed runner to pending.
// It is meant to be driven by a scheduler.
func (r *JobRunner) Sweep(ctx context.Context) (int64, error) {
	if r.opts.StaleAfter <= 0 {
		return 0, nil
	}
	return r.jobs.RecoverStale(ctx, r.opts.StaleAfter)
}

// RunOnce claims and processes at most one batch. It reports whether a batch
// was claimed. A failed batch is released for retry before returning.
func (r *JobRunner) RunOnce(ctx context.Context) (bool, error) {
	jobs, err := r.jobs.ClaimBatch(ctx, r.opts.BatchLimit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		r.log.Error().Err(err).Msg("claim inference batch failed")
		return false, err
	}

	convID := jobs[len(jobs)-1].ConversationID
	ctx = logging.WithTraceID(ctx, "")
	ctx = logging.WithConversationID(ctx, convID)
	log := logging.With(ctx, r.log)

	if r.locker != nil {
		key := conversationLockKey(convID)
		token, err := r.locker.TryLock(ctx, key, r.opts.LockTTL)
		if err != nil {
			log.Warn().Err(err).Msg("conversation busy; releasing batch")
			r.release(ctx, log, jobs, err)
			return true, err
		}
		defer func() {
			if err := r.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn().Err(err).Msg("unlock conversation failed")
			}
		}()
	}

	start := time.Now()
	res, err := r.processor.Process(ctx, jobs)
	if err != nil {
		r.release(ctx, log, jobs, err)
		return true, err
	}
	log.Info().
		Int("jobs", len(jobs)).
		Int("segments", len(res.InsertedOutboundIDs)).
		Bool("no_reply", res.NoReply).
		Dur("duration", time.Since(start)).
		Msg("inference batch done")
	return true, nil
}

func (r *JobRunner) release(ctx context.Context, log *zerolog.Logger, jobs []model.InferenceJob, cause error) {
	// the batch must be released even when the runner is shutting down
	if err := r.jobs.Release(context.WithoutCancel(ctx), model.JobIDs(jobs), cause.Error(), r.opts.MaxAttempts); err != nil {
		log.Error().Err(err).Msg("release inference batch failed")
	}
}
