// File: internal/usecase/inference_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/model"
	"sms-agent/internal/domain/ports/adapter"
	"sms-agent/internal/domain/ports/repository"
	"sms-agent/internal/infra/logging"
	"sms-agent/internal/infra/metrics"
	"sms-agent/internal/infra/retry"
	"sms-agent/internal/prompts"
)

// Compile-time check
var _ InferenceUseCase = (*inferenceUC)(nil)

// InferenceUseCase turns a batch of queued inbound jobs into persisted replies.
type InferenceUseCase interface {
	// Process handles jobs of one conversation, ordered oldest first. The
	// last job is the anchor the reply answers.
	Process(ctx context.Context, jobs []model.InferenceJob) (*InferenceResult, error)
}

// InferenceResult describes one committed batch.
type InferenceResult struct {
	InboundProviderSID  string
	InsertedOutboundIDs []string
	NoReply             bool
}

// PromptResolver picks the prompt module for a conversation tier.
type PromptResolver interface {
	Resolve(tier model.Tier) (*prompts.Module, error)
}

// BackgroundExecutor runs detached work. Submit must not block on the task.
type BackgroundExecutor interface {
	Submit(name string, task func(ctx context.Context) error) error
}

// ContextExtractor is the detached post-commit step.
type ContextExtractor interface {
	ExtractIfDue(ctx context.Context, conversationID string, batchSize int) error
}

type InferenceOptions struct {
	Model           string
	ModelTimeout    time.Duration
	TranscriptLimit int
	Retry           retry.Options
}

type inferenceUC struct {
	repo      repository.InferenceRepository
	tm        repository.TransactionManager
	ai        adapter.ModelClient
	prompts   PromptResolver
	extractor ContextExtractor
	bg        BackgroundExecutor
	opts      InferenceOptions
	log       *zerolog.Logger
}

// NewInferenceUseCase wires the processor. extractor and bg may be nil, in
// which case no context extraction is scheduled.
func NewInferenceUseCase(
	repo repository.InferenceRepository,
	tm repository.TransactionManager,
	ai adapter.ModelClient,
	resolver PromptResolver,
	extractor ContextExtractor,
	bg BackgroundExecutor,
	opts InferenceOptions,
	logger *zerolog.Logger,
) *inferenceUC {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = retryableModelError
	}
	return &inferenceUC{
		repo:      repo,
		tm:        tm,
		ai:        ai,
		prompts:   resolver,
		extractor: extractor,
		bg:        bg,
		opts:      opts,
		log:       logger,
	}
}

// readState is everything the model phase needs, loaded in one snapshot.
type readState struct {
	inbound    *model.InboundMessage
	conv       *model.Conversation
	transcript model.Transcript
}

func (u *inferenceUC) Process(ctx context.Context, jobs []model.InferenceJob) (*InferenceResult, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: empty job batch", domain.ErrInvalidArgument)
	}
	anchor := jobs[len(jobs)-1]

	ctx = logging.WithTraceID(ctx, logging.TraceID(ctx))
	ctx = logging.WithConversationID(ctx, anchor.ConversationID)
	ctx = logging.WithJobID(ctx, anchor.ID)
	log := logging.With(ctx, u.log)
	defer logging.TraceDuration(log, "InferenceUC.Process")()

	state, err := u.read(ctx, anchor)
	if err != nil {
		metrics.IncInferenceBatch("read_error", len(jobs))
		log.Error().Err(err).Msg("inference read phase failed")
		return nil, err
	}

	module, err := u.prompts.Resolve(state.conv.Tier())
	if err != nil {
		metrics.IncInferenceBatch("config_error", len(jobs))
		return nil, err
	}
	prompt := module.Build(prompts.PromptInput{
		Transcript:  state.transcript.Render(),
		UserContext: state.conv.UserContext,
	})

	start := time.Now()
	resp, err := u.callModel(ctx, log, prompt)
	metrics.ObservePhase("model", time.Since(start))
	if err != nil {
		metrics.IncInferenceBatch("model_error", len(jobs))
		log.Error().Err(err).Msg("inference model call failed")
		return nil, err
	}

	res, err := u.write(ctx, jobs, state, resp)
	if err != nil {
		metrics.IncInferenceBatch("write_error", len(jobs))
		log.Error().Err(err).Msg("inference write phase failed")
		return nil, err
	}

	if res.NoReply {
		metrics.IncInferenceBatch("no_reply", len(jobs))
	} else {
		metrics.IncInferenceBatch("succeeded", len(jobs))
		metrics.AddOutboundSegments(len(res.InsertedOutboundIDs))
	}
	log.Info().
		Int("jobs", len(jobs)).
		Int("segments", len(res.InsertedOutboundIDs)).
		Bool("no_reply", res.NoReply).
		Msg("inference batch committed")

	u.scheduleExtraction(ctx, log, state.conv.ID, len(jobs))
	return res, nil
}

func (u *inferenceUC) read(ctx context.Context, anchor model.InferenceJob) (*readState, error) {
	defer func(start time.Time) { metrics.ObservePhase("read", time.Since(start)) }(time.Now())

	var st readState
	err := u.tm.WithTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if st.inbound, err = u.repo.LoadInboundMessage(ctx, tx, anchor.ID); err != nil {
			return fmt.Errorf("load inbound for job %s: %w", anchor.ID, err)
		}
		if st.conv, err = u.repo.LoadConversation(ctx, tx, st.inbound.ConversationID); err != nil {
			return fmt.Errorf("load conversation %s: %w", st.inbound.ConversationID, err)
		}
		if st.transcript, err = u.repo.LoadRecentTranscript(ctx, tx, st.conv.ID, u.opts.TranscriptLimit); err != nil {
			return fmt.Errorf("load transcript %s: %w", st.conv.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (u *inferenceUC) callModel(ctx context.Context, log *zerolog.Logger, p prompts.Prompt) (adapter.ModelResponse, error) {
	var cancel context.CancelFunc
	if u.opts.ModelTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, u.opts.ModelTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	opts := u.opts.Retry
	opts.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.IncModelRetry("inference")
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying model call")
	}
	req := adapter.ModelRequest{Model: u.opts.Model, Instructions: p.Instructions, Input: p.Input}
	resp, err := retry.Do(ctx, func(ctx context.Context) (adapter.ModelResponse, error) {
		return u.ai.Respond(ctx, req)
	}, opts)
	if err != nil {
		return adapter.ModelResponse{}, classifyModelError(err)
	}
	if resp.Model == "" {
		resp.Model = u.opts.Model
	}
	return resp, nil
}

func (u *inferenceUC) write(ctx context.Context, jobs []model.InferenceJob, st *readState, resp adapter.ModelResponse) (*InferenceResult, error) {
	defer func(start time.Time) { metrics.ObservePhase("write", time.Since(start)) }(time.Now())
	reply := resp.Output

	var res *InferenceResult
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// sentinel and version tag come from the resolver, not from the read phase
		module, err := u.prompts.Resolve(st.conv.Tier())
		if err != nil {
			return err
		}
		res = &InferenceResult{
			InboundProviderSID:  st.inbound.ProviderMessageSID,
			InsertedOutboundIDs: []string{},
			NoReply:             module.IsNoReply(reply),
		}
		if !res.NoReply {
			for i, body := range SplitReply(reply) {
				msg := model.NewReplySegment(st.inbound, i, body, module.VersionTag(), resp.Model)
				msg.ID = uuid.NewString()
				id, inserted, err := u.repo.InsertOutboundMessage(ctx, tx, msg)
				if err != nil {
					return fmt.Errorf("insert segment %d: %w", i, err)
				}
				if inserted && id != "" {
					res.InsertedOutboundIDs = append(res.InsertedOutboundIDs, id)
				}
			}
		}
		if err := u.repo.MarkJobsSucceeded(ctx, tx, model.JobIDs(jobs)); err != nil {
			return fmt.Errorf("mark jobs succeeded: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransaction, err)
	}
	return res, nil
}

// scheduleExtraction hands the post-commit step to the background executor.
// It runs on the executor's context so it outlives the request.
func (u *inferenceUC) scheduleExtraction(ctx context.Context, log *zerolog.Logger, conversationID string, batchSize int) {
	if u.extractor == nil || u.bg == nil {
		return
	}
	traceID := logging.TraceID(ctx)
	task := func(taskCtx context.Context) error {
		taskCtx = logging.WithTraceID(taskCtx, traceID)
		taskCtx = logging.WithConversationID(taskCtx, conversationID)
		return u.extractor.ExtractIfDue(taskCtx, conversationID, batchSize)
	}
	if err := u.bg.Submit("user_context", task); err != nil {
		log.Warn().Err(err).Msg("context extraction not scheduled")
	}
}

var segmentSeparator = regexp.MustCompile(`\t|\n+`)

// SplitReply cuts a model reply into message segments on tabs and runs of
// newlines. Segments are trimmed; empty ones are dropped.
func SplitReply(reply string) []string {
	parts := segmentSeparator.Split(reply, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func retryableModelError(err error) bool {
	return !errors.Is(err, domain.ErrInvalidArgument) && !errors.Is(err, domain.ErrConfiguration)
}

func classifyModelError(err error) error {
	if errors.Is(err, retry.ErrCanceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", domain.ErrModelTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrModelCall, err)
}
