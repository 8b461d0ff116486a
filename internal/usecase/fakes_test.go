package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/model"
	"sms-agent/internal/domain/ports/adapter"
	"sms-agent/internal/domain/ports/repository"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// -----------------------------
// Store + transaction manager
// -----------------------------

type outboundKey struct {
	conv, inbound string
	seq           int
}

// fakeStore is an in-memory stand-in for the inference tables. Writes made
// inside a failed WithTx are rolled back by fakeTxManager.
type fakeStore struct {
	mu sync.Mutex

	inboundByJob map[string]*model.InboundMessage
	convs        map[string]*model.Conversation
	recent       map[string]model.Transcript
	full         map[string]model.Transcript
	inboundCount map[string]int

	outbound     []model.OutboundMessage
	outboundKeys map[outboundKey]bool
	jobStatus    map[string]model.InferenceJobStatus
	userContext  map[string]string

	// failInsertAt makes the n-th insert (0-based, counted per call) fail.
	failInsertAt int
	insertCalls  int
	failMarkJobs error
	failCount    error
	failSave     error
	limits       []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		inboundByJob: map[string]*model.InboundMessage{},
		convs:        map[string]*model.Conversation{},
		recent:       map[string]model.Transcript{},
		full:         map[string]model.Transcript{},
		inboundCount: map[string]int{},
		outboundKeys: map[outboundKey]bool{},
		jobStatus:    map[string]model.InferenceJobStatus{},
		userContext:  map[string]string{},
		failInsertAt: -1,
	}
}

type storeSnapshot struct {
	outbound    []model.OutboundMessage
	keys        map[outboundKey]bool
	jobStatus   map[string]model.InferenceJobStatus
	userContext map[string]string
}

func (s *fakeStore) snapshot() storeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := storeSnapshot{
		outbound:    append([]model.OutboundMessage(nil), s.outbound...),
		keys:        map[outboundKey]bool{},
		jobStatus:   map[string]model.InferenceJobStatus{},
		userContext: map[string]string{},
	}
	for k, v := range s.outboundKeys {
		snap.keys[k] = v
	}
	for k, v := range s.jobStatus {
		snap.jobStatus[k] = v
	}
	for k, v := range s.userContext {
		snap.userContext[k] = v
	}
	return snap
}

func (s *fakeStore) restore(snap storeSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound = snap.outbound
	s.outboundKeys = snap.keys
	s.jobStatus = snap.jobStatus
	s.userContext = snap.userContext
}

func (s *fakeStore) LoadInboundMessage(_ context.Context, _ repository.Tx, jobID string) (*model.InboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inboundByJob[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *fakeStore) LoadConversation(_ context.Context, _ repository.Tx, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	if v, ok := s.userContext[id]; ok {
		cp.UserContext = &v
	}
	return &cp, nil
}

func (s *fakeStore) LoadRecentTranscript(_ context.Context, _ repository.Tx, id string, limit int) (model.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, limit)
	t := s.recent[id]
	if limit > 0 && len(t) > limit {
		t = t[len(t)-limit:]
	}
	return t, nil
}

func (s *fakeStore) InsertOutboundMessage(_ context.Context, _ repository.Tx, msg *model.OutboundMessage) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.insertCalls
	s.insertCalls++
	if s.failInsertAt >= 0 && call == s.failInsertAt {
		return "", false, errors.New("insert failed")
	}
	k := outboundKey{msg.ConversationID, msg.InboundMessageID, msg.SequenceNumber}
	if s.outboundKeys[k] {
		return "", false, nil
	}
	s.outboundKeys[k] = true
	s.outbound = append(s.outbound, *msg)
	return msg.ID, true, nil
}

func (s *fakeStore) MarkJobsSucceeded(_ context.Context, _ repository.Tx, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarkJobs != nil {
		return s.failMarkJobs
	}
	for _, id := range ids {
		s.jobStatus[id] = model.InferenceJobSucceeded
	}
	return nil
}

func (s *fakeStore) CountInboundMessages(_ context.Context, _ repository.Tx, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCount != nil {
		return 0, s.failCount
	}
	return s.inboundCount[id], nil
}

func (s *fakeStore) LoadFullTranscript(_ context.Context, _ repository.Tx, id string) (model.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return s.full[id], nil
}

func (s *fakeStore) SaveUserContext(_ context.Context, _ repository.Tx, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.userContext[id] = summary
	return nil
}

func (s *fakeStore) outboundRows() []model.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutboundMessage(nil), s.outbound...)
}

func (s *fakeStore) status(jobID string) model.InferenceJobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobStatus[jobID]
}

type fakeTxManager struct {
	store *fakeStore
	open  atomic.Int32
	mu    sync.Mutex
	opts  []pgx.TxOptions
}

func (m *fakeTxManager) WithTx(ctx context.Context, opt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	m.opts = append(m.opts, opt)
	m.mu.Unlock()

	m.open.Add(1)
	defer m.open.Add(-1)
	snap := m.store.snapshot()
	if err := fn(ctx, struct{}{}); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

func (m *fakeTxManager) txOptions() []pgx.TxOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pgx.TxOptions(nil), m.opts...)
}

// -----------------------------
// Model client
// -----------------------------

type fakeModel struct {
	mu    sync.Mutex
	reqs  []adapter.ModelRequest
	calls atomic.Int32
	fn    func(ctx context.Context, req adapter.ModelRequest) (adapter.ModelResponse, error)
}

func replyWith(out string) *fakeModel {
	return &fakeModel{fn: func(context.Context, adapter.ModelRequest) (adapter.ModelResponse, error) {
		return adapter.ModelResponse{Output: out, Model: "test-model"}, nil
	}}
}

func (f *fakeModel) Respond(ctx context.Context, req adapter.ModelRequest) (adapter.ModelResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeModel) requests() []adapter.ModelRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adapter.ModelRequest(nil), f.reqs...)
}

// -----------------------------
// Background executor / extractor / locker
// -----------------------------

// syncExecutor runs tasks inline and keeps their errors, like a pool error
// channel would.
type syncExecutor struct {
	mu     sync.Mutex
	names  []string
	errs   []error
	reject error
}

func (e *syncExecutor) Submit(name string, task func(ctx context.Context) error) error {
	if e.reject != nil {
		return e.reject
	}
	err := task(context.Background())
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
	if err != nil {
		e.errs = append(e.errs, err)
	}
	return nil
}

type fakeExtractor struct {
	mu      sync.Mutex
	convIDs []string
	batches []int
	err     error
}

func (f *fakeExtractor) ExtractIfDue(_ context.Context, conversationID string, batchSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convIDs = append(f.convIDs, conversationID)
	f.batches = append(f.batches, batchSize)
	return f.err
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	unlocked []string
	err      error
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]string{}} }

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLockHeld
	}
	token := fmt.Sprintf("tok-%d", len(l.held)+len(l.unlocked))
	l.held[key] = token
	return token, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.unlocked = append(l.unlocked, key)
	}
	return nil
}
