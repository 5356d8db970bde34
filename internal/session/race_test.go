package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singularitybridge/session-gateway/internal/store"
)

// scriptedStore is a SessionStore whose create and active-lookup results are
// queued per call, so the conflict-recovery branches can be driven
// deterministically. Unscripted calls succeed (create) or miss (lookup).
type scriptedStore struct {
	mu            sync.Mutex
	createErrs    []error
	activeResults []activeResult
	createCalls   int
}

type activeResult struct {
	session *store.Session
	err     error
}

func (s *scriptedStore) CreateSession(ctx context.Context, session *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if len(s.createErrs) == 0 {
		return nil
	}
	err := s.createErrs[0]
	s.createErrs = s.createErrs[1:]
	return err
}

func (s *scriptedStore) GetActiveSession(ctx context.Context, key store.SessionKey) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.activeResults) == 0 {
		return nil, store.ErrNotFound
	}
	r := s.activeResults[0]
	s.activeResults = s.activeResults[1:]
	return r.session, r.err
}

func (s *scriptedStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	return nil, store.ErrNotFound
}

func (s *scriptedStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (s *scriptedStore) DeactivateSession(ctx context.Context, id string) error { return nil }

func (s *scriptedStore) DeactivateSiblings(ctx context.Context, key store.SessionKey, exceptID string) (int64, error) {
	return 0, nil
}

func (s *scriptedStore) ActivateSession(ctx context.Context, id string) error { return nil }

func (s *scriptedStore) DeleteSession(ctx context.Context, id string) error { return nil }

func (s *scriptedStore) ListSessions(ctx context.Context, companyID, userID string, limit int) ([]*store.Session, error) {
	return nil, nil
}

var _ store.SessionStore = (*scriptedStore)(nil)

func TestCreate_ConflictReturnsWinner(t *testing.T) {
	winner := &store.Session{ID: "sess-winner", AssistantID: "asst-1", Active: true}
	st := &scriptedStore{
		createErrs: []error{store.ErrDuplicateActiveSession},
		activeResults: []activeResult{
			{err: store.ErrNotFound}, // initial lookup
			{session: winner},        // re-read after the conflict
		},
	}
	svc := New(st, nil, nil)

	handle, err := svc.GetOrCreate(context.Background(), webResolution(-1), nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-winner", handle.ID)
	assert.Equal(t, "asst-1", handle.AssistantID)
	assert.Equal(t, 1, st.createCalls)
}

func TestCreate_VanishedWinnerRetriesInsert(t *testing.T) {
	st := &scriptedStore{
		// First insert conflicts; the winner is gone by the re-read (ended
		// immediately), so the second insert goes through.
		createErrs: []error{store.ErrDuplicateActiveSession},
	}
	svc := New(st, nil, nil)

	handle, err := svc.GetOrCreate(context.Background(), webResolution(-1), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID)
	assert.Equal(t, 2, st.createCalls)
}

func TestCreate_RetriesExhaustedReturnTerminalError(t *testing.T) {
	st := &scriptedStore{
		createErrs: []error{
			store.ErrDuplicateActiveSession,
			store.ErrDuplicateActiveSession,
			store.ErrDuplicateActiveSession,
		},
	}
	svc := New(st, nil, nil)

	start := time.Now()
	_, err := svc.GetOrCreate(context.Background(), webResolution(-1), nil)
	assert.ErrorIs(t, err, ErrSessionCreateRace)
	assert.Equal(t, createAttempts, st.createCalls)
	// Two backoffs of at least 10ms each separate the three attempts
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCreate_NonConflictErrorNotRetried(t *testing.T) {
	boom := errors.New("disk I/O error")
	st := &scriptedStore{createErrs: []error{boom}}
	svc := New(st, nil, nil)

	_, err := svc.GetOrCreate(context.Background(), webResolution(-1), nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, st.createCalls)
}

func TestCreate_CancelledContextStopsRetries(t *testing.T) {
	st := &scriptedStore{
		createErrs: []error{
			store.ErrDuplicateActiveSession,
			store.ErrDuplicateActiveSession,
		},
	}
	svc := New(st, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GetOrCreate(ctx, webResolution(-1), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, st.createCalls)
}
