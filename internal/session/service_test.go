package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singularitybridge/session-gateway/internal/identity"
	"github.com/singularitybridge/session-gateway/internal/store"
)

func setupService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.EnsureSessionIndex(context.Background()))
	t.Cleanup(func() { st.Close() })

	return New(st, st, nil), st
}

// webResolution builds a resolved identity for user u1 on the web channel.
// ttlHours < 0 means the assistant has no TTL configured.
func webResolution(ttlHours int) *identity.Resolution {
	assistant := &store.Assistant{
		ID:        "asst-1",
		CompanyID: "acme",
		Name:      "Support Bot",
		Language:  "en",
	}
	if ttlHours >= 0 {
		assistant.SessionTTLHours = &ttlHours
	}
	return &identity.Resolution{
		Key: store.SessionKey{
			CompanyID:     "acme",
			UserID:        "u1",
			Channel:       store.ChannelWeb,
			ChannelUserID: "u1",
			AssistantID:   "asst-1",
		},
		Assistant: assistant,
	}
}

func TestGetOrCreate_CreatesThenReuses(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	res := webResolution(-1)

	first, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "asst-1", first.AssistantID)

	second, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreate_TouchesLastActivity(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()
	res := webResolution(-1)

	handle, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)

	// Age the session, then verify the next message advances the timestamp
	past := time.Now().Add(-10 * time.Minute)
	require.NoError(t, st.TouchSession(ctx, handle.ID, past))

	_, err = svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)

	session, err := st.GetSession(ctx, handle.ID)
	require.NoError(t, err)
	assert.True(t, session.LastActivityAt.After(past.Add(time.Minute)))
}

func TestGetOrCreate_ExpiresAfterTTL(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()
	res := webResolution(1)

	first, err := svc.GetOrCreate(ctx, res, map[string]string{"name": "Ada"})
	require.NoError(t, err)

	// Two hours idle against a one-hour TTL
	require.NoError(t, st.TouchSession(ctx, first.ID, time.Now().Add(-2*time.Hour)))

	second, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	old, err := st.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)

	// Metadata carried forward from the expired session
	fresh, err := st.GetSession(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Active)
	assert.Equal(t, map[string]string{"name": "Ada"}, fresh.ChannelMetadata)
	assert.NotEqual(t, old.ThreadID, fresh.ThreadID)
}

func TestGetOrCreate_CallerMetadataWinsOverCarryForward(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()
	res := webResolution(1)

	first, err := svc.GetOrCreate(ctx, res, map[string]string{"name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, st.TouchSession(ctx, first.ID, time.Now().Add(-2*time.Hour)))

	second, err := svc.GetOrCreate(ctx, res, map[string]string{"name": "Grace"})
	require.NoError(t, err)

	fresh, err := st.GetSession(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", fresh.ChannelMetadata["name"])
}

func TestGetOrCreate_NoTTLNeverExpires(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()
	res := webResolution(-1)

	first, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)

	require.NoError(t, st.TouchSession(ctx, first.ID, time.Now().Add(-1000*time.Hour)))

	second, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreate_PopulatesWebMetadataFromProfile(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	require.NoError(t, st.SaveUserProfile(ctx, &store.UserProfile{
		CompanyID: "acme",
		UserID:    "u1",
		Name:      "Ada Lovelace",
		Email:     "ada@acme.test",
	}))

	handle, err := svc.GetOrCreate(ctx, webResolution(-1), nil)
	require.NoError(t, err)

	session, err := st.GetSession(ctx, handle.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", session.ChannelMetadata["name"])
	assert.Equal(t, "ada@acme.test", session.ChannelMetadata["email"])
}

func TestGetOrCreate_NonWebSkipsProfilePopulation(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	require.NoError(t, st.SaveUserProfile(ctx, &store.UserProfile{
		CompanyID: "acme",
		UserID:    "u1",
		Name:      "Ada Lovelace",
	}))

	res := webResolution(-1)
	res.Key.Channel = store.ChannelTelegram
	res.Key.ChannelUserID = "tg-1001"

	handle, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)

	session, err := st.GetSession(ctx, handle.ID)
	require.NoError(t, err)
	assert.Empty(t, session.ChannelMetadata)
}

func TestGetOrCreate_ConcurrentCallersShareOneSession(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()
	res := webResolution(-1)

	const callers = 16
	ids := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := svc.GetOrCreate(ctx, res, nil)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = handle.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	// Exactly one row persisted for the tuple
	sessions, err := st.ListSessions(ctx, "acme", "u1", 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Active)
}

func TestClear_AlwaysRotates(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()
	res := webResolution(-1)

	first, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)

	rotated, err := svc.Clear(ctx, res, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, rotated.ID)

	old, err := st.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)

	// Clearing with no prior session still creates one
	again, err := svc.Clear(ctx, res, nil)
	require.NoError(t, err)
	assert.NotEqual(t, rotated.ID, again.ID)
}

func TestActivate_Idempotent(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()
	res := webResolution(-1)

	first, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)
	rotated, err := svc.Clear(ctx, res, nil)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, rotated.ID)

	// Reactivate the superseded session, twice
	require.NoError(t, svc.Activate(ctx, first.ID, "acme"))
	require.NoError(t, svc.Activate(ctx, first.ID, "acme"))

	active, err := st.GetActiveSession(ctx, res.Key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	superseded, err := st.GetSession(ctx, rotated.ID)
	require.NoError(t, err)
	assert.False(t, superseded.Active)
}

func TestActivate_CrossTenantDenied(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	handle, err := svc.GetOrCreate(ctx, webResolution(-1), nil)
	require.NoError(t, err)

	err = svc.Activate(ctx, handle.ID, "globex")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestEnd_NotIdempotent(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	handle, err := svc.GetOrCreate(ctx, webResolution(-1), nil)
	require.NoError(t, err)

	require.NoError(t, svc.End(ctx, handle.ID))

	// Ending an already-ended session is an error, not a no-op
	err = svc.End(ctx, handle.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnd_ThenGetOrCreateStartsFresh(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	res := webResolution(-1)

	first, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)
	require.NoError(t, svc.End(ctx, first.ID))

	second, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

// TestLifecycleScenario walks a full conversation: two messages inside the
// TTL window share a session, the third after expiry gets a new one.
func TestLifecycleScenario(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()
	res := webResolution(1)

	s1, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)

	created, err := st.GetSession(ctx, s1.ID)
	require.NoError(t, err)
	assert.True(t, created.Active)
	assert.Equal(t, "u1", created.ChannelUserID)

	// Second message within the window
	require.NoError(t, st.TouchSession(ctx, s1.ID, time.Now().Add(-30*time.Minute)))
	again, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)
	require.Equal(t, s1.ID, again.ID)

	touched, err := st.GetSession(ctx, s1.ID)
	require.NoError(t, err)
	assert.True(t, touched.LastActivityAt.After(created.CreatedAt.Add(-time.Minute)))

	// Third message after the TTL elapsed
	require.NoError(t, st.TouchSession(ctx, s1.ID, time.Now().Add(-2*time.Hour)))
	s2, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)

	fresh, err := st.GetSession(ctx, s2.ID)
	require.NoError(t, err)
	assert.Equal(t, created.UserID, fresh.UserID)
	assert.Equal(t, created.Channel, fresh.Channel)
}
