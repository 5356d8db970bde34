package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singularitybridge/session-gateway/internal/store"
)

func TestValidateOwnership_OwnTenant(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	handle, err := svc.GetOrCreate(ctx, webResolution(-1), nil)
	require.NoError(t, err)

	session, err := svc.ValidateOwnership(ctx, handle.ID, "acme")
	require.NoError(t, err)
	assert.Equal(t, handle.ID, session.ID)
	assert.Equal(t, "acme", session.CompanyID)
}

func TestValidateOwnership_CrossTenantIndistinguishableFromMissing(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	handle, err := svc.GetOrCreate(ctx, webResolution(-1), nil)
	require.NoError(t, err)

	// Foreign tenant and nonexistent id must fail identically
	_, crossErr := svc.ValidateOwnership(ctx, handle.ID, "globex")
	_, missingErr := svc.ValidateOwnership(ctx, "no-such-session", "globex")

	assert.ErrorIs(t, crossErr, ErrAccessDenied)
	assert.ErrorIs(t, missingErr, ErrAccessDenied)
	assert.Equal(t, crossErr.Error(), missingErr.Error())
}

func TestDelete_RemovesRow(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	handle, err := svc.GetOrCreate(ctx, webResolution(-1), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, handle.ID, "acme"))

	_, err = st.GetSession(ctx, handle.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete_CrossTenantDenied(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	handle, err := svc.GetOrCreate(ctx, webResolution(-1), nil)
	require.NoError(t, err)

	err = svc.Delete(ctx, handle.ID, "globex")
	assert.ErrorIs(t, err, ErrAccessDenied)

	// Row survives the rejected delete
	_, err = st.GetSession(ctx, handle.ID)
	require.NoError(t, err)
}

func TestList_IncludesInactiveSessions(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	res := webResolution(-1)

	first, err := svc.GetOrCreate(ctx, res, nil)
	require.NoError(t, err)
	second, err := svc.Clear(ctx, res, nil)
	require.NoError(t, err)

	sessions, err := svc.List(ctx, "acme", "u1", 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	ids := []string{sessions[0].ID, sessions[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)
}
