package accounts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/docstore/memory"
	"github.com/hongminglow/flatkeeper/internal/errs"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	svc := NewService(store, docstore.Namespace("test-app"), nil)
	svc.cost = bcrypt.MinCost
	return svc, store
}

func TestRegisterThenAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	acc, err := svc.Register(ctx, "  Jane@Example.com ", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", acc.Email)
	assert.NotEmpty(t, acc.IdentityID)
	assert.Empty(t, acc.PasswordHash)

	doc, err := store.Get(ctx, docstore.Namespace("test-app").Account("jane@example.com"))
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", doc.Data["passwordHash"])

	got, err := svc.Authenticate(ctx, "JANE@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, acc.IdentityID, got.IdentityID)
	assert.Empty(t, got.PasswordHash)
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, "jane@example.com", "s3cret-pass")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "jane@example.com", "another-pass")
	assert.ErrorIs(t, err, errs.Conflict)

	_, err = svc.Register(ctx, "not-an-email", "s3cret-pass")
	assert.ErrorIs(t, err, errs.ValidationFailed)
	_, err = svc.Register(ctx, "a/b@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, errs.ValidationFailed)
	_, err = svc.Register(ctx, "short@example.com", "short")
	assert.ErrorIs(t, err, errs.ValidationFailed)
}

func TestAuthenticateFailures(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	_, err := svc.Register(ctx, "jane@example.com", "s3cret-pass")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "jane@example.com", "wrong-pass")
	assert.ErrorIs(t, err, errs.Unauthorized)
	_, err = svc.Authenticate(ctx, "nobody@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, errs.Unauthorized)
	_, err = svc.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, errs.ValidationFailed)

	require.NoError(t, store.Close())
	_, err = svc.Authenticate(ctx, "jane@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, errs.StoreUnavailable)
}
