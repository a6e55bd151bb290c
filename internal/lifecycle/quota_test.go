package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khmerscribe/internal/model"
	"khmerscribe/internal/repository"
)

// countingStore counts user lookups
type countingStore struct {
	repository.MemoryStore
	emailCalls int
	quotaCalls int
}

func (s *countingStore) GetUserEmail(ctx context.Context, userID string) (string, error) {
	s.emailCalls++
	return s.MemoryStore.GetUserEmail(ctx, userID)
}

func (s *countingStore) GetCustomQuota(ctx context.Context, email string) (*model.CustomQuota, error) {
	s.quotaCalls++
	return s.MemoryStore.GetCustomQuota(ctx, email)
}

func TestQuotaGuardMemoizesLookups(t *testing.T) {
	store := &countingStore{MemoryStore: repository.NewMemoryStore()}
	limit := 120.0
	store.SetUserEmail("user-1", "monk@wat.org")
	store.SetCustomQuota(model.CustomQuota{Email: "monk@wat.org", AudioFileSizeMB: &limit})

	g := NewQuotaGuard(store, "user-1", 50)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := g.LimitMB(ctx)
		require.NoError(t, err)
		assert.Equal(t, 120.0, got)
	}
	assert.Equal(t, 1, store.emailCalls)
	assert.Equal(t, 1, store.quotaCalls)
}

func TestQuotaGuardDefaults(t *testing.T) {
	g := NewQuotaGuard(repository.NewMemoryStore(), "nobody", 0)
	got, err := g.LimitMB(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultQuotaMB), got)
}

func TestQuotaGuardQuotaWithoutLimit(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SetUserEmail("user-1", "monk@wat.org")
	store.SetCustomQuota(model.CustomQuota{Email: "monk@wat.org"})

	got, err := NewQuotaGuard(store, "user-1", 75).LimitMB(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 75.0, got)
}

type brokenStore struct {
	repository.MemoryStore
}

func (brokenStore) GetUserEmail(ctx context.Context, userID string) (string, error) {
	return "", errors.New("connection refused")
}

func TestQuotaGuardLookupFailure(t *testing.T) {
	g := NewQuotaGuard(brokenStore{repository.NewMemoryStore()}, "user-1", 50)
	err := g.ValidateRequest(context.Background(), &model.Request{FileSize: 1})
	require.Error(t, err)

	var quotaErr *QuotaExceededError
	assert.False(t, errors.As(err, &quotaErr))
}

func TestWhitelist(t *testing.T) {
	w, err := NewWhitelist([]string{" Abbot@Example.com ", ""}, `[a-z]+@wat\.org`)
	require.NoError(t, err)

	assert.True(t, w.Enabled())
	assert.True(t, w.Allows("abbot@example.com"))
	assert.True(t, w.Allows("ABBOT@example.com"))
	assert.True(t, w.Allows("monk@wat.org"))
	assert.False(t, w.Allows("monk@wat.org.evil.com"))
	assert.False(t, w.Allows("stranger@example.com"))
	assert.False(t, w.Allows(""))
}

func TestEmptyWhitelistAllowsEveryone(t *testing.T) {
	w, err := NewWhitelist(nil, "")
	require.NoError(t, err)
	assert.False(t, w.Enabled())
	assert.True(t, w.Allows(""))

	var nilList *Whitelist
	assert.True(t, nilList.Allows("anyone@example.com"))
}

func TestWhitelistInvalidPattern(t *testing.T) {
	_, err := NewWhitelist(nil, "([")
	assert.Error(t, err)
}
