package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func TestConsent_PromptOncePerSession(t *testing.T) {
	access, store := newAccess(t, AccessOptions{})
	svc := NewConsentService(store, access, zap.NewNop())
	c := customer(domain.ProductFinance)
	sess := &session.Session{AccessKey: c.AccessKey}

	assert.True(t, svc.ShouldPrompt(c, sess))
	svc.MarkPrompted(sess)
	assert.False(t, svc.ShouldPrompt(c, sess))

	// a new session prompts again while nothing is persisted
	assert.True(t, svc.ShouldPrompt(c, &session.Session{}))
	assert.Equal(t, domain.ConsentUnknown, svc.State(c))
}

func TestConsent_PersistedChoiceNeverPromptsAgain(t *testing.T) {
	access, store := newAccess(t, AccessOptions{})
	svc := NewConsentService(store, access, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	c := customer(domain.ProductFinance)
	sess := &session.Session{}

	store.EXPECT().UpdateConsent(gomock.Any(), "cust-1", false, fixedNow).Return(nil)
	require.NoError(t, svc.SetConsent(context.Background(), c, sess, false))

	assert.Equal(t, domain.ConsentDeclined, svc.State(c))
	assert.False(t, svc.ShouldPrompt(c, sess))
	assert.False(t, svc.ShouldPrompt(c, &session.Session{}))

	// the cached snapshot reflects the decision
	cached, ok := access.cache.Get(c.AccessKey)
	require.True(t, ok)
	assert.Equal(t, domain.ConsentDeclined, cached.ConsentState())
}

func TestConsent_StoreFailureKeepsSessionChoice(t *testing.T) {
	access, store := newAccess(t, AccessOptions{})
	svc := NewConsentService(store, access, zap.NewNop())
	c := customer(domain.ProductFinance)
	sess := &session.Session{}

	store.EXPECT().UpdateConsent(gomock.Any(), "cust-1", true, gomock.Any()).Return(errors.New("down"))
	err := svc.SetConsent(context.Background(), c, sess, true)
	assert.Error(t, err)

	assert.Equal(t, domain.ConsentUnknown, c.ConsentState())
	require.NotNil(t, sess.ConsentChoice)
	assert.True(t, *sess.ConsentChoice)
	assert.False(t, svc.ShouldPrompt(c, sess))
}
