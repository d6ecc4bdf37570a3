package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/port/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func TestUsageResetJob_Run(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockCustomerStore(ctrl)
	now := time.Date(2024, 11, 20, 3, 0, 0, 0, time.UTC)

	job := NewUsageResetJob(store, "0 3 * * *", 7*24*time.Hour, zap.NewNop())
	job.now = func() time.Time { return now }

	store.EXPECT().ResetExpiredUsage(gomock.Any(), now, now.Add(7*24*time.Hour)).Return(4, nil)
	n, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, job.Status()["last_reset"])
	assert.NoError(t, job.Check(context.Background()))

	store.EXPECT().ResetExpiredUsage(gomock.Any(), gomock.Any(), gomock.Any()).Return(0, errors.New("db down"))
	_, err = job.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "db down", job.Status()["last_error"])
	assert.ErrorContains(t, job.Check(context.Background()), "db down")
}

func TestUsageResetJob_StartAndStop(t *testing.T) {
	store := mocks.NewMockCustomerStore(gomock.NewController(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := NewUsageResetJob(store, "0 3 * * *", time.Hour, zap.NewNop())
	require.NoError(t, job.Start(ctx))

	bad := NewUsageResetJob(store, "not a cron", time.Hour, zap.NewNop())
	assert.Error(t, bad.Start(ctx))

	disabled := NewUsageResetJob(store, "", time.Hour, zap.NewNop())
	assert.NoError(t, disabled.Start(ctx))
}
