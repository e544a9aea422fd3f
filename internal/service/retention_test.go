package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRetentionService_Run(t *testing.T) {
	store := new(MockAnalysisStore)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cutoff := now.Add(-7 * 24 * time.Hour)
	store.On("DeleteOlderThan", mock.Anything, cutoff).Return(int64(3), nil)

	svc := NewRetentionService(store, 7*24*time.Hour, nil)
	svc.now = func() time.Time { return now }

	deleted, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	store.AssertExpectations(t)
}

func TestRetentionService_RunError(t *testing.T) {
	store := new(MockAnalysisStore)
	store.On("DeleteOlderThan", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down"))

	svc := NewRetentionService(store, time.Hour, nil)
	_, err := svc.Run(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestRetentionService_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := new(MockAnalysisStore)
	swept := make(chan struct{}, 1)
	store.On("DeleteOlderThan", mock.Anything, mock.Anything).
		Return(int64(0), nil).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		})

	svc := NewRetentionService(store, time.Hour, nil)
	svc.SetInterval(time.Hour)
	svc.Start()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("initial sweep did not run")
	}
	svc.Stop()
}
