package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberpay/internal/scheduler"
)

type mockSweeper struct {
	called bool
	now    time.Time
	result scheduler.SweepResult
	err    error
}

func (m *mockSweeper) Run(_ context.Context, now time.Time) (scheduler.SweepResult, error) {
	m.called = true
	m.now = now
	return m.result, m.err
}

type mockJobLock struct {
	acquired   bool
	acquireErr error
	lockID     string
	released   string
}

func (m *mockJobLock) Acquire(_ context.Context, lockID, _ string, _ time.Duration) (bool, error) {
	m.lockID = lockID
	return m.acquired, m.acquireErr
}

func (m *mockJobLock) Release(_ context.Context, lockID, _ string) error {
	m.released = lockID
	return nil
}

type mockJobHistory struct {
	startErr     error
	finished     bool
	finishStatus string
	finishItems  int
}

func (m *mockJobHistory) Start(context.Context, string) (int64, error) {
	if m.startErr != nil {
		return 0, m.startErr
	}
	return 11, nil
}

func (m *mockJobHistory) Finish(_ context.Context, _ int64, status string, items int, _ error) error {
	m.finished = true
	m.finishStatus = status
	m.finishItems = items
	return nil
}

func newTestHandler(s *mockSweeper, lock *mockJobLock, hist *mockJobHistory) *Handler {
	return &Handler{
		Sweeper:    s,
		JobLock:    lock,
		JobHistory: hist,
		WorkerID:   "worker-1",
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestHandle_RunsSweepUnderLock(t *testing.T) {
	ref := time.Date(2024, 6, 1, 12, 34, 0, 0, time.UTC)
	s := &mockSweeper{result: scheduler.SweepResult{Checked: 5, Settled: 2, Failed: 1}}
	lock := &mockJobLock{acquired: true}
	hist := &mockJobHistory{}

	out, err := newTestHandler(s, lock, hist).Handle(context.Background(), scheduler.SweepPayload{ReferenceTime: &ref})
	require.NoError(t, err)

	assert.Equal(t, "sweep complete: 5 checked, 2 settled, 1 failed", out)
	assert.Equal(t, ref, s.now)
	assert.Equal(t, "pending_invoice_sweep:2024-06-01T12", lock.lockID)
	assert.Equal(t, lock.lockID, lock.released)
	assert.True(t, hist.finished)
	assert.Equal(t, "success", hist.finishStatus)
	assert.Equal(t, 5, hist.finishItems)
}

func TestHandle_SkipsWhenLockHeld(t *testing.T) {
	s := &mockSweeper{}
	lock := &mockJobLock{acquired: false}
	hist := &mockJobHistory{}

	out, err := newTestHandler(s, lock, hist).Handle(context.Background(), scheduler.SweepPayload{})
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")
	assert.False(t, s.called)
	assert.False(t, hist.finished)
	assert.Empty(t, lock.released)
}

func TestHandle_LockError(t *testing.T) {
	s := &mockSweeper{}
	lock := &mockJobLock{acquireErr: errors.New("db down")}

	_, err := newTestHandler(s, lock, &mockJobHistory{}).Handle(context.Background(), scheduler.SweepPayload{})
	require.Error(t, err)
	assert.False(t, s.called)
}

func TestHandle_SweepFailureIsRecorded(t *testing.T) {
	s := &mockSweeper{err: errors.New("listing failed")}
	lock := &mockJobLock{acquired: true}
	hist := &mockJobHistory{}

	_, err := newTestHandler(s, lock, hist).Handle(context.Background(), scheduler.SweepPayload{})
	require.Error(t, err)
	assert.Equal(t, "failed", hist.finishStatus)
	assert.NotEmpty(t, lock.released)
}

func TestHandle_HistoryFailureIsNotFatal(t *testing.T) {
	s := &mockSweeper{}
	lock := &mockJobLock{acquired: true}
	hist := &mockJobHistory{startErr: errors.New("table missing")}

	_, err := newTestHandler(s, lock, hist).Handle(context.Background(), scheduler.SweepPayload{})
	require.NoError(t, err)
	assert.True(t, s.called)
	assert.False(t, hist.finished)
}
