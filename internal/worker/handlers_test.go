package worker

import (
	"context"
	"errors"
	"testing"

	"taxonomer/internal/models"
	"taxonomer/internal/tasks"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *mockRunner) Abandon(ctx context.Context, taskID uuid.UUID, cause error) error {
	return m.Called(ctx, taskID, cause).Error(0)
}

func withFinalAttempt(t *testing.T, final bool) {
	t.Helper()
	orig := isFinalAttempt
	isFinalAttempt = func(context.Context) bool { return final }
	t.Cleanup(func() { isFinalAttempt = orig })
}

func newBuildTask(t *testing.T, id uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := tasks.NewIndexBuildTask(id)
	require.NoError(t, err)
	return task
}

func TestRegisterHandlers(t *testing.T) {
	mux := asynq.NewServeMux()
	RegisterHandlers(mux, &mockRunner{})

	h, pattern := mux.Handler(asynq.NewTask(tasks.TypeIndexBuild, nil))
	assert.NotNil(t, h)
	assert.Equal(t, tasks.TypeIndexBuild, pattern)
}

func TestHandleIndexBuild_Success(t *testing.T) {
	id := uuid.New()
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, id).Return(nil).Once()

	err := HandleIndexBuild(runner)(context.Background(), newBuildTask(t, id))
	assert.NoError(t, err)
	runner.AssertExpectations(t)
}

func TestHandleIndexBuild_RecordedFailureSkipsRetry(t *testing.T) {
	id := uuid.New()
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, id).Return(models.ErrBuildFailed)

	err := HandleIndexBuild(runner)(context.Background(), newBuildTask(t, id))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleIndexBuild_TransientFailureIsRetried(t *testing.T) {
	id := uuid.New()
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, id).Return(errors.New("database unavailable"))

	err := HandleIndexBuild(runner)(context.Background(), newBuildTask(t, id))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	runner.AssertNotCalled(t, "Abandon", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleIndexBuild_FinalAttemptAbandonsTask(t *testing.T) {
	withFinalAttempt(t, true)
	id := uuid.New()
	cause := errors.New("database unavailable")
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, id).Return(cause)
	runner.On("Abandon", mock.Anything, id, cause).Return(nil).Once()

	err := HandleIndexBuild(runner)(context.Background(), newBuildTask(t, id))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	runner.AssertExpectations(t)
}

func TestHandleIndexBuild_FinalAttemptShutdownIsRequeued(t *testing.T) {
	withFinalAttempt(t, true)
	id := uuid.New()
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, id).Return(context.Canceled)

	err := HandleIndexBuild(runner)(context.Background(), newBuildTask(t, id))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	runner.AssertNotCalled(t, "Abandon", mock.Anything, mock.Anything, mock.Anything)
}

func TestIsFinalAttempt_OutsideAsynq(t *testing.T) {
	assert.False(t, isFinalAttempt(context.Background()))
}

func TestHandleIndexBuild_BadPayload(t *testing.T) {
	runner := &mockRunner{}
	err := HandleIndexBuild(runner)(context.Background(), asynq.NewTask(tasks.TypeIndexBuild, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}
