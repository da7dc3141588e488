package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesSentinelOfSameKind(t *testing.T) {
	err := New(KindBusy, "chanx.TrySend")

	assert.ErrorIs(t, err, ErrBusy)
	assert.NotErrorIs(t, err, ErrEmpty)
	assert.Equal(t, "chanx.TrySend: busy", err.Error())
}

func TestError_WrappedCause(t *testing.T) {
	err := Wrap(KindTimeout, "syncx.LockContext", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestError_SurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("stage map: %w", New(KindClosed, "chanx.Send"))

	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, KindClosed, KindOf(err))
}

func TestError_OpSpecificTarget(t *testing.T) {
	err := New(KindBusy, "syncx.TryLock")

	assert.ErrorIs(t, err, New(KindBusy, "syncx.TryLock"))
	assert.NotErrorIs(t, err, New(KindBusy, "chanx.TrySend"))
}

func TestPanicError(t *testing.T) {
	cause := errors.New("boom")
	err := &PanicError{Value: cause, Stack: "stack"}

	assert.ErrorIs(t, err, ErrTaskPanicked)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindTaskPanicked, KindOf(err))
	assert.Equal(t, "task panicked: boom", err.Error())

	plain := &PanicError{Value: 42}
	assert.Nil(t, plain.Unwrap())
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindQueueClosed, "queue closed"},
		{KindPoisoned, "poisoned"},
		{KindCancelled, "cancelled"},
		{Kind(200), "kind(200)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestFromContext(t *testing.T) {
	assert.ErrorIs(t, FromContext("op", context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, FromContext("op", context.Canceled), ErrCancelled)
	assert.ErrorIs(t, FromContext("op", context.Canceled), context.Canceled)
}
