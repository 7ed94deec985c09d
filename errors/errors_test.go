package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFieldError(t *testing.T) {
	err := NewFieldError(KindUnknownField, "colour", "unknown field colour")

	assert.True(t, IsValidation(err))
	assert.Equal(t, KindUnknownField, Detail(err, "kind"))
	assert.Equal(t, "colour", Detail(err, "field"))
	assert.Contains(t, err.Error(), "VALIDATION_ERROR")
}

func TestNotFoundErrors_CarryReason(t *testing.T) {
	deleted := NewNotFoundOrDeleted("leads", 7, ReasonDeleted)
	missing := NewNotFoundOrDeleted("leads", 8, ReasonMissing)
	active := NewNotFoundOrNotDeleted("leads", 9, ReasonActive)

	assert.True(t, IsNotFoundOrDeleted(deleted))
	assert.True(t, IsNotFoundOrDeleted(missing))
	assert.True(t, IsNotFoundOrNotDeleted(active))
	assert.False(t, IsNotFoundOrNotDeleted(deleted))

	assert.Equal(t, ReasonDeleted, Detail(deleted, "reason"))
	assert.Equal(t, ReasonMissing, Detail(missing, "reason"))
	assert.Equal(t, "leads 9 is not deleted", active.Message())
}

func TestWrapError_Unwrap(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := WrapError(cause, ErrCodeBackendUnavailable, "query failed")

	assert.True(t, stdErrors.Is(err, cause))
	assert.True(t, IsBackendUnavailable(err))
	assert.Nil(t, WrapError(nil, ErrCodeInternal, "noop"))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, ErrCodeBackendUnavailable, GetErrorCode(wrapped))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(stdErrors.New("plain")))
}

func TestWithDetails_DoesNotMutateOriginal(t *testing.T) {
	base := NewError(ErrCodeInternal, "boom")
	derived := base.WithContext("k", "v")

	assert.Empty(t, base.Details())
	assert.Equal(t, "v", derived.Details()["k"])
}

func TestNormalize(t *testing.T) {
	t.Run("超时", func(t *testing.T) {
		err := Normalize(context.DeadlineExceeded, "count")
		assert.Equal(t, ErrCodeTimeout, GetErrorCode(err))
	})

	t.Run("取消", func(t *testing.T) {
		err := Normalize(fmt.Errorf("scan: %w", context.Canceled), "scan")
		assert.Equal(t, ErrCodeTimeout, GetErrorCode(err))
	})

	t.Run("其他后端错误", func(t *testing.T) {
		err := Normalize(stdErrors.New("no such table: leads"), "select")
		require.Error(t, err)
		assert.True(t, IsBackendUnavailable(err))
	})

	t.Run("已是 AppError", func(t *testing.T) {
		orig := NewValidationError("bad")
		assert.Same(t, orig, Normalize(orig, "ignored"))
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, Normalize(nil, "x"))
	})
}
