package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := NewError(ErrNotFound, "task not found")
	assert.Equal(t, "[NOT_FOUND] task not found", err.Error())

	cause := errors.New("record missing")
	err = NewError(ErrInternalError, "lookup failed").WithCause(cause)
	assert.Equal(t, "[INTERNAL_ERROR] lookup failed: record missing", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestError_Builders(t *testing.T) {
	err := NewError(ErrUpstreamTimeout, "agent service timeout").
		WithHTTPStatus(504).
		WithRetryable(true)

	assert.Equal(t, 504, err.HTTPStatus)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrUpstreamTimeout, GetErrorCode(err))
}

func TestGetErrorCode_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
