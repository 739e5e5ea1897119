package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 🧪 通用响应测试
// =============================================================================

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrValidation, http.StatusBadRequest},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrNotReady, http.StatusConflict},
		{types.ErrInvalidTransition, http.StatusConflict},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrForbidden, http.StatusForbidden},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{types.ErrUpstreamError, http.StatusBadGateway},
		{types.ErrAutomationFailure, http.StatusBadGateway},
		{types.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{types.ErrInternalError, http.StatusInternalServerError},
		{types.ErrorCode("UNKNOWN_CODE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mapErrorCodeToHTTPStatus(tt.code), string(tt.code))
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrNotFound, "task not found: task_x")

	WriteError(rec, err, zap.NewNop())

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "task not found: task_x", resp.Error.Message)
}

func TestWriteError_ExplicitStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrValidation, "nope").WithHTTPStatus(http.StatusUnprocessableEntity)

	WriteError(rec, err, zap.NewNop())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "world", resp.Data.(map[string]any)["hello"])
}

func TestDecodeJSONBody_UnknownFieldsRejected(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/execute-test",
		strings.NewReader(`{"target_url":"https://example.com","task_description":"x","bogus":1}`))
	rec := httptest.NewRecorder()

	var config types.TestConfig
	err := DecodeJSONBody(rec, req, &config, zap.NewNop())

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
