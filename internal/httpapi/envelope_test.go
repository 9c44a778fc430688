package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codequest-platform/arena-server/internal/apperr"
)

func TestWriteDataEncodesSuccessEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeData(w, http.StatusCreated, map[string]string{"matchId": "m1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Empty(t, env.Error)
}

func TestWriteErrorMapsKindToStatusAndCode(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, apperr.New(apperr.Conflict, "already resolved"))

	assert.Equal(t, http.StatusConflict, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, "conflict", env.Error)
	assert.Contains(t, env.Details, "already resolved")
}

func TestWriteErrorDefaultsUntaggedErrorsToInternal(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "internal", env.Error)
}

func TestStatusForCoversEveryKind(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.Validation:   http.StatusBadRequest,
		apperr.Unauthorized: http.StatusUnauthorized,
		apperr.Forbidden:    http.StatusForbidden,
		apperr.NotFound:     http.StatusNotFound,
		apperr.Conflict:     http.StatusConflict,
		apperr.Precondition: http.StatusPreconditionFailed,
		apperr.Dependency:   http.StatusBadGateway,
		apperr.Timeout:      http.StatusGatewayTimeout,
		apperr.Internal:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		got, _ := statusFor(kind)
		assert.Equal(t, want, got, "kind %s", kind)
	}
}

func TestDecodeJSONWrapsMalformedBodyAsValidation(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{not json"))
	var dst map[string]any
	err := decodeJSON(r, &dst)
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestWrapDependencyPreservesExistingKind(t *testing.T) {
	err := wrapDependency(apperr.New(apperr.Precondition, "insufficient exp"), "join queue")
	assert.Equal(t, apperr.Precondition, apperr.KindOf(err))
}

func TestWrapDependencyTagsUntaggedErrors(t *testing.T) {
	err := wrapDependency(assert.AnError, "join queue")
	assert.Equal(t, apperr.Dependency, apperr.KindOf(err))
}

func TestDecodeJSONPopulatesDestination(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"levelId":"lvl-1"}`))
	var dst struct {
		LevelID string `json:"levelId"`
	}
	require.NoError(t, decodeJSON(r, &dst))
	assert.Equal(t, "lvl-1", dst.LevelID)
}
