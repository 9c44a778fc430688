package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthedRejectsWhenAuthFails(t *testing.T) {
	s := &Server{Auth: func(r *http.Request) (string, error) {
		return "", errors.New("no bearer token")
	}}
	called := false
	handler := s.authed(func(w http.ResponseWriter, r *http.Request, userID string) {
		called = true
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "unauthorized", env.Error)
}

func TestAuthedDispatchesWithResolvedUserID(t *testing.T) {
	s := &Server{Auth: func(r *http.Request) (string, error) {
		return "user-42", nil
	}}
	var gotUserID string
	handler := s.authed(func(w http.ResponseWriter, r *http.Request, userID string) {
		gotUserID = userID
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))

	assert.Equal(t, "user-42", gotUserID)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutesRegistersEveryEndpointBehindAuth(t *testing.T) {
	s := &Server{Auth: func(r *http.Request) (string, error) {
		return "", errors.New("unauthenticated")
	}}
	mux := s.Routes()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/puzzle/attempt"},
		{http.MethodGet, "/api/puzzle/progress/lvl-1"},
		{http.MethodGet, "/api/puzzle/preferred-difficulty/lesson-1"},
		{http.MethodPost, "/api/puzzle/hint"},
		{http.MethodPost, "/api/battle/create"},
		{http.MethodPost, "/api/battle/matchmaking/queue"},
		{http.MethodPost, "/api/battle/m1/submit"},
		{http.MethodPost, "/api/battle/m1/exit"},
		{http.MethodPost, "/api/battle/m1/ready"},
		{http.MethodPost, "/api/battle/m1/kick-unready"},
		{http.MethodPost, "/api/battle/challenge"},
		{http.MethodPost, "/api/battle/challenges/c1/respond"},
		{http.MethodGet, "/api/leaderboard"},
		{http.MethodGet, "/api/achievements"},
		{http.MethodGet, "/ws"},
	}

	for _, p := range paths {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(p.method, p.path, nil))
		// Every route is wrapped in authed, so a failing Auth always yields
		// 401 rather than 404/405 — proof the path pattern matched.
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", p.method, p.path)
	}
}
