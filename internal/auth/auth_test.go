package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPValidator_ValidToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Token == "valid-token" {
			json.NewEncoder(w).Encode(validateResponse{
				Valid: true,
				Identity: Identity{
					UserID:      "user-123",
					DisplayName: "test-student",
					OwnerID:     "github:456",
				},
			})
		} else {
			json.NewEncoder(w).Encode(validateResponse{Valid: false})
		}
	}))
	defer server.Close()

	validator := NewHTTPValidator(server.URL)

	identity, err := validator.Validate(context.Background(), "valid-token")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if identity.UserID != "user-123" {
		t.Errorf("expected user-123, got %s", identity.UserID)
	}
	if identity.DisplayName != "test-student" {
		t.Errorf("expected test-student, got %s", identity.DisplayName)
	}
	if identity.OwnerID != "github:456" {
		t.Errorf("expected github:456, got %s", identity.OwnerID)
	}
}

func TestHTTPValidator_InvalidToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validateResponse{Valid: false})
	}))
	defer server.Close()

	validator := NewHTTPValidator(server.URL)
	_, err := validator.Validate(context.Background(), "invalid-token")

	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestHTTPValidator_EmptyToken(t *testing.T) {
	validator := NewHTTPValidator("http://localhost:9999")
	_, err := validator.Validate(context.Background(), "")

	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestHTTPValidator_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	validator := NewHTTPValidator(server.URL)
	_, err := validator.Validate(context.Background(), "token")

	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestHTTPValidator_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		json.NewEncoder(w).Encode(validateResponse{Valid: true})
	}))
	defer server.Close()

	validator := NewHTTPValidator(server.URL)
	_, err := validator.Validate(context.Background(), "token")

	if err == nil {
		t.Error("expected an error on timeout")
	}
}

func TestHTTPValidator_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	validator := NewHTTPValidator(server.URL)
	_, err := validator.Validate(context.Background(), "token")

	if err == nil {
		t.Error("expected an error for malformed JSON")
	}
}

func TestHTTPValidator_NetworkError(t *testing.T) {
	validator := NewHTTPValidator("http://localhost:1")
	_, err := validator.Validate(context.Background(), "token")

	if err == nil {
		t.Error("expected an error for unreachable server")
	}
}

func TestNoopValidator(t *testing.T) {
	validator := NewNoopValidator()
	identity, err := validator.Validate(context.Background(), "any-token")
	if err != nil {
		t.Fatalf("noop validator should never error: %v", err)
	}
	if identity != nil {
		t.Error("noop validator should return nil identity")
	}
}

func TestNoopValidator_EmptyToken(t *testing.T) {
	validator := NewNoopValidator()
	identity, err := validator.Validate(context.Background(), "")
	if err != nil {
		t.Fatalf("noop validator should never error, even with empty token: %v", err)
	}
	if identity != nil {
		t.Error("noop validator should return nil identity")
	}
}
