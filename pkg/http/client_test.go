package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient(5 * time.Second)
	body, err := client.PostJSON(context.Background(), server.URL, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("Request failed after retries: %v", err)
	}
	if string(body) != "success" {
		t.Errorf("Unexpected body: %s", body)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("nope"))
	}))
	defer server.Close()

	client := NewClient(5 * time.Second)
	_, err := client.PostJSON(context.Background(), server.URL, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", apiErr.StatusCode)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestClientCircuitBreakerOpens(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(5 * time.Second)

	// The breaker opens after 5 failures out of 10; each call burns up to
	// 4 attempts against the server.
	for i := 0; i < 6; i++ {
		_, _ = client.PostJSON(context.Background(), server.URL, nil)
	}

	// With the circuit open the next call must fail without reaching the
	// server at all.
	startAttempts := attempts
	_, err := client.PostJSON(context.Background(), server.URL, nil)
	if err == nil {
		t.Error("Expected error due to open circuit breaker, got nil")
	}
	if attempts != startAttempts {
		t.Errorf("Server was reached even though circuit should be open. Attempts: %d", attempts)
	}
}
