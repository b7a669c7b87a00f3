package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTokenRefresher(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				t.Fatalf("failed to parse form: %v", err)
			}
			if got := r.Form.Get("grant_type"); got != "refresh_token" {
				t.Errorf("expected refresh_token grant, got %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"new-token","token_type":"Bearer","expires_in":3600}`))
		}))
		defer server.Close()

		refresher := NewTokenRefresher("id", "secret", server.URL)
		token, err := refresher.Refresh(context.Background(), "stored-refresh-token")
		if err != nil {
			t.Fatalf("failed to refresh: %v", err)
		}
		if token != "new-token" {
			t.Errorf("expected new-token, got %q", token)
		}
	})

	t.Run("provider rejection preserves body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
		}))
		defer server.Close()

		refresher := NewTokenRefresher("id", "secret", server.URL)
		_, err := refresher.Refresh(context.Background(), "revoked-token")
		if !errors.Is(err, ErrTokenRefresh) {
			t.Fatalf("expected ErrTokenRefresh, got %v", err)
		}
		if !strings.Contains(err.Error(), "invalid_grant") {
			t.Errorf("expected provider body in error, got %q", err)
		}
	})
}

func TestCalendarClient(t *testing.T) {
	t.Run("insert returns external id", func(t *testing.T) {
		var gotAuth string
		var gotBody CalendarEvent
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"gcal-123"}`))
		}))
		defer server.Close()

		client := NewCalendarClient(server.URL, 100, 100)
		id, err := client.InsertEvent(context.Background(), "access-token", "cal-1", &CalendarEvent{
			Summary: "Dentist",
			Start:   EventDateTime{DateTime: "2026-09-15T10:30:00", TimeZone: "America/New_York"},
			End:     EventDateTime{DateTime: "2026-09-15T11:00:00", TimeZone: "America/New_York"},
		})
		if err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
		if id != "gcal-123" {
			t.Errorf("expected gcal-123, got %q", id)
		}
		if gotAuth != "Bearer access-token" {
			t.Errorf("expected bearer auth, got %q", gotAuth)
		}
		if gotBody.Summary != "Dentist" {
			t.Errorf("expected summary sent, got %q", gotBody.Summary)
		}
	})

	t.Run("api error carries status and body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"quota exceeded"}`))
		}))
		defer server.Close()

		client := NewCalendarClient(server.URL, 100, 100)
		_, err := client.InsertEvent(context.Background(), "token", "cal-1", &CalendarEvent{Summary: "X"})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403, got %d", apiErr.StatusCode)
		}
		if !strings.Contains(apiErr.Body, "quota exceeded") {
			t.Errorf("expected body preserved, got %q", apiErr.Body)
		}
	})

	t.Run("delete tolerates 404", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewCalendarClient(server.URL, 100, 100)
		if err := client.DeleteEvent(context.Background(), "token", "cal-1", "gone"); err != nil {
			t.Errorf("expected 404 treated as success, got %v", err)
		}
	})

	t.Run("delete surfaces other errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewCalendarClient(server.URL, 100, 100)
		if err := client.DeleteEvent(context.Background(), "token", "cal-1", "gcal-5"); err == nil {
			t.Error("expected error for 500")
		}
	})
}
