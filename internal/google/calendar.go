package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// APIError is a non-2xx response from the Calendar API. The body is carried
// verbatim so it lands unmodified in the event's sync error.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar api error: status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether the error is a 404/410 from the Calendar API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone
}

// EventDateTime is either an all-day date or a timed instant with a zone.
type EventDateTime struct {
	Date     string `json:"date,omitempty"`     // YYYY-MM-DD, all-day
	DateTime string `json:"dateTime,omitempty"` // RFC3339 local
	TimeZone string `json:"timeZone,omitempty"`
}

// CalendarEvent is the event body sent to the Calendar API.
type CalendarEvent struct {
	Summary     string        `json:"summary"`
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	Start       EventDateTime `json:"start"`
	End         EventDateTime `json:"end"`
}

// CalendarClient is a minimal Calendar API client with a shared rate limiter.
type CalendarClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewCalendarClient creates a client for the given API base URL. rps/burst
// bound the request rate across all callers sharing the client.
func NewCalendarClient(baseURL string, rps, burst int) *CalendarClient {
	return &CalendarClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// InsertEvent creates an event on the given calendar and returns the external
// event id assigned by the provider.
func (c *CalendarClient) InsertEvent(ctx context.Context, accessToken, calendarID string, event *CalendarEvent) (string, error) {
	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))

	body, err := c.do(ctx, http.MethodPost, endpoint, accessToken, event)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("failed to decode event response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("event response missing id")
	}

	return created.ID, nil
}

// UpdateEvent replaces an existing event on the given calendar.
func (c *CalendarClient) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, event *CalendarEvent) error {
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL,
		url.PathEscape(calendarID), url.PathEscape(eventID))

	_, err := c.do(ctx, http.MethodPut, endpoint, accessToken, event)
	return err
}

// DeleteEvent removes an event from the given calendar. A 404 or 410 is
// treated as success: the event is already gone, which is the desired state.
func (c *CalendarClient) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL,
		url.PathEscape(calendarID), url.PathEscape(eventID))

	_, err := c.do(ctx, http.MethodDelete, endpoint, accessToken, nil)
	if err != nil && IsNotFound(err) {
		return nil
	}
	return err
}

// do performs one rate-limited API call and returns the response body.
func (c *CalendarClient) do(ctx context.Context, method, endpoint, accessToken string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
