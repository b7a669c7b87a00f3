// Package google talks to the Google OAuth token endpoint and Calendar API.
package google

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

var (
	ErrTokenRefresh = errors.New("token refresh failed")
	ErrNoToken      = errors.New("token response missing access token")
)

// TokenRefresher exchanges a stored refresh token for a fresh access token.
// It performs no internal retry; callers decide whether a failure is worth
// another attempt.
type TokenRefresher struct {
	conf *oauth2.Config
}

// NewTokenRefresher creates a refresher for the given client credentials.
// tokenURL is overridable so tests can point it at a fake endpoint.
func NewTokenRefresher(clientID, clientSecret, tokenURL string) *TokenRefresher {
	return &TokenRefresher{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: tokenURL,
			},
		},
	}
}

// Refresh performs a refresh-token grant and returns the new access token.
// Any non-2xx response from the token endpoint is a hard failure with the
// response body preserved in the error.
func (r *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	src := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", fmt.Errorf("%w: status %d: %s", ErrTokenRefresh,
				retrieveErr.Response.StatusCode, string(retrieveErr.Body))
		}
		return "", fmt.Errorf("%w: %w", ErrTokenRefresh, err)
	}

	if tok.AccessToken == "" {
		return "", ErrNoToken
	}

	return tok.AccessToken, nil
}
