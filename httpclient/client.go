// Package httpclient is a small REST client for the endpoints the sync core
// bootstraps from: the note list and the signed-in user.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/internal/codec"
	"github.com/simplenotes/notesync/pkg/constants"
	"github.com/simplenotes/notesync/pkg/models"
)

// ErrUnauthorized matches a StatusError for a rejected token.
var ErrUnauthorized = errors.New("unauthorized")

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden)
}

// Client calls the notes REST API with a bearer token.
type Client struct {
	// URL is the base URL of the API, such as "https://notes.example.com/api".
	URL  string
	HTTP *http.Client

	logger zerolog.Logger
}

// New creates a Client for baseURL with the default HTTP timeout.
func New(baseURL string) *Client {
	return &Client{
		URL:    strings.TrimRight(baseURL, "/"),
		HTTP:   &http.Client{Timeout: constants.DefaultHTTPTimeout},
		logger: zerolog.Nop(),
	}
}

func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.logger = l
	return c
}

// ListNotes returns the summaries of every note visible to the token's user.
func (c *Client) ListNotes(ctx context.Context, token string) ([]models.NoteSummary, error) {
	var notes []models.NoteSummary
	if err := c.Get(ctx, "/notes", token, &notes); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

// CurrentUser returns the token's user.
func (c *Client) CurrentUser(ctx context.Context, token string) (models.User, error) {
	var user models.User
	if err := c.Get(ctx, "/users/@me", token, &user); err != nil {
		return models.User{}, fmt.Errorf("current user: %w", err)
	}
	return user, nil
}

// Get decodes the JSON body of GET endpoint into dst.
func (c *Client) Get(ctx context.Context, endpoint, token string, dst any) error {
	body, err := c.Request(ctx, http.MethodGet, endpoint, token, nil)
	if err != nil {
		return err
	}
	if err := codec.Default.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Request performs a request and returns the body of a 2xx response.
func (c *Client) Request(ctx context.Context, method, endpoint, token string, body io.Reader) ([]byte, error) {
	if token == "" {
		return nil, constants.ErrNoToken
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Msg("http request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(raw)}
	}
	return io.ReadAll(resp.Body)
}

// errorMessage extracts {"error": "..."} or falls back to the raw body.
func errorMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := codec.Default.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return codec.Snippet(raw, constants.MaxLoggedFrameBytes)
}
