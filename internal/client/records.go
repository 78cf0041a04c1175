// Package client talks to the record routes of the chat server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

const (
	MaxRetries           = 3
	RetryInitialInterval = 250 * time.Millisecond
	RetryMaxInterval     = 4 * time.Second
)

var ErrUnauthorized = errors.New("server rejected the bearer token")

// StatusError is an unexpected response status from the server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// RecordClient implements the record store over HTTP. Updates are full
// overwrites and are retried; creates are not, so a retried create can never
// allocate two records.
type RecordClient struct {
	baseURL    string
	token      string
	http       *http.Client
	newBackOff func(ctx context.Context) backoff.BackOff
	log        zerolog.Logger
}

func NewRecordClient(baseURL, token string) *RecordClient {
	return &RecordClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		http:       &http.Client{Timeout: 30 * time.Second},
		newBackOff: newRetryBackoff,
		log:        logging.Component("record-client"),
	}
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

type recordBody struct {
	Kind     string         `json:"kind"`
	Title    string         `json:"title"`
	Turns    []store.Turn   `json:"turns"`
	ThreadID *string        `json:"thread_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func bodyFor(rec *store.Record) recordBody {
	return recordBody{Kind: rec.Kind, Title: rec.Title, Turns: rec.Turns, ThreadID: rec.ThreadID, Metadata: rec.Metadata}
}

// do sends one request and decodes a JSON response into out when out is non-nil.
func (c *RecordClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return store.ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return store.ErrForbidden
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorMessage(resp *http.Response) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}

// retryable reports whether err may succeed on a second attempt.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return !errors.Is(err, store.ErrNotFound) &&
		!errors.Is(err, store.ErrForbidden) &&
		!errors.Is(err, ErrUnauthorized) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func recordPath(id string) string {
	return "/api/records/" + url.PathEscape(id)
}

// CreateRecord fills in the server-assigned identity and timestamps of rec.
func (c *RecordClient) CreateRecord(ctx context.Context, rec *store.Record) error {
	var created store.Record
	if err := c.do(ctx, http.MethodPost, "/api/records", bodyFor(rec), &created); err != nil {
		return err
	}
	rec.ID = created.ID
	rec.OwnerID = created.OwnerID
	rec.Kind = created.Kind
	rec.CreatedAt = created.CreatedAt
	rec.UpdatedAt = created.UpdatedAt
	return nil
}

func (c *RecordClient) UpdateRecord(ctx context.Context, rec *store.Record) error {
	var updated store.Record
	op := func() error {
		err := c.do(ctx, http.MethodPut, recordPath(rec.ID), bodyFor(rec), &updated)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Str("record_id", rec.ID).Dur("retry_in", wait).Msg("Record update failed, retrying")
	}
	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return err
	}
	rec.UpdatedAt = updated.UpdatedAt
	return nil
}

func (c *RecordClient) GetRecord(ctx context.Context, id, ownerID string) (*store.Record, error) {
	var rec store.Record
	if err := c.do(ctx, http.MethodGet, recordPath(id), nil, &rec); err != nil {
		return nil, err
	}
	// The server resolves the owner from the token; a token for someone
	// else must not hydrate this caller's session.
	if ownerID != "" && rec.OwnerID != ownerID {
		return nil, store.ErrForbidden
	}
	return &rec, nil
}

func (c *RecordClient) ListRecords(ctx context.Context, ownerID, kind string) ([]store.RecordSummary, error) {
	path := "/api/records"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(kind)
	}
	var records []store.RecordSummary
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *RecordClient) RenameRecord(ctx context.Context, id, ownerID, title string) error {
	return c.do(ctx, http.MethodPatch, recordPath(id)+"/title", map[string]string{"title": title}, nil)
}

func (c *RecordClient) ToggleBookmark(ctx context.Context, id, ownerID string) (bool, error) {
	var resp struct {
		Bookmarked bool `json:"bookmarked"`
	}
	if err := c.do(ctx, http.MethodPost, recordPath(id)+"/bookmark", nil, &resp); err != nil {
		return false, err
	}
	return resp.Bookmarked, nil
}

func (c *RecordClient) DeleteRecord(ctx context.Context, id, ownerID string) error {
	return c.do(ctx, http.MethodDelete, recordPath(id), nil, nil)
}
