package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

// CompletionRequest is the body of POST /api/chat/completions.
type CompletionRequest struct {
	Messages []store.Turn `json:"messages"`
	Model    string       `json:"model,omitempty"`
}

// Streamer performs one cancellable completion. onChunk receives the text
// accumulated so far after every decoded read, in receipt order.
//
// On cancellation Stream returns the partial text together with ctx.Err(),
// and onChunk is not called again.
type Streamer interface {
	Stream(ctx context.Context, req CompletionRequest, onChunk func(accumulated string)) (string, error)
}

// CompletionError is a non-2xx response received before any text was streamed.
type CompletionError struct {
	StatusCode int
	Message    string
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed (%d): %s", e.StatusCode, e.Message)
}

type HTTPTransport struct {
	URL    string // full URL of the completion endpoint
	Token  string // bearer token, optional
	Client *http.Client
}

func NewHTTPTransport(url, token string) *HTTPTransport {
	// No client-level timeout: the body is long-lived and bounded by ctx instead.
	return &HTTPTransport{URL: url, Token: token, Client: &http.Client{}}
}

func (t *HTTPTransport) Stream(ctx context.Context, req CompletionRequest, onChunk func(string)) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/plain")
	if t.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.Token)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &CompletionError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp)}
	}

	return readStream(ctx, resp.Body, onChunk)
}

// readStream decodes r as UTF-8, carrying incomplete multi-byte sequences over
// to the next read, and reports the accumulated text after every read.
func readStream(ctx context.Context, r io.Reader, onChunk func(string)) (string, error) {
	decoder := transform.NewReader(r, unicode.UTF8.NewDecoder())
	buf := make([]byte, 4096)
	var acc strings.Builder

	for {
		n, err := decoder.Read(buf)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return acc.String(), ctxErr
		}
		if n > 0 {
			acc.Write(buf[:n])
			if onChunk != nil {
				onChunk(acc.String())
			}
		}
		if errors.Is(err, io.EOF) {
			return acc.String(), nil
		}
		if err != nil {
			return acc.String(), fmt.Errorf("completion stream interrupted: %w", err)
		}
	}
}

func readErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return http.StatusText(resp.StatusCode)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
