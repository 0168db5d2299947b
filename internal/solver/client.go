// Package solver is the client for the remote solve endpoint. One request
// per record, no retries: any transport error or non-2xx status is terminal.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"smartanswer/internal/extract"

	"github.com/google/uuid"
)

var (
	// ErrStatus wraps every non-success HTTP response.
	ErrStatus = errors.New("server error")
	// ErrIncomplete means a response body lacked answer or confidence.
	ErrIncomplete = errors.New("incomplete judgment")
)

// Judgment is the solver's verdict.
type Judgment struct {
	Answer string `json:"answer"`
	// MatchedOption is the solver's pick among the options sent, subject to
	// its own normalisation. Nil when absent.
	MatchedOption *string `json:"matched_option,omitempty"`
	Confidence    float64 `json:"confidence"`
	RawResponse   string  `json:"raw_response,omitempty"`
}

// judgmentBody is the response as sent; pointers tell absent from zero.
type judgmentBody struct {
	Answer        *string  `json:"answer"`
	MatchedOption *string  `json:"matched_option"`
	Confidence    *float64 `json:"confidence"`
	RawResponse   string   `json:"raw_response"`
}

func (b judgmentBody) judgment() (Judgment, error) {
	switch {
	case b.Answer == nil:
		return Judgment{}, fmt.Errorf("%w: missing answer", ErrIncomplete)
	case b.Confidence == nil:
		return Judgment{}, fmt.Errorf("%w: missing confidence", ErrIncomplete)
	}
	return Judgment{
		Answer:        *b.Answer,
		MatchedOption: b.MatchedOption,
		Confidence:    clamp(*b.Confidence),
		RawResponse:   b.RawResponse,
	}, nil
}

// Matched returns the matched option, or "" when absent.
func (j Judgment) Matched() string {
	if j.MatchedOption == nil {
		return ""
	}
	return *j.MatchedOption
}

// Percent is the confidence rounded to a whole percentage.
func (j Judgment) Percent() int {
	return int(math.Round(j.Confidence * 100))
}

// Solver is what the engine needs from the remote service.
type Solver interface {
	Solve(ctx context.Context, rec extract.Record) (Judgment, error)
}

// Client talks to the solve endpoint over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient builds a client for endpoint (e.g. http://localhost:8000/solve).
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the solve URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Solve posts {question, options} and decodes the Judgment.
func (c *Client) Solve(ctx context.Context, rec extract.Record) (Judgment, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Judgment{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Judgment{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return Judgment{}, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Judgment{}, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	var body judgmentBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Judgment{}, fmt.Errorf("decode judgment: %w", err)
	}
	return body.judgment()
}

// Health checks the service's /health route next to the solve endpoint.
func (c *Client) Health(ctx context.Context) error {
	url := strings.TrimSuffix(c.endpoint, "/solve") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return nil
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
