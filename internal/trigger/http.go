package trigger

import (
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

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

const maxBodyBytes = 1 << 20

// Client talks to the tracker's HTTP API.
type Client struct {
	client  *http.Client
	baseURL string
	retries int
	backoff time.Duration
}

// NewClient creates a client for the service at cfg.BaseURL.
func NewClient(cfg *Config) *Client {
	return &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		retries: cfg.Retries,
		backoff: cfg.Backoff,
	}
}

// Entities fetches the service's entity registry.
func (c *Client) Entities(ctx context.Context) ([]model.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/entities", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}

	var entities []model.Entity
	if err := json.Unmarshal(body, &entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	return entities, nil
}

// Collect asks the service to collect one series. A 429 is retried with constant
// backoff; every other answer is final.
func (c *Client) Collect(ctx context.Context, t Target, wait bool) (Outcome, error) {
	target := fmt.Sprintf("%s/v1/collect/%s/%s", c.baseURL, url.PathEscape(string(t.Kind)), escapeEntity(t.EntityID))
	if wait {
		target += "?wait=true"
	}

	var out Outcome
	operation := func() error {
		var err error
		out, err = c.post(ctx, t, target)
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.backoff), uint64(max(c.retries, 0))), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return Outcome{Target: t, Status: StatusFailed, Error: err.Error()}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, t Target, target string) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, http.NoBody)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("collect %s: %w", t, err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return Outcome{}, fmt.Errorf("collect %s: %w", t, err)
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		var ack acceptedResponse
		if err := json.Unmarshal(body, &ack); err != nil {
			return Outcome{}, fmt.Errorf("decode ack for %s: %w", t, err)
		}
		return Outcome{Target: t, Status: StatusAccepted, RunID: ack.RunID}, nil
	case http.StatusOK:
		var res model.CollectionResult
		if err := json.Unmarshal(body, &res); err != nil {
			return Outcome{}, fmt.Errorf("decode result for %s: %w", t, err)
		}
		out := Outcome{Target: t, Status: StatusCompleted, RunID: res.RunID, Result: &res}
		if err := res.Err(); err != nil {
			out.Status, out.Error = StatusFailed, err.Error()
		}
		return out, nil
	case http.StatusConflict:
		return Outcome{Target: t, Status: StatusPending}, nil
	case http.StatusTooManyRequests:
		return Outcome{}, fmt.Errorf("collect %s: %w", t, ErrBusy)
	default:
		return Outcome{}, fmt.Errorf("collect %s: %w", t, statusError(resp.StatusCode, body))
	}
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

func statusError(code int, body []byte) error {
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, code, e.Message)
	}
	return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
}

func isBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// escapeEntity escapes each path segment but keeps the slashes of ids like owner/repo.
func escapeEntity(id string) string {
	parts := strings.Split(id, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
