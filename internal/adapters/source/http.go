// Package source adapts upstream APIs (GitHub, npm, JSON event feeds) to pager endpoints
// and one-shot count lookups.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/pager"
)

// getJSON performs a GET and returns the validated JSON body. Failures are wrapped with
// the pager sentinel that matches their retry class.
func getJSON(ctx context.Context, c *http.Client, token, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w: %w", url, pager.ErrPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("get %s: %w: %w", url, pager.ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", url, pager.ErrTransient, err)
	}
	if !gjson.ValidBytes(body) {
		// A truncated body is usually a dropped connection.
		return nil, fmt.Errorf("decode %s: %w: %w", url, pager.ErrTransient, pager.ErrMalformed)
	}
	return body, nil
}

// statusError maps an HTTP status onto the pager error classes. 2xx returns nil.
func statusError(resp *http.Response) error {
	code := resp.StatusCode
	url := resp.Request.URL.Redacted()
	switch {
	case code < http.StatusBadRequest:
		return nil
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("get %s: status %d: %w", url, code, pager.ErrRateLimited)
	case code == http.StatusForbidden && rateLimitExhausted(resp.Header):
		return fmt.Errorf("get %s: status %d: %w", url, code, pager.ErrRateLimited)
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("get %s: status %d: %w", url, code, pager.ErrTransient)
	default:
		return fmt.Errorf("get %s: status %d: %w", url, code, pager.ErrPermanent)
	}
}

func rateLimitExhausted(h http.Header) bool {
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return h.Get("Retry-After") != ""
	}
	n, err := strconv.Atoi(remaining)
	return err == nil && n == 0
}
