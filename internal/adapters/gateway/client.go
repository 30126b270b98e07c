// Package gateway implements the LiveChat and RingCentral platform adapters.
// Following Hexagonal Architecture: each adapter is both the inbound normalizer
// and the outbound API client for its platform.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"syncbridge/internal/core/domain"
)

const (
	userAgent      = "syncbridge/1.0"
	requestTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// errorMessage extracts a human readable message from a platform error body
type errorMessage func(body []byte) string

// apiClient sends JSON requests to one platform and classifies failures
// into domain.ErrPermanent, domain.ErrRateLimited or domain.ErrRemoteAPI
type apiClient struct {
	platform   domain.Platform
	baseURL    string
	httpClient *http.Client
	parseError errorMessage
}

func newAPIClient(platform domain.Platform, baseURL string, httpClient *http.Client, parseError errorMessage) *apiClient {
	return &apiClient{
		platform:   platform,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		parseError: parseError,
	}
}

// baseHTTPClient is the transport the oauth2 clients wrap
func baseHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// send marshals payload, performs the request and drains the response.
// Any non-2xx status is returned as a *domain.RemoteError.
func (c *apiClient) send(ctx context.Context, method, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &domain.RemoteError{Platform: c.platform, Err: fmt.Errorf("marshal request: %v: %w", err, domain.ErrPermanent)}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &domain.RemoteError{Platform: c.platform, Err: fmt.Errorf("build request: %v: %w", err, domain.ErrPermanent)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(respBody))
	if c.parseError != nil {
		if parsed := c.parseError(respBody); parsed != "" {
			msg = parsed
		}
	}

	slog.Error("Platform API error",
		"platform", c.platform,
		"method", method,
		"path", path,
		"status_code", resp.StatusCode,
		"error_message", msg,
	)
	return &domain.RemoteError{
		Platform: c.platform,
		Status:   resp.StatusCode,
		Err:      fmt.Errorf("%s: %w", msg, classifyStatus(resp.StatusCode)),
	}
}

// transportError classifies failures that never produced an API response.
// A rejected token request is treated like the equivalent API status.
func (c *apiClient) transportError(method, path string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		slog.Error("Platform token request rejected",
			"platform", c.platform,
			"status_code", status,
			"error_code", retrieveErr.ErrorCode,
		)
		return &domain.RemoteError{
			Platform: c.platform,
			Status:   status,
			Err:      fmt.Errorf("token request: %w", classifyStatus(status)),
		}
	}

	slog.Warn("Platform API request failed",
		"platform", c.platform,
		"method", method,
		"path", path,
		"error", err,
	)
	return &domain.RemoteError{Platform: c.platform, Err: fmt.Errorf("%v: %w", err, domain.ErrRemoteAPI)}
}

// classifyStatus maps an HTTP status to the retry class of the failure
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case status >= 400 && status < 500:
		return domain.ErrPermanent
	default:
		return domain.ErrRemoteAPI
	}
}
