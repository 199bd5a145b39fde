package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
)

// Request limits. Remote calls never block unboundedly: the HTTP client
// carries a fixed timeout and retries are capped.
const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 4
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	userAgent      = "enveloppe-go/0.1"
)

// Client talks to the per-entity collection API. One REST-like endpoint per
// collection: POST /collections/<name>, PUT and DELETE
// /collections/<name>/<id>. Authentication is a bearer credential from the
// injected token source; token acquisition itself is an external
// collaborator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      oauth2.TokenSource
	logger     *slog.Logger
}

// NewClient creates a collection API client. baseURL has no trailing slash.
func NewClient(baseURL string, httpClient *http.Client, token oauth2.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
	}
}

// createResponse is the minimal body the API returns for a create.
type createResponse struct {
	ID string `json:"id"`
}

// Create posts a new record to the collection and returns the remote record
// id. A retried create after a lost acknowledgement can duplicate the
// remote record; the engine accepts that known gap.
func (c *Client) Create(ctx context.Context, collection string, payload []byte) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/collections/"+collection, payload)
	if err != nil {
		return "", err
	}

	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("remote: decoding create response for %s: %w", collection, err)
	}

	return resp.ID, nil
}

// Update replaces the record with the given id.
func (c *Client) Update(ctx context.Context, collection, id string, payload []byte) error {
	_, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/"+id, payload)

	return err
}

// Delete removes the record with the given id. A 404 is treated as success:
// the record is already gone, which is what the job wanted.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/collections/"+collection+"/"+id, nil)
	if err != nil && isNotFound(err) {
		return nil
	}

	return err
}

// Reachable probes the remote base URL. Used by the connectivity monitor;
// any response, even an error status, proves the transport path is up.
func (c *Client) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}

	resp.Body.Close()

	return true
}

// do executes one API call with retry. Network errors and retryable status
// codes back off exponentially with jitter up to maxRetries attempts;
// everything else is classified and returned immediately.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	url := c.baseURL + path

	backoff := retry.WithMaxRetries(maxRetries,
		retry.WithCappedDuration(maxBackoff,
			retry.WithJitterPercent(25, retry.NewExponential(baseBackoff))))

	var body []byte

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := c.doOnce(ctx, method, url, payload)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return fmt.Errorf("remote: request canceled: %w", ctx.Err())
			}

			c.logger.Warn("retrying after network error",
				slog.String("method", method),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			return retry.RetryableError(fmt.Errorf("remote: %s %s: %w", method, path, err))
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			if readErr != nil {
				return fmt.Errorf("remote: reading response for %s %s: %w", method, path, readErr)
			}

			body = respBody

			return nil
		}

		apiErr := &APIError{
			Status: resp.StatusCode,
			Body:   string(respBody),
			Err:    classifyStatus(resp.StatusCode),
		}

		if isRetryable(resp.StatusCode) {
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return retry.RetryableError(apiErr)
		}

		return apiErr
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte) (*http.Response, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	tok.SetAuthHeader(req)
	req.Header.Set("User-Agent", userAgent)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func isNotFound(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
