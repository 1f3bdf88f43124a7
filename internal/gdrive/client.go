// Package gdrive is the transport client for the document-storage service:
// Drive v3 metadata and media upload endpoints plus the legacy spreadsheet
// feed API. A Client is bound to one account's credentials.
package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

const (
	DefaultMetadataURL = "https://www.googleapis.com/drive/v3/files"
	DefaultUploadURL   = "https://www.googleapis.com/upload/drive/v3/files"
	DefaultFeedsURL    = "https://spreadsheets.google.com/feeds"

	SpreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

	DefaultResumableThreshold = 5 << 20
	DefaultResumeAttempts     = 7
	DefaultBackoffBase        = 2
	DefaultBatchLimit         = 500

	csvContentType  = "text/csv"
	jsonContentType = "application/json; charset=UTF-8"
	atomContentType = "application/atom+xml"
	gdataVersion    = "3.0"
	fileFields      = "id,name,mimeType,parents,trashed,webViewLink"
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	MetadataURL string
	UploadURL   string
	FeedsURL    string
	HTTPClient  *http.Client
	Logger      *slog.Logger

	Credentials models.Credentials
	Refresher   TokenRefresher
	OnRefresh   RefreshCallback

	// Payloads larger than ResumableThreshold use a resumable upload session.
	// A negative value forces the resumable path for every upload.
	ResumableThreshold int64
	ResumeAttempts     int
	BackoffBase        int
	BackoffUnit        time.Duration
	BatchLimit         int

	// Transient (429/5xx) retries for metadata and feed calls. A negative
	// MaxRetries disables them.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type Client struct {
	metadataURL string
	uploadURL   string
	feedsURL    string
	httpClient  *http.Client
	logger      *slog.Logger

	refresher TokenRefresher
	onRefresh RefreshCallback

	resumableThreshold int64
	resumeAttempts     int
	backoffBase        int
	backoffUnit        time.Duration
	batchLimit         int

	maxRetries     int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	mu    sync.Mutex
	creds models.Credentials

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if httpClient.CheckRedirect == nil {
		// 308 is the resumable upload "incomplete" status, never a redirect.
		c := *httpClient
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		httpClient = &c
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Client{
		metadataURL:        trimURL(opts.MetadataURL, DefaultMetadataURL),
		uploadURL:          trimURL(opts.UploadURL, DefaultUploadURL),
		feedsURL:           trimURL(opts.FeedsURL, DefaultFeedsURL),
		httpClient:         httpClient,
		logger:             logger,
		refresher:          opts.Refresher,
		onRefresh:          opts.OnRefresh,
		resumableThreshold: opts.ResumableThreshold,
		resumeAttempts:     opts.ResumeAttempts,
		backoffBase:        opts.BackoffBase,
		backoffUnit:        opts.BackoffUnit,
		batchLimit:         opts.BatchLimit,
		maxRetries:         opts.MaxRetries,
		retryBaseDelay:     opts.RetryBaseDelay,
		retryMaxDelay:      opts.RetryMaxDelay,
		creds:              opts.Credentials,
		now:                time.Now,
		sleep:              sleepContext,
	}
	if c.resumableThreshold == 0 {
		c.resumableThreshold = DefaultResumableThreshold
	}
	if c.resumeAttempts <= 0 {
		c.resumeAttempts = DefaultResumeAttempts
	}
	if c.backoffBase <= 0 {
		c.backoffBase = DefaultBackoffBase
	}
	if c.backoffUnit <= 0 {
		c.backoffUnit = time.Second
	}
	if c.batchLimit <= 0 {
		c.batchLimit = DefaultBatchLimit
	}
	switch {
	case c.maxRetries < 0:
		c.maxRetries = 0
	case c.maxRetries == 0:
		c.maxRetries = 3
	}
	if c.retryBaseDelay <= 0 {
		c.retryBaseDelay = 500 * time.Millisecond
	}
	if c.retryMaxDelay <= 0 {
		c.retryMaxDelay = 8 * time.Second
	}
	return c
}

func trimURL(value, fallback string) string {
	value = strings.TrimRight(strings.TrimSpace(value), "/")
	if value == "" {
		return fallback
	}
	return value
}

// Credentials returns the token pair currently in use.
func (c *Client) Credentials() models.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

func (c *Client) setCredentials(creds models.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// Error is a non-2xx response from the document service.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Reason     string
	Body       string
}

func (e *Error) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: http %d %s", e.Method, e.URL, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s %s: http %d %s: %s", e.Method, e.URL, e.StatusCode, e.Reason, body)
}

func statusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func IsNotFound(err error) bool     { return statusOf(err) == http.StatusNotFound }
func IsUnauthorized(err error) bool { return statusOf(err) == http.StatusUnauthorized }

func IsServerError(err error) bool {
	code := statusOf(err)
	return code >= 500 && code <= 599
}

type bodyFunc func(ctx context.Context) (io.ReadCloser, int64, error)

type request struct {
	method string
	url    string
	header http.Header
	body   bodyFunc
	// retry enables transient 429/5xx retries; the body must be replayable.
	retry bool
}

type response struct {
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte
}

func (r *response) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

func (r *response) err(req request) error {
	return &Error{
		Method:     req.method,
		URL:        req.url,
		StatusCode: r.StatusCode,
		Reason:     r.Reason,
		Body:       string(r.Body),
	}
}

func bytesBody(data []byte) bodyFunc {
	return func(context.Context) (io.ReadCloser, int64, error) {
		return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
	}
}

func jsonRequest(method, url string, payload any) (request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return request{}, err
	}
	header := http.Header{}
	header.Set("Content-Type", jsonContentType)
	return request{method: method, url: url, header: header, body: bytesBody(data), retry: true}, nil
}

func atomHeader(accept string) http.Header {
	header := http.Header{}
	header.Set("Accept", accept)
	header.Set("GData-Version", gdataVersion)
	return header
}

// do sends a request through the token-refresh wrapper and the transient
// retry loop. Non-2xx responses are returned to the caller, except a 401
// that persists after one refresh, which is an error.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	refreshed := false
	retries := 0
	for {
		resp, err := c.send(ctx, req)
		if err != nil {
			if req.retry && retries < c.maxRetries && ctx.Err() == nil {
				retries++
				if waitErr := c.sleep(ctx, c.retryDelay(retries, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			if refreshed || c.refresher == nil {
				return nil, resp.err(req)
			}
			if err := c.refreshCredentials(ctx); err != nil {
				return nil, err
			}
			refreshed = true
			continue
		}

		if req.retry && isTransient(resp.StatusCode) && retries < c.maxRetries {
			retries++
			c.logger.Debug("transient response, retrying",
				"method", req.method, "status", resp.StatusCode, "attempt", retries)
			if waitErr := c.sleep(ctx, c.retryDelay(retries, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return resp, nil
	}
}

// call is do plus a 2xx check and optional JSON decoding into out.
func (c *Client) call(ctx context.Context, req request, out any) (*response, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return resp, resp.err(req)
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, fmt.Errorf("decode %s %s response: %w", req.method, req.url, err)
		}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req request) (*response, error) {
	var body io.ReadCloser
	var length int64
	if req.body != nil {
		b, n, err := req.body(ctx)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			_ = b.Close()
		} else {
			body, length = b, n
		}
	}

	var httpReq *http.Request
	var err error
	if body != nil {
		httpReq, err = http.NewRequestWithContext(ctx, req.method, req.url, body)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, req.method, req.url, nil)
	}
	if err != nil {
		if body != nil {
			_ = body.Close()
		}
		return nil, err
	}
	if body != nil {
		httpReq.ContentLength = length
	}
	for key, values := range req.header {
		httpReq.Header[key] = values
	}
	if token := c.Credentials().AccessToken; token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &response{
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

func isTransient(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.retryMaxDelay {
			return c.retryMaxDelay
		}
		return retryAfter
	}
	delay := c.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.retryMaxDelay {
			return c.retryMaxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
