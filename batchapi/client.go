// Package batchapi is the client for the remote batch-calling service: job
// submission, paged job listing, number counting and service-id lookup.
//
// Submission is never retried. Listing, counting and lookup are idempotent and
// retry with exponential backoff on transport failures, 5xx and 429 responses.
package batchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/internal/httpclient"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/version"
)

const (
	submitPath = "/outbound/start-batch-call"
	listPath   = "/outbound/all-batch-jobs/"

	// DefaultTimeout bounds every request when the config leaves it unset
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 4 << 20
)

// Config holds client settings
type Config struct {
	BaseURL        string
	CountURL       string
	AgentsURL      string
	AuthToken      string
	ServiceID      string
	Timeout        time.Duration
	RequestsPerSec float64 // 0 = unpaced
	Burst          int
	MaxRetries     int
	RetryBaseDelay time.Duration
	TrustedHosts   []string

	HTTPClient *httpclient.Client // nil = SSRF-checked client with Timeout
	Logger     *zap.SugaredLogger // nil = nop
}

// ConfigFromAm maps the batch_api config section onto a client Config
func ConfigFromAm(c am.BatchAPIConfig) Config {
	return Config{
		BaseURL:        c.BaseURL,
		CountURL:       c.CountURL,
		AgentsURL:      c.AgentsURL,
		AuthToken:      c.AuthToken,
		ServiceID:      c.ServiceID,
		Timeout:        time.Duration(c.TimeoutSeconds) * time.Second,
		RequestsPerSec: c.RequestsPerSecond,
		Burst:          c.Burst,
		MaxRetries:     c.MaxRetries,
		RetryBaseDelay: time.Duration(c.RetryBaseDelayMS) * time.Millisecond,
		TrustedHosts:   c.TrustedHosts,
	}
}

// Client talks to the remote batch API
type Client struct {
	cfg     Config
	baseURL string
	http    *httpclient.Client
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewClient creates a client. Requests are paced by a token bucket shared
// across all operations.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.New(cfg.Timeout, httpclient.WithTrustedHosts(cfg.TrustedHosts...))
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log,
	}
}

// ServiceID returns the configured service id, if any
func (c *Client) ServiceID() string {
	return c.cfg.ServiceID
}

// SubmitBatch uploads the number file with the schedule window and returns the
// remote acknowledgement. A response without a job id is an error.
func (c *Client) SubmitBatch(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	const op = "submit batch"

	if len(req.File) == 0 {
		return nil, errors.NewInvalidRequestError("number file is empty")
	}

	q := url.Values{}
	q.Set("starting_time", strconv.FormatInt(req.StartingTime, 10))
	q.Set("call_duration", strconv.FormatInt(req.CallDuration, 10))
	q.Set("call_gap", strconv.FormatInt(req.CallGap, 10))
	q.Set("total_numbers_in_each_batch", strconv.Itoa(req.NumbersPerBatch))

	fields := map[string]string{}
	if req.ServiceID != "" {
		fields["serviceId"] = req.ServiceID
	}
	body, contentType, err := multipartBody("numberfile", fileNameOr(req.FileName), req.File, fields)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build submission body")
	}

	var resp SubmitResponse
	status, err := c.do(ctx, op, http.MethodPost, c.baseURL+submitPath+"?"+q.Encode(), body, contentType, &resp)
	if err != nil {
		return nil, err
	}

	if !resp.Success || resp.JobID == "" {
		msg := resp.Message
		if msg == "" {
			msg = "no job id returned"
		}
		return nil, &TransportError{
			Op:         op,
			StatusCode: status,
			Err:        errors.Wrapf(errors.ErrTransport, "submission rejected: %s", msg),
		}
	}

	c.logger.Infow("Batch submitted",
		logger.FieldJobID, resp.JobID,
		"starting_time", req.StartingTime,
		logger.FieldBatchNumber, req.NumbersPerBatch)
	return &resp, nil
}

// ListJobs fetches one page of batch jobs
func (c *Client) ListJobs(ctx context.Context, page, limit int) (*JobPage, error) {
	if page < 1 {
		return nil, errors.NewInvalidRequestError("page must be >= 1, got %d", page)
	}
	if limit < 1 {
		return nil, errors.NewInvalidRequestError("limit must be >= 1, got %d", limit)
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + listPath + "?" + q.Encode()

	var out JobPage
	err := c.withRetry(ctx, "list jobs", func() error {
		out = JobPage{}
		_, err := c.do(ctx, "list jobs", http.MethodGet, endpoint, nil, "", &out)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debugw("Listed batch jobs",
		logger.FieldPage, out.Page,
		logger.FieldLimit, out.Limit,
		logger.FieldCount, len(out.Jobs),
		"total_pages", out.TotalPages)
	return &out, nil
}

// CountNumbers uploads a number file to the counting endpoint and returns how
// many dialable rows it holds
func (c *Client) CountNumbers(ctx context.Context, filename string, data []byte) (*CountResponse, error) {
	const op = "count numbers"

	if c.cfg.CountURL == "" {
		return nil, errors.WithHint(
			errors.Wrap(errors.ErrServiceUnavailable, "number counting endpoint not configured"),
			"set batch_api.count_url in outbound.toml")
	}
	if len(data) == 0 {
		return nil, errors.NewInvalidRequestError("number file is empty")
	}

	var out CountResponse
	err := c.withRetry(ctx, op, func() error {
		body, contentType, err := multipartBody("file", fileNameOr(filename), data, nil)
		if err != nil {
			return errors.Wrap(err, "failed to build count body")
		}
		out = CountResponse{}
		_, err = c.do(ctx, op, http.MethodPost, c.cfg.CountURL, body, contentType, &out)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "count failed"
		}
		return nil, errors.Wrap(errors.ErrInvalidRequest, msg)
	}
	if out.Filename == "" {
		out.Filename = filename
	}

	c.logger.Debugw("Counted numbers", logger.FieldFile, out.Filename, logger.FieldCount, out.Count)
	return &out, nil
}

// ResolveServiceID returns the configured service id, or asks the agent
// directory for the first outbound agent when none is configured
func (c *Client) ResolveServiceID(ctx context.Context) (string, error) {
	const op = "resolve service id"

	if c.cfg.ServiceID != "" {
		return c.cfg.ServiceID, nil
	}
	if c.cfg.AgentsURL == "" {
		return "", nil
	}

	u, err := url.Parse(c.cfg.AgentsURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid agents URL")
	}
	q := u.Query()
	q.Set("callType", "outbound")
	u.RawQuery = q.Encode()

	var out agentsResponse
	err = c.withRetry(ctx, op, func() error {
		out = agentsResponse{}
		_, err := c.do(ctx, op, http.MethodGet, u.String(), nil, "", &out)
		return err
	})
	if err != nil {
		return "", err
	}

	if len(out.Data.Data) == 0 || out.Data.Data[0].ServiceID == "" {
		return "", errors.NewNotFoundError("no outbound agent registered")
	}
	return out.Data.Data[0].ServiceID, nil
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// the retry budget is spent. Delays double from RetryBaseDelay.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay << (attempt - 1)
			c.logger.Debugw("Retrying batch API request",
				logger.FieldOperation, op,
				logger.FieldAttempt, attempt,
				"max_retries", c.cfg.MaxRetries,
				"delay", delay)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Wrapf(ctx.Err(), "%s cancelled after %d attempts", op, attempt)
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				c.logger.Infow("Request succeeded after retries", logger.FieldOperation, op, "attempts", attempt+1)
			}
			return nil
		}

		c.logger.Warnw("Batch API error",
			logger.FieldOperation, op,
			logger.FieldAttempt, attempt+1,
			logger.FieldError, err)

		if !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return errors.Wrapf(err, "%s failed after %d retries", op, c.cfg.MaxRetries)
}

// do performs one paced request and decodes a JSON body into out.
// It returns the HTTP status when a response was received.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body []byte, contentType string, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, newRequestError(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.Get().UserAgent())
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", c.cfg.AuthToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, newRequestError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, newRequestError(op, err)
	}

	c.logger.Debugw("Batch API response",
		logger.FieldOperation, op,
		logger.FieldMethod, method,
		logger.FieldStatusCode, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, newStatusError(op, resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, newDecodeError(op, resp.StatusCode, err)
		}
	}
	return resp.StatusCode, nil
}

// multipartBody encodes one file part plus optional plain fields
func multipartBody(field, filename string, data []byte, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func fileNameOr(name string) string {
	if name == "" {
		return "numbers.csv"
	}
	return name
}
