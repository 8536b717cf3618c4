package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gustycube/baxter/internal/circuitbreaker"
)

func Default() *http.Client {
	tr := &http.Transport{
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   15 * time.Second,
	}
}

// ResilientClient wraps http.Client with a circuit breaker and bounded
// exponential retries for throttling and server errors
type ResilientClient struct {
	client      *http.Client
	breaker     *circuitbreaker.Breaker
	maxRetry    uint64
	initialWait time.Duration
	maxWait     time.Duration
}

// NewResilientClient creates a new HTTP client with circuit breaker
func NewResilientClient(client *http.Client, maxRetry uint64) *ResilientClient {
	if client == nil {
		client = Default()
	}
	return &ResilientClient{
		client: client,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold:    5,
			FailureRatio: 0.6,
			Timeout:      30 * time.Second,
			Interval:     60 * time.Second,
			MaxProbes:    1,
		}),
		maxRetry:    maxRetry,
		initialWait: 500 * time.Millisecond,
		maxWait:     20 * time.Second,
	}
}

// WithBackoff overrides the retry interval bounds.
func (c *ResilientClient) WithBackoff(initial, ceiling time.Duration) *ResilientClient {
	c.initialWait = initial
	c.maxWait = ceiling
	return c
}

// Breaker exposes the circuit breaker for health reporting
func (c *ResilientClient) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

// Do executes a request built by newReq. 429 and 5xx answers and transport
// errors are retried with exponential backoff; any other status is returned
// to the caller with its body intact. An open circuit is never retried.
func (c *ResilientClient) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response
	op := func() error {
		req, err := newReq(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = c.breaker.Execute(func() error {
			r, err := c.client.Do(req)
			if err != nil {
				return err
			}
			if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
				io.Copy(io.Discard, r.Body)
				r.Body.Close()
				return &HTTPError{StatusCode: r.StatusCode, Status: r.Status}
			}
			resp = r
			return nil
		})
		if errors.Is(err, circuitbreaker.ErrOpenState) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialWait
	bo.MaxElapsedTime = c.maxWait
	var policy backoff.BackOff = backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetry), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return e.Status
}

// GetHTTPStatusCode returns the HTTP status code from an HTTPError
func GetHTTPStatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
