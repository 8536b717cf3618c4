// Package reputation looks up address reputation from AbuseIPDB.
package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gustycube/baxter/internal/httpclient"
	"github.com/gustycube/baxter/internal/rate"
	"github.com/gustycube/baxter/internal/types"
)

// ErrNoData means the provider answered without a confidence score.
var ErrNoData = errors.New("no reputation data")

// Client looks up the reputation of one address.
type Client interface {
	Lookup(ctx context.Context, address string) (types.ReputationResult, error)
}

type Options struct {
	Endpoint          string
	APIKey            string
	MaxAgeDays        int
	RequestsPerSecond float64
	DailyQuota        int
	Retries           uint64
	RetryWait         time.Duration
}

// AbuseIPDB queries the v2 check endpoint.
type AbuseIPDB struct {
	opts  Options
	http  *httpclient.ResilientClient
	quota *rate.Quota
	calls atomic.Int64
}

func NewAbuseIPDB(opts Options, hc *http.Client) *AbuseIPDB {
	if opts.Endpoint == "" {
		opts.Endpoint = "https://api.abuseipdb.com/api/v2/check"
	}
	if opts.MaxAgeDays == 0 {
		opts.MaxAgeDays = 90
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 2
	}
	rc := httpclient.NewResilientClient(hc, opts.Retries)
	if opts.RetryWait > 0 {
		rc.WithBackoff(opts.RetryWait, 20*opts.RetryWait)
	}
	return &AbuseIPDB{
		opts:  opts,
		http:  rc,
		quota: rate.New(opts.RequestsPerSecond, 1, opts.DailyQuota),
	}
}

// BreakerState reports the circuit state of the provider connection.
func (a *AbuseIPDB) BreakerState() string {
	return a.http.Breaker().State().String()
}

// Calls returns the number of HTTP requests sent, retries included.
func (a *AbuseIPDB) Calls() int64 {
	return a.calls.Load()
}

// Remaining returns the requests left in today's quota.
func (a *AbuseIPDB) Remaining() int {
	return a.quota.Remaining()
}

type checkResponse struct {
	Data struct {
		IPAddress            string  `json:"ipAddress"`
		AbuseConfidenceScore *int    `json:"abuseConfidenceScore"`
		TotalReports         int     `json:"totalReports"`
		LastReportedAt       *string `json:"lastReportedAt"`
	} `json:"data"`
	Errors []struct {
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (a *AbuseIPDB) Lookup(ctx context.Context, address string) (types.ReputationResult, error) {
	ctx, span := otel.Tracer("baxter/reputation").Start(ctx, "reputation.Lookup")
	defer span.End()
	span.SetAttributes(attribute.String("address", address))

	q := url.Values{}
	q.Set("ipAddress", address)
	q.Set("maxAgeInDays", strconv.Itoa(a.opts.MaxAgeDays))
	target := a.opts.Endpoint + "?" + q.Encode()

	// Every attempt, retries included, spends quota.
	resp, err := a.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		if err := a.quota.Wait(ctx); err != nil {
			return nil, err
		}
		a.calls.Add(1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Key", a.opts.APIKey)
		return req, nil
	})
	if err != nil {
		return types.ReputationResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.ReputationResult{}, fmt.Errorf("read response: %w", err)
	}

	var cr checkResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return types.ReputationResult{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := resp.Status
		if len(cr.Errors) > 0 {
			detail = cr.Errors[0].Detail
		}
		return types.ReputationResult{}, fmt.Errorf("lookup %s: %s", address, detail)
	}
	if cr.Data.AbuseConfidenceScore == nil {
		return types.ReputationResult{}, ErrNoData
	}

	res := types.ReputationResult{
		Address:         address,
		ConfidenceScore: *cr.Data.AbuseConfidenceScore,
		TotalReports:    cr.Data.TotalReports,
	}
	if cr.Data.LastReportedAt != nil && *cr.Data.LastReportedAt != "" {
		ts, err := time.Parse(time.RFC3339, *cr.Data.LastReportedAt)
		if err == nil {
			res.LastReportedAt = &ts
		}
	}
	span.SetAttributes(attribute.Int("score", res.ConfidenceScore), attribute.Int("reports", res.TotalReports))
	return res, nil
}

// Verify checks that the provider answers with a score, which catches bad
// API keys and exhausted quotas at startup.
func Verify(ctx context.Context, c Client) error {
	if _, err := c.Lookup(ctx, "8.8.8.8"); err != nil {
		return fmt.Errorf("api key invalid or limit reached: %w", err)
	}
	return nil
}
