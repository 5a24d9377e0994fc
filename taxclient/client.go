/*
Package taxclient calls a remote tax-rate service over HTTP.

PURPOSE:
  Implements core.TaxService against a JSON endpoint:
    POST {BaseURL}/tax/compute   body: core.TaxRequest   reply: core.TaxResult

  Calls go through a sony/gobreaker circuit breaker so a failing service trips
  fast instead of holding every tax recalculation open for the full timeout.
  Every failure, including an open breaker, is returned as a
  core.CollaboratorError so the enclosing transaction rolls back.

SEE ALSO:
  - tax/flatrate.go: in-process alternative when no URL is configured
*/
package taxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/core"
)

const (
	serviceName = "tax"
	computePath = "/tax/compute"
)

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ core.TaxService = (*Client)(nil)

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// State exposes the breaker state for health reporting.
func (c *Client) State() gobreaker.State { return c.breaker.State() }

func (c *Client) ComputeTax(ctx context.Context, req core.TaxRequest) (core.TaxResult, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, req)
	})
	if err != nil {
		c.logger.Warn("tax service call failed", zap.Error(err))
		return core.TaxResult{}, &core.CollaboratorError{Service: serviceName, Op: "computeTax", Err: err}
	}
	res := out.(core.TaxResult)
	if len(res.LineAdjustments) != len(req.Lines) {
		return core.TaxResult{}, &core.CollaboratorError{Service: serviceName, Op: "computeTax",
			Err: fmt.Errorf("%d line results for %d lines", len(res.LineAdjustments), len(req.Lines))}
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, req core.TaxRequest) (core.TaxResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return core.TaxResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+computePath, bytes.NewReader(body))
	if err != nil {
		return core.TaxResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return core.TaxResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return core.TaxResult{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var res core.TaxResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return core.TaxResult{}, fmt.Errorf("decode response: %w", err)
	}
	return res, nil
}
