// Package prediction calls the population forecast service.
package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/httpclient"
	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/narrative"
)

const (
	componentName = "prediction"

	MinSteps  = 1
	MaxSteps  = 12
	MinAmount = 1
	MaxAmount = 24

	defaultTimeout = 60 * time.Second
)

// Request is the body of POST /predict.
type Request struct {
	SpeciesName      string `json:"species_name"`
	NSteps           int    `json:"n_steps"`
	PredictionAmount int    `json:"prediction_amount"`
}

// Validate checks the request bounds.
func (r *Request) Validate() error {
	r.SpeciesName = strings.TrimSpace(r.SpeciesName)
	switch {
	case r.SpeciesName == "":
		return errors.ValidationError(componentName, "species name is required")
	case r.NSteps < MinSteps || r.NSteps > MaxSteps:
		return errors.ValidationError(componentName, fmt.Sprintf("n_steps must be between %d and %d", MinSteps, MaxSteps))
	case r.PredictionAmount < MinAmount || r.PredictionAmount > MaxAmount:
		return errors.ValidationError(componentName, fmt.Sprintf("prediction_amount must be between %d and %d", MinAmount, MaxAmount))
	}
	return nil
}

// response is the forecast service reply.
type response struct {
	Success bool   `json:"success"`
	Plot    string `json:"plot"`
	Error   string `json:"error"`
}

// Result is a forecast chart with an optional risk assessment.
type Result struct {
	Plot           string                `json:"plot"` // base64 PNG
	Assessment     *narrative.Assessment `json:"assessment,omitempty"`
	NarrativeError string                `json:"narrativeError,omitempty"`
}

// Client talks to the forecast service.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *httpclient.Client
	log     logger.Logger
}

// NewClient creates a client for baseURL. A nil hc gets a dedicated client.
func NewClient(baseURL string, timeout time.Duration, hc *httpclient.Client) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if hc == nil {
		hc = httpclient.New(&httpclient.Config{DefaultTimeout: timeout})
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    hc,
		log:     GetLogger(),
	}
}

// Predict requests a forecast chart for req.
func (c *Client) Predict(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/predict"
	start := time.Now()

	resp, err := c.http.Post(ctx, endpoint, "application/json", req)
	if err != nil {
		return nil, errors.Newf("prediction request failed: %w", err).
			Category(errors.CategoryNetwork).
			Component(componentName).
			Context("url", endpoint).
			Build()
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Debug("failed to close response body", logger.Error(err))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Newf("failed to read prediction response: %w", err).
			Category(errors.CategoryNetwork).
			Component(componentName).
			Build()
	}

	var out response
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode >= http.StatusBadRequest {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && out.Error != "" {
			msg = out.Error
		}
		c.log.Warn("prediction service error",
			logger.String("species", req.SpeciesName),
			logger.Int("status_code", resp.StatusCode),
			logger.String("error", msg))
		return nil, errors.Newf("prediction service error (status %d): %s", resp.StatusCode, msg).
			Category(errors.CategoryHTTP).
			Component(componentName).
			Context("status_code", resp.StatusCode).
			Build()
	}
	if decodeErr != nil {
		return nil, errors.Newf("failed to parse prediction response: %w", decodeErr).
			Category(errors.CategoryMalformed).
			Component(componentName).
			Context("response_size", len(body)).
			Build()
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "Failed to generate prediction"
		}
		return nil, errors.Newf("prediction failed: %s", msg).
			Category(errors.CategoryIntegration).
			Component(componentName).
			Build()
	}
	if out.Plot == "" {
		return nil, errors.Newf("prediction response has no plot").
			Category(errors.CategoryMalformed).
			Component(componentName).
			Build()
	}

	c.log.Info("prediction received",
		logger.String("species", req.SpeciesName),
		logger.Int("n_steps", req.NSteps),
		logger.Int("prediction_amount", req.PredictionAmount),
		logger.Int("plot_bytes", len(out.Plot)),
		logger.Duration("elapsed", time.Since(start)))

	return &Result{Plot: out.Plot}, nil
}

// Health reports whether the forecast service answers /health with 2xx.
func (c *Client) Health(ctx context.Context) error {
	endpoint := c.baseURL + "/health"
	resp, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return errors.Newf("prediction service unreachable: %w", err).
			Category(errors.CategoryNetwork).
			Component(componentName).
			Context("url", endpoint).
			Build()
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Newf("prediction service health check returned %d", resp.StatusCode).
			Category(errors.CategoryHTTP).
			Component(componentName).
			Context("status_code", resp.StatusCode).
			Build()
	}
	return nil
}
