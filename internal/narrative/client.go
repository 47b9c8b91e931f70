// Package narrative asks a generative model for a short risk assessment of a
// population forecast chart.
package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/httpclient"
	"github.com/lightvibes/biomap/internal/logger"
)

const (
	componentName = "narrative"

	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel    = "gemini-1.5-flash"
	defaultTimeout  = 30 * time.Second

	promptTemplate = `The attached chart is a population forecast for the species %s.
Reply with exactly three lines and nothing else:
Risk Score: a number from 1 (no risk) to 10 (critical) for the species' population decline
Explanation: one sentence explaining the score from the chart
Prevention: one sentence of practical prevention advice`
)

// Config configures the generative model client.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// Client calls a generateContent endpoint.
type Client struct {
	config Config
	http   *httpclient.Client
	log    logger.Logger
}

// NewClient creates a client. The API key must come from configuration.
func NewClient(cfg Config, hc *httpclient.Client) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.Newf("narrative API key is not configured").
			Category(errors.CategoryConfiguration).
			Component(componentName).
			Build()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if hc == nil {
		hc = httpclient.New(&httpclient.Config{DefaultTimeout: cfg.Timeout})
	}
	return &Client{config: cfg, http: hc, log: GetLogger()}, nil
}

// Prompt returns the instruction sent with the chart.
func Prompt(species string) string {
	return fmt.Sprintf(promptTemplate, species)
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

// Assess sends the chart for species and parses the three line reply.
func (c *Client) Assess(ctx context.Context, species, plotBase64 string) (*Assessment, error) {
	if strings.TrimSpace(species) == "" || plotBase64 == "" {
		return nil, errors.ValidationError(componentName, "species and plot are required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body := generateRequest{Contents: []content{{Parts: []part{
		{Text: Prompt(species)},
		{InlineData: &inlineData{MimeType: "image/png", Data: plotBase64}},
	}}}}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.config.Endpoint, url.PathEscape(c.config.Model))
	text, err := c.generate(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}

	a, err := ParseAssessment(text)
	if err != nil {
		c.log.Warn("unexpected narrative reply",
			logger.String("species", species),
			logger.Int("reply_length", len(text)),
			logger.Error(err))
		return nil, err
	}
	return a, nil
}

func (c *Client) generate(ctx context.Context, endpoint string, body generateRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", errors.Newf("failed to encode narrative request: %w", err).
			Category(errors.CategoryGeneric).
			Component(componentName).
			Build()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Newf("failed to create narrative request: %w", err).
			Category(errors.CategoryConfiguration).
			Component(componentName).
			Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", errors.Newf("narrative request failed: %w", err).
			Category(errors.CategoryNetwork).
			Component(componentName).
			Context("model", c.config.Model).
			Build()
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Newf("failed to read narrative response: %w", err).
			Category(errors.CategoryNetwork).
			Component(componentName).
			Build()
	}

	obj, parseErr := jason.NewObjectFromBytes(data)

	if resp.StatusCode >= http.StatusBadRequest {
		msg := http.StatusText(resp.StatusCode)
		if parseErr == nil {
			if m, err := obj.GetString("error", "message"); err == nil && m != "" {
				msg = m
			}
		}
		return "", errors.Newf("narrative service error (status %d): %s", resp.StatusCode, msg).
			Category(statusCategory(resp.StatusCode)).
			Component(componentName).
			Context("status_code", resp.StatusCode).
			Context("model", c.config.Model).
			Build()
	}
	if parseErr != nil {
		return "", errors.Newf("failed to parse narrative response: %w", parseErr).
			Category(errors.CategoryMalformed).
			Component(componentName).
			Build()
	}

	return extractText(obj)
}

// extractText joins the text parts of the first candidate.
func extractText(obj *jason.Object) (string, error) {
	candidates, err := obj.GetObjectArray("candidates")
	if err != nil || len(candidates) == 0 {
		reason, _ := obj.GetString("promptFeedback", "blockReason")
		return "", errors.Newf("narrative response has no candidates (block reason %q)", reason).
			Category(errors.CategoryMalformed).
			Component(componentName).
			Build()
	}

	parts, err := candidates[0].GetObjectArray("content", "parts")
	if err != nil {
		return "", errors.Newf("narrative candidate has no content: %w", err).
			Category(errors.CategoryMalformed).
			Component(componentName).
			Build()
	}

	var sb strings.Builder
	for _, p := range parts {
		if t, err := p.GetString("text"); err == nil {
			sb.WriteString(t)
		}
	}
	return sb.String(), nil
}

func statusCategory(status int) errors.ErrorCategory {
	switch status {
	case http.StatusBadRequest:
		return errors.CategoryValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.CategoryConfiguration
	case http.StatusNotFound:
		return errors.CategoryNotFound
	case http.StatusTooManyRequests:
		return errors.CategoryLimit
	default:
		return errors.CategoryHTTP
	}
}
