package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/plumeng/evalbatch/internal/domain"
)

const defaultJudgeTimeout = 120 * time.Second

// Verdict is the judge's decision for one transcript-summary pair.
type Verdict struct {
	Status     domain.EvaluationStatus
	Reason     string
	Confidence *float64
}

// Client evaluates a single pair against the external judge.
type Client interface {
	Evaluate(ctx context.Context, pair domain.Pair) (*Verdict, error)
}

type evaluateRequest struct {
	InteractionID string `json:"interactionId"`
	Transcript    string `json:"transcript"`
	Summary       string `json:"summary"`
	Model         string `json:"model,omitempty"`
}

type evaluateResponse struct {
	Verdict    string   `json:"verdict"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
}

// HTTPClient calls a judge service over HTTP.
type HTTPClient struct {
	client   *resty.Client
	endpoint string
	model    string
}

func NewHTTPClient(endpoint, model string) (*HTTPClient, error) {
	client := resty.New()
	client.SetTimeout(defaultJudgeTimeout)
	client.SetRetryCount(0)

	return NewHTTPClientWithResty(endpoint, model, client)
}

func NewHTTPClientWithResty(endpoint, model string, client *resty.Client) (*HTTPClient, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("judge endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid judge endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultJudgeTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPClient{
		client:   client,
		endpoint: trimmedEndpoint,
		model:    strings.TrimSpace(model),
	}, nil
}

func (c *HTTPClient) Evaluate(ctx context.Context, pair domain.Pair) (*Verdict, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("judge client is not initialized")
	}
	if err := pair.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pair: %w", err)
	}

	reqBody := evaluateRequest{
		InteractionID: pair.InteractionID,
		Transcript:    pair.Transcript,
		Summary:       pair.Summary,
		Model:         c.model,
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(c.endpoint)
	if err != nil {
		return nil, &JudgeError{
			Message:   "judge request failed",
			Transient: ctx.Err() == nil,
			Cause:     err,
		}
	}

	status := response.StatusCode()
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return nil, &JudgeError{
			StatusCode: status,
			Message:    "judge returned retryable status",
			Transient:  true,
		}
	}
	if status >= http.StatusBadRequest {
		return nil, &JudgeError{
			StatusCode: status,
			Message:    "judge rejected request",
			Transient:  false,
		}
	}

	var parsed evaluateResponse
	if err := json.Unmarshal(response.Body(), &parsed); err != nil {
		return nil, &JudgeError{
			StatusCode: status,
			Message:    "judge returned malformed body",
			Transient:  false,
			Cause:      err,
		}
	}

	verdictStatus, err := domain.ParseEvaluationStatus(parsed.Verdict)
	if err != nil {
		return nil, &JudgeError{
			StatusCode: status,
			Message:    fmt.Sprintf("judge returned unknown verdict %q", parsed.Verdict),
			Transient:  false,
		}
	}

	return &Verdict{
		Status:     verdictStatus,
		Reason:     parsed.Reason,
		Confidence: parsed.Confidence,
	}, nil
}

// Model reports the judge model identifier attached to results.
func (c *HTTPClient) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}
