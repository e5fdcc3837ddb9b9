// Package completion adapts the external text-completion service. One call,
// tunable decoding parameters, ordered model fallback on "model unavailable"
// failures only.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"parley/pkg/logger"
)

// Message is one role-tagged instruction in the upstream request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DecodingParams are the sampling controls passed through to the service.
type DecodingParams struct {
	Temperature       float64  `json:"temperature"`
	TopP              float64  `json:"top_p"`
	RepetitionPenalty float64  `json:"repetition_penalty,omitempty"`
	PresencePenalty   float64  `json:"presence_penalty,omitempty"`
	FrequencyPenalty  float64  `json:"frequency_penalty,omitempty"`
	Stop              []string `json:"stop,omitempty"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
}

// Typed upstream failures. Everything else the adapter returns is wrapped
// in one of these so callers never branch on transport details.
var (
	ErrUpstreamUnavailable     = errors.New("completion service unavailable")
	ErrUpstreamTimeout         = errors.New("completion service timed out")
	ErrUpstreamInvalidResponse = errors.New("completion service returned an invalid response")
)

// Client is the single completion call the turn pipeline depends on.
type Client interface {
	Complete(ctx context.Context, msgs []Message, params DecodingParams, model string) (string, error)
}

// HTTPClient talks to an OpenAI-style /v1/chat/completions endpoint.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	fallbacks []string
	timeout   time.Duration
	hc        *fasthttp.Client
}

func NewHTTPClient(baseURL, apiKey string, fallbacks []string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		fallbacks: append([]string(nil), fallbacks...),
		timeout:   timeout,
		hc: &fasthttp.Client{
			MaxConnsPerHost: 64,
			ReadTimeout:     timeout,
			WriteTimeout:    10 * time.Second,
		},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	DecodingParams
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one generation request. When the preferred model is
// reported unavailable the fallback list is tried in order; any other
// failure class surfaces immediately.
func (c *HTTPClient) Complete(ctx context.Context, msgs []Message, params DecodingParams, model string) (string, error) {
	models := append([]string{model}, c.fallbacks...)
	var lastErr error
	for i, m := range models {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		text, err := c.call(m, msgs, params)
		if err == nil {
			if i > 0 {
				logger.Warn("completion_model_fallback", "requested", model, "served_by", m)
			}
			return text, nil
		}
		lastErr = err
		if !errors.Is(err, errModelUnavailable) {
			return "", err
		}
		logger.Warn("completion_model_unavailable", "model", m, "error", err)
	}
	return "", fmt.Errorf("%w: all models exhausted: %v", ErrUpstreamUnavailable, lastErr)
}

// errModelUnavailable is internal; it marks the one failure class that is
// allowed to advance the fallback list.
var errModelUnavailable = errors.New("model unavailable")

func (c *HTTPClient) call(model string, msgs []Message, params DecodingParams) (string, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: msgs, DecodingParams: params})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrUpstreamInvalidResponse, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/v1/chat/completions")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.SetBody(body)

	if err := c.hc.DoTimeout(req, resp, c.timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return "", fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	status := resp.StatusCode()
	respBody := resp.Body()
	var parsed chatResponse
	if perr := json.Unmarshal(respBody, &parsed); perr != nil && status < 500 {
		return "", fmt.Errorf("%w: status %d: %v", ErrUpstreamInvalidResponse, status, perr)
	}

	switch {
	case status >= 500:
		return "", fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, status)
	case status == fasthttp.StatusNotFound, status == fasthttp.StatusBadRequest:
		if parsed.Error != nil && mentionsModel(parsed.Error.Code, parsed.Error.Message) {
			return "", fmt.Errorf("%w: %s", errModelUnavailable, parsed.Error.Message)
		}
		return "", fmt.Errorf("%w: status %d", ErrUpstreamInvalidResponse, status)
	case status != fasthttp.StatusOK:
		return "", fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, status)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrUpstreamInvalidResponse)
	}
	return parsed.Choices[0].Message.Content, nil
}

func mentionsModel(code, msg string) bool {
	c := strings.ToLower(code)
	m := strings.ToLower(msg)
	return strings.Contains(c, "model") || strings.Contains(m, "model")
}
