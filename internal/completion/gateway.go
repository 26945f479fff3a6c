// Package completion wraps the external text-completion service behind a
// single call. The gateway never retries; a failed completion surfaces as a
// classified error and the caller decides what the user sees.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/logging"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 300

	// FallbackReply stands in when the service responds without a reply field.
	FallbackReply = "Sorry, I couldn't respond."
)

// Kind classifies a completion failure.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindUnauthorized Kind = "unauthorized"
	KindMalformed    Kind = "malformed_response"
	KindNetwork      Kind = "network_error"
)

// Error is a classified completion failure.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("completion failed: %s", e.Kind)
	}
	return fmt.Sprintf("completion failed: %s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the failure kind of err, or "" if err is not a completion error.
func KindOf(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return ""
}

// Gateway abstracts the completion call for the sync engine.
type Gateway interface {
	// Complete sends one user utterance and returns the reply text.
	Complete(ctx context.Context, text string) (string, error)
}

// HTTPGatewayConfig configures an HTTPGateway.
type HTTPGatewayConfig struct {
	// Endpoint is the chat-completions URL of an OpenAI-compatible service.
	Endpoint string

	// APIKey is sent as a bearer credential.
	APIKey string

	// Model names the completion model.
	Model string

	// MaxTokens bounds the reply length. Defaults to 300.
	MaxTokens int

	// Timeout bounds the whole call. Defaults to 30s.
	Timeout time.Duration

	// Client overrides the default HTTP client (tests).
	Client *http.Client
}

// HTTPGateway calls an OpenAI-compatible chat-completions endpoint.
type HTTPGateway struct {
	endpoint  string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// NewHTTPGateway creates a gateway for the given service.
func NewHTTPGateway(cfg HTTPGatewayConfig) (*HTTPGateway, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("completion endpoint required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("completion model required")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPGateway{
		endpoint:  endpoint,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: maxTokens,
		client:    client,
		logger:    logging.Component("completion"),
	}, nil
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete implements Gateway.
func (g *HTTPGateway) Complete(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:     g.model,
		Messages:  []chatMessage{{Role: "user", Content: text}},
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		return "", &Error{Kind: KindMalformed, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindNetwork, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		kind := KindNetwork
		if isTimeout(ctx, err) {
			kind = KindTimeout
		}
		g.logger.Warn().Err(err).Str("kind", string(kind)).Msg("completion request failed")
		return "", &Error{Kind: kind, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &Error{Kind: KindUnauthorized, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &Error{Kind: KindNetwork, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &Error{Kind: KindMalformed, Cause: err}
	}

	g.logger.Debug().Dur("elapsed", time.Since(started)).Msg("completion succeeded")

	// A well-formed response without a reply degrades to the fixed fallback
	// rather than an error; the conversation keeps moving.
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return FallbackReply, nil
	}
	return decoded.Choices[0].Message.Content, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
