package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/logging"
	"chatrelay/internal/models"
)

const (
	defaultHTTPTimeout    = 10 * time.Second
	defaultStreamBuffer   = 64
	defaultReconnectDelay = 2 * time.Second
)

// HTTPStoreConfig configures an HTTPStore.
type HTTPStoreConfig struct {
	// BaseURL is the store's root endpoint, e.g. https://store.example.com.
	BaseURL string

	// Token supplies the bearer token attached to every request.
	Token TokenSource

	// Client overrides the default HTTP client (mainly for tests).
	Client *http.Client

	// Timeout bounds each request when Client is not supplied.
	Timeout time.Duration
}

// HTTPStore talks to a hosted thread/message store over REST.
//
// Request/response calls run on a timeout-bounded client. The SSE stream
// runs on a separate client without a global timeout: http.Client.Timeout
// covers reading the response body, which would sever a live stream once it
// elapsed. Stream lifetime is bounded by the context and the stop function.
type HTTPStore struct {
	baseURL      string
	token        TokenSource
	client       *http.Client
	streamClient *http.Client
	logger       zerolog.Logger
}

// NewHTTPStore creates a store client for the given endpoint.
func NewHTTPStore(cfg HTTPStoreConfig) (*HTTPStore, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("store base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid store base url: %w", err)
	}

	client := cfg.Client
	streamClient := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
		streamClient = &http.Client{}
	}

	return &HTTPStore{
		baseURL:      base,
		token:        cfg.Token,
		client:       client,
		streamClient: streamClient,
		logger:       logging.Component("remote.http"),
	}, nil
}

type threadListResponse struct {
	Threads []models.Thread `json:"threads"`
}

type threadResponse struct {
	Thread models.Thread `json:"thread"`
}

type deleteResponse struct {
	Affected int64 `json:"affected"`
}

type messageListResponse struct {
	Messages []models.Message `json:"messages"`
}

type messageResponse struct {
	Message models.Message `json:"message"`
}

// ListThreads implements Store.
func (s *HTTPStore) ListThreads(ctx context.Context, ownerID string) ([]models.Thread, error) {
	endpoint := fmt.Sprintf("%s/v1/threads?owner_id=%s", s.baseURL, url.QueryEscape(ownerID))
	var out threadListResponse
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

// CreateThread implements Store.
func (s *HTTPStore) CreateThread(ctx context.Context, ownerID, title string) (*models.Thread, error) {
	body := map[string]string{"owner_id": ownerID, "title": title}
	var out threadResponse
	if err := s.do(ctx, http.MethodPost, s.baseURL+"/v1/threads", body, &out); err != nil {
		return nil, err
	}
	return &out.Thread, nil
}

// DeleteThread implements Store. The remote cascades message deletion.
func (s *HTTPStore) DeleteThread(ctx context.Context, threadID string) (int64, error) {
	endpoint := fmt.Sprintf("%s/v1/threads/%s", s.baseURL, url.PathEscape(threadID))
	var out deleteResponse
	if err := s.do(ctx, http.MethodDelete, endpoint, nil, &out); err != nil {
		return 0, err
	}
	return out.Affected, nil
}

// ListMessages implements Store.
func (s *HTTPStore) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	endpoint := fmt.Sprintf("%s/v1/threads/%s/messages", s.baseURL, url.PathEscape(threadID))
	var out messageListResponse
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// AppendMessage implements Store.
func (s *HTTPStore) AppendMessage(ctx context.Context, threadID string, sender models.Sender, content string) (*models.Message, error) {
	endpoint := fmt.Sprintf("%s/v1/threads/%s/messages", s.baseURL, url.PathEscape(threadID))
	body := map[string]string{"sender": string(sender), "content": content}
	var out messageResponse
	if err := s.do(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

// SubscribeNewMessages implements Subscriber using server-sent events. The
// stream closes when the cancel function runs or the context ends.
func (s *HTTPStore) SubscribeNewMessages(ctx context.Context, threadID string) (<-chan models.Message, func(), error) {
	endpoint := fmt.Sprintf("%s/v1/threads/%s/messages/stream", s.baseURL, url.PathEscape(threadID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	s.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.streamClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, statusError(resp.StatusCode)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan models.Message, defaultStreamBuffer)

	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			var msg models.Message
			if err := json.Unmarshal([]byte(payload), &msg); err != nil {
				s.logger.Warn().Err(err).Msg("dropping malformed stream event")
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() {
		cancel()
		// Closing the body unblocks the scanner.
		resp.Body.Close()
	}
	return out, stop, nil
}

func (s *HTTPStore) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug().Err(err).Str("method", method).Str("url", endpoint).Msg("store request failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *HTTPStore) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.token != nil {
		if token := s.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

func statusError(code int) error {
	if code == http.StatusNotFound {
		return ErrThreadNotFound
	}
	return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, code)
}
