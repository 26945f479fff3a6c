package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.Handler) *HTTPGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gateway, err := NewHTTPGateway(HTTPGatewayConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Model:    "test-model",
	})
	require.NoError(t, err)
	return gateway
}

func TestNewHTTPGatewayValidation(t *testing.T) {
	_, err := NewHTTPGateway(HTTPGatewayConfig{Model: "m"})
	require.Error(t, err, "endpoint required")

	_, err = NewHTTPGateway(HTTPGatewayConfig{Endpoint: "https://example.com"})
	require.Error(t, err, "model required")
}

func TestCompleteSuccess(t *testing.T) {
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)
		require.Equal(t, 300, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		require.Equal(t, "user", req.Messages[0].Role)
		require.Equal(t, "hello", req.Messages[0].Content)

		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi there"}}]}`)
	}))

	reply, err := gateway.Complete(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "hi there", reply)
}

func TestCompleteFallbackOnEmptyReply(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no choices", body: `{"choices":[]}`},
		{name: "empty content", body: `{"choices":[{"message":{"content":""}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			reply, err := gateway.Complete(context.Background(), "hello")
			require.NoError(t, err)
			require.Equal(t, FallbackReply, reply)
		})
	}
}

func TestCompleteUnauthorized(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(fmt.Sprintf("status %d", status), func(t *testing.T) {
			gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			_, err := gateway.Complete(context.Background(), "hello")
			require.Equal(t, KindUnauthorized, KindOf(err))
		})
	}
}

func TestCompleteServerError(t *testing.T) {
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	_, err := gateway.Complete(context.Background(), "hello")
	require.Equal(t, KindNetwork, KindOf(err))
}

func TestCompleteMalformedResponse(t *testing.T) {
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	_, err := gateway.Complete(context.Background(), "hello")
	require.Equal(t, KindMalformed, KindOf(err))
}

func TestCompleteTimeout(t *testing.T) {
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := gateway.Complete(ctx, "hello")
	require.Equal(t, KindTimeout, KindOf(err))
}

func TestCompleteNetworkError(t *testing.T) {
	gateway, err := NewHTTPGateway(HTTPGatewayConfig{
		Endpoint: "http://127.0.0.1:1",
		Model:    "test-model",
		Timeout:  200 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = gateway.Complete(context.Background(), "hello")
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
}

func TestKindOfNonCompletionError(t *testing.T) {
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
	require.Equal(t, Kind(""), KindOf(nil))
}
