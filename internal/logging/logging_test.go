package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bearer token",
			input: "request failed: Bearer abcdefghij0123456789xyz rejected",
			want:  "request failed: [REDACTED] rejected",
		},
		{
			name:  "api key",
			input: "using sk-proj-abcdefghijklmnopqrstuvwxyz",
			want:  "using [REDACTED]",
		},
		{
			name:  "token assignment",
			input: `token="abcdefghijklmnopqrstuvwxyz012345"`,
			want:  "[REDACTED]",
		},
		{
			name:  "plain text untouched",
			input: "dial tcp 127.0.0.1:443: connection refused",
			want:  "dial tcp 127.0.0.1:443: connection refused",
		},
		{
			name:  "short values untouched",
			input: "Bearer short",
			want:  "Bearer short",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Redact(tt.input))
		})
	}
}

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	logger := Component("test")
	logger.Info().Str("k", "v").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "hello", entry["message"])
	require.Equal(t, "test", entry["component"])
	require.Equal(t, "v", entry["k"])
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Logger.Debug().Msg("hidden")
	Logger.Info().Msg("hidden too")
	require.Zero(t, buf.Len())

	Logger.Warn().Msg("shown")
	require.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.TraceLevel, parseLevel("trace"))
	require.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	require.Equal(t, zerolog.InfoLevel, parseLevel("unknown"))
}

func TestWithThread(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	logger := WithThread("t1")
	logger.Info().Msg("scoped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "t1", entry["thread_id"])
}
