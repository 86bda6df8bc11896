package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warning "))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger := New(Config{Level: "info", Format: "auto", Output: path})

	logger.Debug().Msg("hidden")
	logger.Info().Str("case_id", "P001").Msg("Case processed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"case_id":"P001"`)
	assert.Contains(t, out, `"message":"Case processed"`)
	assert.False(t, strings.Contains(out, "hidden"))
}

func TestContextLogger(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), logger)
	fromCtx := FromContext(ctx)
	fromCtx.Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	// A bare context yields a logger that discards output
	bare := FromContext(context.Background())
	bare.Info().Msg("dropped")
	assert.NotContains(t, buf.String(), "dropped")
}
