package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	server := NewServer(9199, "1.0.0", log)

	assert.NotNil(t, server)
	assert.Equal(t, 9199, server.port)
	assert.Nil(t, server.server) // not started yet
}

func TestHealthEndpoint(t *testing.T) {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	port := 9198

	server := NewServer(port, "1.2.3", log)
	require.NoError(t, server.Start())

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	bodyStr := string(body)
	assert.Contains(t, bodyStr, `"status":"healthy"`)
	assert.Contains(t, bodyStr, `"version":"1.2.3"`)
	assert.Contains(t, bodyStr, `"timestamp"`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))
}

func TestMetricsEndpoint(t *testing.T) {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	port := 9197

	// Touch a collector so /metrics has something to say
	RecordDecision("HOLD")

	server := NewServer(port, "1.0.0", log)
	require.NoError(t, server.Start())

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	bodyStr := string(body)
	assert.Contains(t, bodyStr, "# HELP")
	assert.Contains(t, bodyStr, "# TYPE")
	assert.Contains(t, bodyStr, "valor_decisions_total")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))
}

func TestServerShutdown(t *testing.T) {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	port := 9196

	server := NewServer(port, "1.0.0", log)
	require.NoError(t, server.Start())

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	time.Sleep(100 * time.Millisecond)
	resp2, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if resp2 != nil {
		resp2.Body.Close()
	}
	assert.Error(t, err) // server is stopped
}

func TestShutdownWithoutStart(t *testing.T) {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	server := NewServer(9195, "1.0.0", log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))
}
