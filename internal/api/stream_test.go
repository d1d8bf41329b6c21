package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valortrade/valor/internal/events"
)

func dialStream(t *testing.T, s *Server) (*websocket.Conn, *httptest.Server) {
	t.Helper()

	ts := httptest.NewServer(s.Handler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, ts
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == want
	}, time.Second, 5*time.Millisecond)
}

func testEnvelope(subject string) events.Envelope {
	return events.Envelope{
		ID:        uuid.New(),
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   json.RawMessage(`{"position_id":"p_1"}`),
	}
}

func TestStreamRelaysEnvelopes(t *testing.T) {
	s, _ := newTestServer(t)
	go s.hub.Run()
	defer s.hub.Stop()

	conn, ts := dialStream(t, s)
	defer ts.Close()
	defer conn.Close()

	waitForClients(t, s.hub, 1)
	s.hub.Broadcast(testEnvelope(events.SubjectPositionOpened))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, events.SubjectPositionOpened, env.Subject)
	assert.JSONEq(t, `{"position_id":"p_1"}`, string(env.Payload))
}

func TestStreamFansOutToAllClients(t *testing.T) {
	s, _ := newTestServer(t)
	go s.hub.Run()
	defer s.hub.Stop()

	first, ts := dialStream(t, s)
	defer ts.Close()
	defer first.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()

	waitForClients(t, s.hub, 2)
	s.hub.Broadcast(testEnvelope(events.SubjectSettlementApplied))

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var env events.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, events.SubjectSettlementApplied, env.Subject)
	}
}

func TestStreamStopDisconnectsClients(t *testing.T) {
	s, _ := newTestServer(t)
	go s.hub.Run()

	conn, ts := dialStream(t, s)
	defer ts.Close()
	defer conn.Close()

	waitForClients(t, s.hub, 1)
	s.hub.Stop()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestStreamDropsSlowConsumer(t *testing.T) {
	s, _ := newTestServer(t)
	go s.hub.Run()
	defer s.hub.Stop()

	conn, ts := dialStream(t, s)
	defer ts.Close()
	defer conn.Close()

	waitForClients(t, s.hub, 1)

	// Never read; once the send buffer fills the hub must evict the
	// client instead of blocking delivery for everyone else.
	env := testEnvelope(events.SubjectSystemStatus)
	for i := 0; i < 600; i++ {
		s.hub.Broadcast(env)
	}

	require.Eventually(t, func() bool {
		return s.hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
