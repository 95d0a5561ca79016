package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/resistance-prophet-server/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHub(bufferSize int) *Hub {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewHub(domain.StreamConfig{BufferSize: bufferSize, WriteTimeout: time.Second}, nil, logger)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func assessment(id, patient string, level domain.RiskLevel) *domain.RiskAssessment {
	return &domain.RiskAssessment{
		ID:          id,
		PatientID:   patient,
		Level:       level,
		Probability: 0.8,
		Confidence:  0.6,
		Urgency:     domain.UrgencyUrgent,
		Actions:     []string{"Repeat CA-125"},
		AssessedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestHub_BroadcastsAlerts(t *testing.T) {
	hub := newTestHub(4)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(assessment("a-low", "p-1", domain.RiskLow))
	hub.Publish(nil)
	hub.Publish(assessment("a-high", "p-1", domain.RiskHigh))

	ev := readEvent(t, conn)
	assert.Equal(t, EventResistanceAlert, ev.Type)
	assert.Equal(t, "a-high", ev.AssessmentID)
	assert.Equal(t, domain.RiskHigh, ev.Level)
	assert.Equal(t, []string{"Repeat CA-125"}, ev.Actions)
}

func TestHub_PatientFilter(t *testing.T) {
	hub := newTestHub(4)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "?patient_id=p-2")
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(assessment("a-1", "p-1", domain.RiskHigh))
	hub.Publish(assessment("a-2", "p-2", domain.RiskMedium))

	ev := readEvent(t, conn)
	assert.Equal(t, "a-2", ev.AssessmentID)
	assert.Equal(t, "p-2", ev.PatientID)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub := newTestHub(4)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := newTestHub(1)
	slow := &client{id: "slow", send: make(chan []byte, 1), done: make(chan struct{})}
	hub.clients[slow] = struct{}{}

	hub.Publish(assessment("a-1", "p-1", domain.RiskHigh))
	assert.Equal(t, 1, hub.Clients())

	hub.Publish(assessment("a-2", "p-1", domain.RiskHigh))
	assert.Equal(t, 0, hub.Clients())

	select {
	case <-slow.done:
	default:
		t.Fatal("slow client was not stopped")
	}
	hub.Close()
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := newTestHub(4)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
	hub.Close()
}

func TestOriginChecker(t *testing.T) {
	req := httptest.NewRequest("GET", "/stream", nil)
	req.Header.Set("Origin", "https://evil.example")

	assert.True(t, originChecker(nil)(req))
	assert.True(t, originChecker([]string{"*"})(req))
	assert.False(t, originChecker([]string{"https://clinic.example"})(req))

	req.Header.Set("Origin", "https://clinic.example")
	assert.True(t, originChecker([]string{"https://clinic.example"})(req))
}
