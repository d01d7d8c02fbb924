package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/eventbus"
)

func TestStreamStatusRelaysPublishedEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/status"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.bus.SubscriberCount(eventbus.TopicStatus) == 1 }, time.Second, time.Millisecond)

	srv.SetStatus(coremodel.MonitorStatus{Status: coremodel.HealthOK, NodesTotal: 2})

	var got coremodel.MonitorStatus
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, coremodel.HealthOK, got.Status)
	require.Equal(t, 2, got.NodesTotal)
}

func TestStreamLogsRejectsDisallowedOrigin(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/logs"
	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestStreamReportsClosesWhenClientDisconnects(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/reports"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.bus.SubscriberCount(eventbus.TopicReports) == 1 }, time.Second, time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return srv.bus.SubscriberCount(eventbus.TopicReports) == 0 }, time.Second, time.Millisecond)
}
