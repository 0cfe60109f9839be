package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/maxpert/headcount/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWatchSocket_StreamsChanges(t *testing.T) {
	hub := notify.NewHub()
	srv := httptest.NewServer(newTestMux(Components{Changes: hub}, "s3cret"))
	defer srv.Close()

	header := http.Header{}
	header.Set(SecretHeader, "s3cret")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/admin/ws?topic=people/count"), header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return hub.Watchers() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Signal(notify.Change{Topic: "cars/count", Value: 9})
	hub.Signal(notify.Change{Topic: "people/count", Value: 4})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var change notify.Change
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, "people/count", change.Topic)
	assert.Equal(t, int64(4), change.Value)

	// Closing the hub ends the stream with a going-away close frame
	hub.Close()
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}

func TestWatchSocket_ClientDisconnectReleasesWatcher(t *testing.T) {
	hub := notify.NewHub()
	srv := httptest.NewServer(newTestMux(Components{Changes: hub}, ""))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/admin/ws"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Watchers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return hub.Watchers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchSocket_RequiresSecret(t *testing.T) {
	srv := httptest.NewServer(newTestMux(Components{Changes: notify.NewHub()}, "s3cret"))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/admin/ws"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWatchSocket_NotAvailableWithoutSubscriber(t *testing.T) {
	srv := httptest.NewServer(newTestMux(Components{Role: "publisher"}, ""))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/admin/ws"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
