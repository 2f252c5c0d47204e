// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package surface_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ufitools/widgethost/internal/surface"
	"github.com/ufitools/widgethost/internal/telemetry"
)

func newWebProvider(t *testing.T) (*surface.WebProvider, *httptest.Server) {
	t.Helper()
	p := surface.NewWebProvider(slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(p)
	t.Cleanup(func() {
		p.Close()
		srv.Close()
	})
	return p, srv
}

// verifyNoLeaks checks for leaked goroutines after every other cleanup,
// including the test server's, has run.
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })
}

func wsURL(srv *httptest.Server, id string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + surface.ChannelPath(id)
}

func receive(t *testing.T, rc surface.RenderContext) surface.Message {
	t.Helper()
	select {
	case m, ok := <-rc.Inbound():
		require.True(t, ok, "inbound closed")
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no inbound message")
		return nil
	}
}

func TestWebProviderServesDocument(t *testing.T) {
	p, srv := newWebProvider(t)
	_, err := p.Create(context.Background(), "s1", []byte("<html>dash</html>"))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/surfaces/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>dash</html>", string(body))

	missing, err := http.Get(srv.URL + "/surfaces/other")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestWebProviderRejectsDuplicateID(t *testing.T) {
	p, _ := newWebProvider(t)
	_, err := p.Create(context.Background(), "s1", nil)
	require.NoError(t, err)
	_, err = p.Create(context.Background(), "s1", nil)
	assert.Error(t, err)
}

func TestWebChannelExchangesMessages(t *testing.T) {
	verifyNoLeaks(t)

	p, srv := newWebProvider(t)
	ctx := context.Background()
	rc, err := p.Create(ctx, "s1", []byte("<html></html>"))
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	t.Run("host to surface", func(t *testing.T) {
		require.NoError(t, rc.Post(ctx, surface.TelemetryUpdate{
			Payload: telemetry.NewSample(map[string]any{"rsrp": -90.0}),
		}))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, readErr := conn.ReadMessage()
		require.NoError(t, readErr)

		msg, decodeErr := surface.Decode(data)
		require.NoError(t, decodeErr)
		update, ok := msg.(surface.TelemetryUpdate)
		require.True(t, ok)
		v, _ := update.Payload.Float(telemetry.FieldRSRP)
		assert.InDelta(t, -90.0, v, 0)
	})

	t.Run("second connection is refused", func(t *testing.T) {
		_, resp, dialErr := websocket.DefaultDialer.Dial(wsURL(srv, "s1"), nil)
		require.ErrorIs(t, dialErr, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("surface to host skips unknown kinds", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"resize"}`)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"surface-close"}`)))
		assert.Equal(t, surface.KindSurfaceClose, receive(t, rc).Kind())
	})

	t.Run("host removal closes the socket", func(t *testing.T) {
		require.NoError(t, rc.Remove())
		require.NoError(t, rc.Remove())
		assert.False(t, rc.Exists())
		assert.ErrorIs(t, rc.Post(ctx, surface.SurfaceClose{}), surface.ErrContextRemoved)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, readErr := conn.ReadMessage()
		var closeErr *websocket.CloseError
		require.True(t, errors.As(readErr, &closeErr), "got %v", readErr)
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	})
}

func TestWebChannelBrowserDisconnectRemovesContext(t *testing.T) {
	verifyNoLeaks(t)

	p, srv := newWebProvider(t)
	rc, err := p.Create(context.Background(), "s2", nil)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "s2"), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return !rc.Exists() }, 5*time.Second, 10*time.Millisecond)
	_, open := <-rc.Inbound()
	assert.False(t, open)

	resp, err := http.Get(srv.URL + "/surfaces/s2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
