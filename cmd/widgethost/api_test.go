// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufitools/widgethost/internal/loop"
	"github.com/ufitools/widgethost/internal/plugin"
	"github.com/ufitools/widgethost/internal/plugin/lua"
	"github.com/ufitools/widgethost/internal/view"
)

type apiHarness struct {
	mgr    *plugin.Manager
	frames *view.Latest
	srv    *httptest.Server
	inst   *plugin.Instance
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	l := loop.New()
	l.Start()
	t.Cleanup(l.Stop)

	root := t.TempDir()
	dir := writePlugin(t, root, "counter", counterManifest, counterScript)

	frames := view.NewLatest()
	mgr := plugin.NewManager(root, l,
		plugin.WithRuntime(lua.Extension, lua.NewRuntime()),
		plugin.WithRenderer(frames),
	)
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })

	dp, err := plugin.LoadDir(dir)
	require.NoError(t, err)
	inst, err := mgr.Register(context.Background(), dp)
	require.NoError(t, err)

	srv := httptest.NewServer(newAPI(mgr, frames, http.NotFoundHandler(), slog.Default()))
	t.Cleanup(srv.Close)
	return &apiHarness{mgr: mgr, frames: frames, srv: srv, inst: inst}
}

func (h *apiHarness) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAPI_ListPlugins(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodGet, "/api/plugins", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []pluginInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, pluginInfo{
		ID:      h.inst.ID(),
		Name:    "counter",
		Version: "1.0.0",
		Status:  "mounted",
		Shape:   "declarative",
		Methods: []string{"increment"},
		Text:    "mounted 0",
	}, got[0])
}

func TestAPI_CallMethod(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/api/plugins/"+h.inst.ID()+"/methods/increment", "[4]")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, http.MethodPost, "/api/plugins/"+h.inst.ID()+"/methods/increment", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	f, ok := h.frames.Frame(h.inst.ID())
	require.True(t, ok)
	assert.Equal(t, "mounted 5", f.Text)

	resp = h.do(t, http.MethodGet, "/api/frames", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CallErrors(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name     string
		path     string
		body     string
		status   int
		wantCode string
	}{
		{name: "unknown instance", path: "/api/plugins/nope/methods/increment", status: http.StatusNotFound, wantCode: plugin.CodePluginNotFound},
		{name: "unknown method", path: "/api/plugins/" + h.inst.ID() + "/methods/reset", status: http.StatusNotFound, wantCode: plugin.CodeMethodNotFound},
		{name: "bad body", path: "/api/plugins/" + h.inst.ID() + "/methods/increment", body: `{"by":1}`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}
}

func TestAPI_Masking(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodGet, "/api/masking", "")
	var body maskingBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Enabled)

	resp = h.do(t, http.MethodPut, "/api/masking", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, h.mgr.Masking())

	resp = h.do(t, http.MethodPut, "/api/masking", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Teardown(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodDelete, "/api/plugins/"+h.inst.ID(), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, plugin.StatusDestroyed, h.inst.Status())
	assert.Empty(t, h.mgr.Instances())

	resp = h.do(t, http.MethodDelete, "/api/plugins/"+h.inst.ID(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
