// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ufitools/widgethost/internal/plugin"
	"github.com/ufitools/widgethost/internal/view"
	"github.com/ufitools/widgethost/pkg/errutil"
)

// maxArgsBytes caps a method call body.
const maxArgsBytes = 64 << 10

// pluginInfo is the JSON view of a running instance.
type pluginInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Status  string   `json:"status"`
	Shape   string   `json:"shape"`
	Methods []string `json:"methods"`
	Text    string   `json:"text"`
	Surface string   `json:"surface,omitempty"`
}

type api struct {
	mgr    *plugin.Manager
	logger *slog.Logger
}

// newAPI routes the dashboard API, the latest frames and the surface
// documents and channels.
func newAPI(mgr *plugin.Manager, frames *view.Latest, surfaces http.Handler, logger *slog.Logger) http.Handler {
	a := &api{mgr: mgr, logger: logger}
	mux := http.NewServeMux()
	mux.Handle("GET /api/frames", frames)
	mux.HandleFunc("GET /api/plugins", a.listPlugins)
	mux.HandleFunc("POST /api/plugins/{id}/methods/{method}", a.callMethod)
	mux.HandleFunc("DELETE /api/plugins/{id}", a.teardown)
	mux.HandleFunc("GET /api/masking", a.getMasking)
	mux.HandleFunc("PUT /api/masking", a.putMasking)
	mux.Handle("/surfaces/", surfaces)
	return mux
}

func (a *api) listPlugins(w http.ResponseWriter, _ *http.Request) {
	instances := a.mgr.Instances()
	out := make([]pluginInfo, 0, len(instances))
	for _, inst := range instances {
		info := pluginInfo{
			ID:      inst.ID(),
			Name:    inst.Name(),
			Version: inst.Manifest().Version,
			Status:  inst.Status().String(),
			Shape:   inst.Shape().String(),
			Methods: inst.Methods(),
			Text:    inst.Text(),
		}
		if s, ok := inst.Surface(); ok {
			info.Surface = s.ID()
		}
		out = append(out, info)
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *api) callMethod(w http.ResponseWriter, r *http.Request) {
	var args []any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxArgsBytes))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("body must be a JSON array of arguments"))
			return
		}
	}

	if err := a.mgr.Call(r.Context(), r.PathValue("id"), r.PathValue("method"), args...); err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) teardown(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := a.mgr.Get(id); !ok {
		a.writeError(w, http.StatusNotFound, errors.New("plugin instance not found"))
		return
	}
	if err := a.mgr.Teardown(r.Context(), id); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type maskingBody struct {
	Enabled bool `json:"enabled"`
}

func (a *api) getMasking(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, maskingBody{Enabled: a.mgr.Masking()})
}

func (a *api) putMasking(w http.ResponseWriter, r *http.Request) {
	var body maskingBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxArgsBytes)).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.mgr.SetMasking(r.Context(), body.Enabled); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, body)
}

func statusFor(err error) int {
	switch errutil.Code(err) {
	case plugin.CodePluginNotFound, plugin.CodeMethodNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("failed to write response", "error", err)
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	if code := errutil.Code(err); code != "" {
		body["code"] = code
	}
	a.writeJSON(w, status, body)
}
