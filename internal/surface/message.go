// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package surface

import (
	"encoding/json"
	"errors"

	"github.com/samber/oops"
	"github.com/tidwall/gjson"

	"github.com/ufitools/widgethost/internal/telemetry"
)

// MessageKind tags a message on the surface channel.
type MessageKind string

// The only two message kinds exchanged with a surface.
const (
	KindTelemetryUpdate MessageKind = "telemetry-update"
	KindSurfaceClose    MessageKind = "surface-close"
)

// ErrUnknownKind is returned by Decode for any other kind. Receivers ignore
// such messages.
var ErrUnknownKind = errors.New("unknown message kind")

// Message is a message exchanged between the host and a surface. The set of
// implementations is closed.
type Message interface {
	Kind() MessageKind
	isMessage()
}

// TelemetryUpdate carries one sample from the host to the surface.
type TelemetryUpdate struct {
	Payload telemetry.Sample
}

// Kind implements Message.
func (TelemetryUpdate) Kind() MessageKind { return KindTelemetryUpdate }
func (TelemetryUpdate) isMessage()        {}

// SurfaceClose is sent by the surface when its own close control is used.
type SurfaceClose struct{}

// Kind implements Message.
func (SurfaceClose) Kind() MessageKind { return KindSurfaceClose }
func (SurfaceClose) isMessage()        {}

type envelope struct {
	Kind    MessageKind       `json:"kind"`
	Payload *telemetry.Sample `json:"payload,omitempty"`
}

// Encode serializes m as {"kind": ..., "payload": ...}.
func Encode(m Message) ([]byte, error) {
	env := envelope{Kind: m.Kind()}
	if u, ok := m.(TelemetryUpdate); ok {
		env.Payload = &u.Payload
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, oops.In("surface").With("kind", string(m.Kind())).Wrap(err)
	}
	return data, nil
}

// Decode parses a message. Unknown kinds yield ErrUnknownKind.
func Decode(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, oops.In("surface").Errorf("message is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	switch MessageKind(doc.Get("kind").String()) {
	case KindSurfaceClose:
		return SurfaceClose{}, nil
	case KindTelemetryUpdate:
		payload := doc.Get("payload")
		if !payload.Exists() || payload.Type == gjson.Null {
			return TelemetryUpdate{}, nil
		}
		sample, err := telemetry.Decode([]byte(payload.Raw))
		if err != nil {
			return nil, err
		}
		return TelemetryUpdate{Payload: sample}, nil
	default:
		return nil, ErrUnknownKind
	}
}
