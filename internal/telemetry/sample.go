// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package telemetry defines the telemetry sample, the display masking
// transform for identifier fields and the host-side sources that produce
// samples for the fetch capability.
package telemetry

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"

	"github.com/samber/oops"
	"github.com/tidwall/gjson"
)

// Signal metrics.
const (
	FieldRSRP           = "rsrp"
	FieldRSRQ           = "rsrq"
	FieldSINR           = "sinr"
	FieldSignalStrength = "signal_strength"
)

// Network identity.
const (
	FieldCarrier     = "carrier"
	FieldNetworkType = "network_type"
	FieldBand        = "band"
	FieldIMEI        = "imei"
	FieldICCID       = "iccid"
	FieldIPv6        = "ipv6_addr"
	FieldIPv4        = "ipv4_addr"
	FieldMAC         = "mac_addr"
)

// Resource metrics.
const (
	FieldCPUUsage    = "cpu_usage"
	FieldThermalTemp = "thermal_temp"
	FieldTotalRAM    = "total_ram"
	FieldFreeRAM     = "free_ram"
)

// Traffic metrics.
const (
	FieldUplinkRate   = "uplink_rate"
	FieldDownlinkRate = "downlink_rate"
)

// Device identity.
const (
	FieldMachine         = "machine"
	FieldVersion         = "version"
	FieldBatteryCapacity = "battery_capacity"
	FieldQCI             = "qci"
)

// Sample is one poll's flat snapshot of device metrics. A Sample is
// immutable: the constructor copies its input and accessors never expose the
// backing map.
type Sample struct {
	fields map[string]any
}

// NewSample copies fields into a new Sample. Nested maps and slices are
// dropped; samples are flat.
func NewSample(fields map[string]any) Sample {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		out[k] = v
	}
	return Sample{fields: out}
}

// Decode parses a JSON object into a Sample. Only top-level scalar members
// are kept. A body that is not a JSON object fails with INVALID_RESPONSE.
func Decode(body []byte) (Sample, error) {
	if !gjson.ValidBytes(body) {
		return Sample{}, oops.In("telemetry").Code(CodeInvalidResponse).
			Errorf("response is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return Sample{}, oops.In("telemetry").Code(CodeInvalidResponse).
			With("type", doc.Type.String()).
			Errorf("response is not a JSON object")
	}

	fields := make(map[string]any)
	doc.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.String:
			fields[key.String()] = value.String()
		case gjson.Number:
			fields[key.String()] = value.Float()
		case gjson.True, gjson.False:
			fields[key.String()] = value.Bool()
		case gjson.Null:
			fields[key.String()] = nil
		}
		return true
	})
	return Sample{fields: fields}, nil
}

// Get returns the raw value of a field.
func (s Sample) Get(field string) (any, bool) {
	v, ok := s.fields[field]
	return v, ok
}

// String renders a field as text. Missing or null fields yield ("", false).
func (s Sample) String(field string) (string, bool) {
	v, ok := s.fields[field]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// Float returns a numeric field. Numeric strings are parsed.
func (s Sample) Float(field string) (float64, bool) {
	switch t := s.fields[field].(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Fields returns the field names in sorted order.
func (s Sample) Fields() []string {
	return slices.Sorted(maps.Keys(s.fields))
}

// Len reports the number of fields.
func (s Sample) Len() int { return len(s.fields) }

// Map returns a copy of the sample's fields.
func (s Sample) Map() map[string]any {
	return maps.Clone(s.fields)
}

// Merge returns a new sample with other's fields layered over s.
func (s Sample) Merge(other Sample) Sample {
	out := make(map[string]any, len(s.fields)+len(other.fields))
	maps.Copy(out, s.fields)
	maps.Copy(out, other.fields)
	return Sample{fields: out}
}

// MarshalJSON encodes the sample as a flat JSON object.
func (s Sample) MarshalJSON() ([]byte, error) {
	if s.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.fields)
}

// UnmarshalJSON decodes a flat JSON object.
func (s *Sample) UnmarshalJSON(b []byte) error {
	decoded, err := Decode(b)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}
