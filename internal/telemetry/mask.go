// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package telemetry

import (
	"sync/atomic"
)

// Placeholder replaces the masked interior of an identifier.
const Placeholder = "****"

// Empty is displayed for identifier fields with no value.
const Empty = "-"

// MaskKind selects the masking rule for an identifier.
type MaskKind int

// Masking rules.
const (
	// MaskNone leaves the value untouched.
	MaskNone MaskKind = iota
	// MaskICCID keeps the first 4 and last 4 characters.
	MaskICCID
	// MaskIMEI keeps the first 3 and last 2 characters.
	MaskIMEI
	// MaskAddress keeps the first 4 and last 4 characters, joined with ":****:".
	MaskAddress
)

type maskRule struct {
	keepHead int
	keepTail int
	join     string
}

var maskRules = map[MaskKind]maskRule{
	MaskICCID:   {keepHead: 4, keepTail: 4, join: Placeholder},
	MaskIMEI:    {keepHead: 3, keepTail: 2, join: Placeholder},
	MaskAddress: {keepHead: 4, keepTail: 4, join: ":" + Placeholder + ":"},
}

// identifierKinds maps identifier fields to their masking rule.
var identifierKinds = map[string]MaskKind{
	FieldICCID: MaskICCID,
	FieldIMEI:  MaskIMEI,
	FieldIPv6:  MaskAddress,
	FieldIPv4:  MaskAddress,
	FieldMAC:   MaskAddress,
}

// KindFor returns the masking rule for a field name, MaskNone for
// non-identifier fields.
func KindFor(field string) MaskKind {
	return identifierKinds[field]
}

// Mask applies a masking rule to value. Empty values render as "-". Values
// too short to keep both ends with at least one hidden character are fully
// replaced by the placeholder.
func Mask(kind MaskKind, value string) string {
	if value == "" {
		return Empty
	}
	rule, ok := maskRules[kind]
	if !ok {
		return value
	}
	runes := []rune(value)
	if len(runes) <= rule.keepHead+rule.keepTail {
		return Placeholder
	}
	return string(runes[:rule.keepHead]) + rule.join + string(runes[len(runes)-rule.keepTail:])
}

// Masker holds the display-wide "masking enabled" flag.
//
// Masker is safe for concurrent use. The zero value has masking disabled.
type Masker struct {
	enabled atomic.Bool
}

// NewMasker creates a masker with the given initial flag.
func NewMasker(enabled bool) *Masker {
	m := &Masker{}
	m.enabled.Store(enabled)
	return m
}

// Enabled reports the current flag.
func (m *Masker) Enabled() bool { return m.enabled.Load() }

// SetEnabled updates the flag.
func (m *Masker) SetEnabled(enabled bool) { m.enabled.Store(enabled) }

// Display renders field from sample for display, masking identifier fields
// when masking is enabled. Missing identifier fields render as "-".
func (m *Masker) Display(sample Sample, field string) string {
	v, ok := sample.String(field)
	kind := KindFor(field)
	if kind == MaskNone {
		return v
	}
	if !ok || v == "" {
		return Empty
	}
	if !m.Enabled() {
		return v
	}
	return Mask(kind, v)
}
