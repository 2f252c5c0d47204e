// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package view renders plugin templates against an observable state store
// and redraws only the interpolations whose inputs changed.
//
// Templates are literal text with {{ expr }} interpolations:
//
//	RSRP {{ info.rsrp || "N/A" }} dBm, ICCID {{ info.iccid | mask }}
package view

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/ufitools/widgethost/internal/telemetry"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

var maskKinds = map[string]telemetry.MaskKind{
	"iccid":   telemetry.MaskICCID,
	"imei":    telemetry.MaskIMEI,
	"address": telemetry.MaskAddress,
}

// Segment is either literal text or an interpolation.
type Segment struct {
	Text string
	Expr *Expr
}

// Template is a parsed view template.
type Template struct {
	Source   string
	Segments []Segment
}

// Parse splits src into literal and interpolation segments and parses each
// interpolation.
func Parse(src string) (*Template, error) {
	t := &Template{Source: src}
	rest := src
	offset := 0
	for rest != "" {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			t.Segments = append(t.Segments, Segment{Text: rest})
			break
		}
		if start > 0 {
			t.Segments = append(t.Segments, Segment{Text: rest[:start]})
		}
		body := rest[start+len(openDelim):]
		end := strings.Index(body, closeDelim)
		if end < 0 {
			return nil, oops.In("view").
				With("offset", offset+start).
				Errorf("unterminated %q in template", openDelim)
		}
		exprSrc := strings.TrimSpace(body[:end])
		expr, err := ParseExpr(exprSrc)
		if err != nil {
			return nil, oops.In("view").
				With("offset", offset+start).
				With("expr", exprSrc).
				Wrapf(err, "parsing template expression")
		}
		t.Segments = append(t.Segments, Segment{Expr: expr})

		consumed := start + len(openDelim) + end + len(closeDelim)
		offset += consumed
		rest = rest[consumed:]
	}
	return t, nil
}

// Exprs returns the interpolations in order of appearance.
func (t *Template) Exprs() []*Expr {
	var out []*Expr
	for _, s := range t.Segments {
		if s.Expr != nil {
			out = append(out, s.Expr)
		}
	}
	return out
}

// Lookup resolves a dotted path against state.
type Lookup func(path string) (any, bool)

// Eval renders expr. Missing values fall back to the literal or "".
func (e *Expr) Eval(lookup Lookup, masking bool) string {
	raw, ok := lookup(e.Path.String())
	var s string
	if ok && raw != nil {
		s = format(raw)
	}
	present := ok && raw != nil
	if !present {
		s = e.Fallback.Value()
	}

	for _, f := range e.Filters {
		switch f.Name {
		case "upper":
			s = strings.ToUpper(s)
		case "lower":
			s = strings.ToLower(s)
		case "default":
			if s == "" {
				s = f.Args[0].Value()
			}
		case "mask":
			if !masking || !present {
				continue
			}
			kind := telemetry.KindFor(e.Path.Leaf())
			if len(f.Args) == 1 {
				kind = maskKinds[f.Args[0].Value()]
			}
			if kind != telemetry.MaskNone {
				s = telemetry.Mask(kind, s)
			}
		}
	}
	return s
}

func format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case int, int64, int32, uint, uint64, uint32:
		return fmt.Sprint(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
