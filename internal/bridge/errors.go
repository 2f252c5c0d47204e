// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package bridge

import (
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/ufitools/widgethost/internal/hostexec"
	"github.com/ufitools/widgethost/internal/store"
	"github.com/ufitools/widgethost/internal/telemetry"
	"github.com/ufitools/widgethost/pkg/errutil"
)

// Capability failure codes.
const (
	CodeUnreachable      = telemetry.CodeUnreachable
	CodeInvalidResponse  = telemetry.CodeInvalidResponse
	CodeExecutionFailed  = hostexec.CodeExecutionFailed
	CodeStorageFailed    = store.CodeStorageFailed
	CodeCapabilityDenied = "CAPABILITY_DENIED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInternal         = "INTERNAL"
)

// CapabilityError is the failure result of one capability call. It is
// returned, never raised: the plugin method that issued the call decides
// what to do with it.
type CapabilityError struct {
	Code   string
	Kind   Kind
	Plugin string
	Err    error
}

func (e *CapabilityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Plugin, e.Kind, e.Code)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Plugin, e.Kind, e.Code, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// CodeOf returns the capability failure code of err, or "" when err is not a
// capability failure.
func CodeOf(err error) string {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err is a capability failure with code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

func (b *Bridge) fail(kind Kind, code string, cause error) error {
	return &CapabilityError{
		Code:   code,
		Kind:   kind,
		Plugin: b.plugin,
		Err: oops.In("bridge").
			With("plugin", b.plugin).
			With("kind", string(kind)).
			Wrap(cause),
	}
}

func (b *Bridge) failf(kind Kind, code, format string, args ...any) error {
	return b.fail(kind, code, oops.Code(code).Errorf(format, args...))
}

// classify maps a collaborator error onto the capability taxonomy. A nil err
// yields the default failure code of kind.
func classify(kind Kind, err error) string {
	code := errutil.Code(err)
	switch kind {
	case KindFetch:
		if code == CodeInvalidResponse {
			return CodeInvalidResponse
		}
		return CodeUnreachable
	case KindExec:
		return CodeExecutionFailed
	case KindStorageGet, KindStorageSet, KindStorageRemove:
		switch code {
		case store.CodeInvalidKey, store.CodeValueTooLarge:
			return CodeInvalidRequest
		}
		return CodeStorageFailed
	default:
		return CodeInternal
	}
}
