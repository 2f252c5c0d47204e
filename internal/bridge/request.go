// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package bridge

import (
	"time"

	"github.com/ufitools/widgethost/internal/loop"
	"github.com/ufitools/widgethost/internal/notify"
	"github.com/ufitools/widgethost/internal/telemetry"
)

// Kind names a capability operation.
type Kind string

// Capability operations.
const (
	KindFetch         Kind = "fetch"
	KindExec          Kind = "exec"
	KindStorageGet    Kind = "storageGet"
	KindStorageSet    Kind = "storageSet"
	KindStorageRemove Kind = "storageRemove"
	KindNotify        Kind = "notify"
	KindScheduleTimer Kind = "scheduleTimer"
)

// Request is one capability call. Only the fields relevant to Kind are read.
type Request struct {
	Kind Kind

	Path    string // fetch
	Command string // exec

	Key   string // storage*
	Value []byte // storageSet

	Message  string          // notify
	Severity notify.Severity // notify

	Callback loop.Task     // scheduleTimer
	Interval time.Duration // scheduleTimer
}

// FetchRequest builds a fetch request.
func FetchRequest(path string) Request {
	return Request{Kind: KindFetch, Path: path}
}

// ExecRequest builds an exec request.
func ExecRequest(command string) Request {
	return Request{Kind: KindExec, Command: command}
}

// StorageGetRequest builds a storageGet request.
func StorageGetRequest(key string) Request {
	return Request{Kind: KindStorageGet, Key: key}
}

// StorageSetRequest builds a storageSet request.
func StorageSetRequest(key string, value []byte) Request {
	return Request{Kind: KindStorageSet, Key: key, Value: value}
}

// StorageRemoveRequest builds a storageRemove request.
func StorageRemoveRequest(key string) Request {
	return Request{Kind: KindStorageRemove, Key: key}
}

// NotifyRequest builds a notify request.
func NotifyRequest(message string, severity notify.Severity) Request {
	return Request{Kind: KindNotify, Message: message, Severity: severity}
}

// ScheduleTimerRequest builds a scheduleTimer request.
func ScheduleTimerRequest(callback loop.Task, interval time.Duration) Request {
	return Request{Kind: KindScheduleTimer, Callback: callback, Interval: interval}
}

// Result is the success value of a capability call.
type Result struct {
	Sample telemetry.Sample // fetch
	Output string           // exec
	Value  []byte           // storageGet; nil when absent
	Found  bool             // storageGet
	Timer  *TimerHandle     // scheduleTimer
}
