// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package hostexec_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufitools/widgethost/internal/hostexec"
	"github.com/ufitools/widgethost/pkg/errutil"
)

func TestExecutor_Exec(t *testing.T) {
	e, err := hostexec.New()
	require.NoError(t, err)

	out, err := e.Exec(context.Background(), "echo hello; echo world")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", out)
}

func TestExecutor_NonZeroExit(t *testing.T) {
	e, err := hostexec.New()
	require.NoError(t, err)

	out, err := e.Exec(context.Background(), "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, "oops", out)
	errutil.AssertErrorCode(t, err, hostexec.CodeExecutionFailed)
	errutil.AssertErrorContext(t, err, "exit_code", 3)
}

func TestExecutor_Timeout(t *testing.T) {
	e, err := hostexec.New(hostexec.WithTimeout(50 * time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = e.Exec(context.Background(), "sleep 5")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, hostexec.CodeExecutionFailed)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecutor_DefaultDenyList(t *testing.T) {
	e, err := hostexec.New()
	require.NoError(t, err)

	tests := []struct {
		name    string
		command string
		denied  bool
	}{
		{name: "wipe root", command: "rm -rf /", denied: true},
		{name: "wipe root glob", command: "sudo rm -rf /*", denied: true},
		{name: "fork bomb", command: ":(){:|:&};:", denied: true},
		{name: "mkfs", command: "mkfs.ext4 /dev/mmcblk0", denied: true},
		{name: "dd", command: "dd if=/dev/zero of=/dev/mmcblk0", denied: true},
		{name: "chown recursive", command: "chown -R nobody /data", denied: true},
		{name: "harmless", command: "cat /proc/uptime", denied: false},
		{name: "rm in tmp", command: "rm -f /tmp/x", denied: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.denied, e.Denied(tt.command) != "")
		})
	}
}

func TestExecutor_DeniedCommandNotRun(t *testing.T) {
	e, err := hostexec.New(hostexec.WithDeniedPatterns([]string{"touch *"}))
	require.NoError(t, err)

	marker := t.TempDir() + "/marker"
	_, err = e.Exec(context.Background(), "touch "+marker)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, hostexec.CodeExecutionFailed)
	errutil.AssertErrorContext(t, err, "reason", hostexec.CodeCommandDenied)
	assert.NoFileExists(t, marker)
}

func TestExecutor_EmptyCommand(t *testing.T) {
	e, err := hostexec.New()
	require.NoError(t, err)

	_, err = e.Exec(context.Background(), "   ")
	errutil.AssertErrorCode(t, err, hostexec.CodeExecutionFailed)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := hostexec.New(hostexec.WithTimeout(0))
	assert.Error(t, err)

	_, err = hostexec.New(hostexec.WithShell(""))
	assert.Error(t, err)

	_, err = hostexec.New(hostexec.WithDeniedPatterns([]string{"[unclosed"}))
	assert.Error(t, err)
}
