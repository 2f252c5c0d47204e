// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Stdout(t *testing.T) {
	stdout, _, err := execute(t, "schema")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Contains(t, doc, "properties")
}

func TestSchema_File(t *testing.T) {
	out := filepath.Join(t.TempDir(), "schemas", "plugin.schema.json")
	stdout, _, err := execute(t, "schema", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Generated "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}
