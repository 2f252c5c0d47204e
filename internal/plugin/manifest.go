// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package plugin loads widget plugins and runs their lifecycle.
package plugin

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/ufitools/widgethost/pkg/errutil"
)

// CodeMalformedManifest marks a plugin that cannot be loaded as declared.
// Only that plugin fails; others keep loading.
const CodeMalformedManifest = "MALFORMED_MANIFEST"

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name        string `yaml:"name" json:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version     string `yaml:"version" json:"version"`
	Author      string `yaml:"author,omitempty" json:"author,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Icon        string `yaml:"icon,omitempty" json:"icon,omitempty"`

	// Template is an inline view template; View names a template file in
	// the plugin directory. Exactly one is set.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
	View     string `yaml:"view,omitempty" json:"view,omitempty"`

	// Entry is the script (or builtin:<name>) defining state and methods.
	Entry        string         `yaml:"entry" json:"entry"`
	Capabilities []string       `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Surface      *SurfaceConfig `yaml:"surface,omitempty" json:"surface,omitempty"`
}

// SurfaceConfig declares a full-surface plugin.
type SurfaceConfig struct {
	// Bundle is a built-in bundle name or an .html file in the plugin dir.
	Bundle        string `yaml:"bundle" json:"bundle"`
	TelemetryPath string `yaml:"telemetry_path" json:"telemetry_path"`
	// Interval is a Go duration string such as "1s".
	Interval string `yaml:"interval" json:"interval"`
	// CloseUnmounts tears the owning instance down when its surface closes.
	CloseUnmounts bool `yaml:"close_unmounts,omitempty" json:"close_unmounts,omitempty"`
}

// Period returns the parsed polling interval.
func (s *SurfaceConfig) Period() (time.Duration, error) {
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

func malformed(name string) oops.OopsErrorBuilder {
	return oops.In("plugin").Code(CodeMalformedManifest).With("plugin", name)
}

// IsMalformed reports whether err rejected a plugin at load time.
func IsMalformed(err error) bool {
	return errutil.HasCode(err, CodeMalformedManifest)
}

// ParseManifest checks data against the manifest schema, then decodes and
// validates it.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, malformed("").Errorf("manifest data is empty")
	}
	if err := ValidateSchema(data); err != nil {
		return nil, malformed("").Wrap(err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, malformed("").Wrapf(err, "invalid YAML")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return malformed(m.Name).Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return malformed(m.Name).Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return malformed(m.Name).Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return malformed(m.Name).With("version", m.Version).Wrapf(err, "version is not semver")
	}

	if m.Entry == "" {
		return malformed(m.Name).Errorf("entry is required")
	}
	if !strings.HasPrefix(m.Entry, builtinPrefix) && !filepath.IsLocal(m.Entry) {
		return malformed(m.Name).With("entry", m.Entry).Errorf("entry must stay inside the plugin directory")
	}

	switch {
	case m.Template == "" && m.View == "":
		return malformed(m.Name).Errorf("one of template or view is required")
	case m.Template != "" && m.View != "":
		return malformed(m.Name).Errorf("template and view are mutually exclusive")
	case m.View != "" && !filepath.IsLocal(m.View):
		return malformed(m.Name).With("view", m.View).Errorf("view must stay inside the plugin directory")
	}

	if m.Surface != nil {
		if err := m.Surface.validate(m.Name); err != nil {
			return err
		}
	}

	return nil
}

func (s *SurfaceConfig) validate(name string) error {
	if s.Bundle == "" {
		return malformed(name).Errorf("surface.bundle is required")
	}
	if !strings.HasPrefix(s.TelemetryPath, "/") {
		return malformed(name).With("telemetry_path", s.TelemetryPath).Errorf("surface.telemetry_path must be an absolute resource path")
	}
	if _, err := s.Period(); err != nil {
		return malformed(name).With("interval", s.Interval).Wrapf(err, "surface.interval is invalid")
	}
	return nil
}
