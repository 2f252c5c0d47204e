// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package surface

import (
	"bytes"
	"embed"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

//go:embed bundles/*.html
var builtinBundles embed.FS

// BundleData is injected into a bundle before it is served.
type BundleData struct {
	SurfaceID   string
	ChannelPath string
	Title       string
	Masking     bool
}

// Bundle is a self-contained document (markup plus inline behaviour) that a
// surface renders.
type Bundle struct {
	Name string
	tmpl *template.Template
}

// ParseBundle parses src as an html/template bundle.
func ParseBundle(name string, src []byte) (Bundle, error) {
	tmpl, err := template.New(name).Parse(string(src))
	if err != nil {
		return Bundle{}, oops.In("surface").With("bundle", name).Wrapf(err, "parsing bundle")
	}
	return Bundle{Name: name, tmpl: tmpl}, nil
}

// Builtin returns a bundle shipped with the binary.
func Builtin(name string) (Bundle, error) {
	src, err := builtinBundles.ReadFile("bundles/" + name + ".html")
	if err != nil {
		return Bundle{}, oops.In("surface").With("bundle", name).Errorf("no built-in bundle %q", name)
	}
	return ParseBundle(name, src)
}

// LoadBundle resolves a manifest bundle reference: a built-in name, or a path
// to an .html file inside dir.
func LoadBundle(dir, ref string) (Bundle, error) {
	if !strings.HasSuffix(ref, ".html") {
		return Builtin(ref)
	}
	if filepath.IsAbs(ref) || !filepath.IsLocal(ref) {
		return Bundle{}, oops.In("surface").With("bundle", ref).Errorf("bundle path must stay inside the plugin directory")
	}
	path := filepath.Join(dir, ref)
	src, err := os.ReadFile(path) //nolint:gosec // path is checked to be local to the plugin dir
	if err != nil {
		return Bundle{}, oops.In("surface").With("bundle", ref).With("path", path).Wrap(err)
	}
	return ParseBundle(ref, src)
}

// Render executes the bundle with data.
func (b Bundle) Render(data BundleData) ([]byte, error) {
	if b.tmpl == nil {
		return nil, oops.In("surface").Errorf("bundle is empty")
	}
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return nil, oops.In("surface").With("bundle", b.Name).Wrapf(err, "rendering bundle")
	}
	return buf.Bytes(), nil
}
