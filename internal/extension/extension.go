// Package extension reads the source side of an extension build: the
// source manifest, the script entry points it names and the static files
// copied to the output as they are.
package extension

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/goatkit/extreload/pkg/manifest"
)

// ManifestFile is the manifest file name inside the source directory.
const ManifestFile = "manifest.json"

// scriptExts are rewritten to .js in the output manifest.
var scriptExts = map[string]bool{
	".ts":  true,
	".tsx": true,
	".jsx": true,
	".mjs": true,
}

// Input is a loaded extension source directory.
type Input struct {
	Dir      string
	Manifest *manifest.Manifest
}

// Load reads and validates the manifest in dir.
func Load(dir string) (*Input, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read source manifest: %w", err)
	}
	if err := manifest.Validate(data); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Join(dir, ManifestFile), err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	return &Input{Dir: dir, Manifest: m}, nil
}

// EntryPoints lists the scripts to bundle, relative to Dir: background
// scripts first, then content script js, each path once.
func (in *Input) EntryPoints() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		p = path.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	if bg := in.Manifest.Background; bg != nil {
		for _, s := range bg.Scripts {
			add(s)
		}
	}
	for _, cs := range in.Manifest.ContentScripts {
		for _, s := range cs.JS {
			add(s)
		}
	}
	return out
}

// StaticFiles lists the files copied verbatim, relative to Dir.
func (in *Input) StaticFiles() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		p = path.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	if bg := in.Manifest.Background; bg != nil && bg.Page != "" {
		add(bg.Page)
	}
	for _, cs := range in.Manifest.ContentScripts {
		for _, s := range cs.CSS {
			add(s)
		}
	}
	return out
}

// ReadStatic returns the contents of every static file keyed by its
// relative path.
func (in *Input) ReadStatic() (map[string][]byte, error) {
	files := make(map[string][]byte)
	for _, name := range in.StaticFiles() {
		data, err := os.ReadFile(filepath.Join(in.Dir, filepath.FromSlash(name)))
		if err != nil {
			return nil, fmt.Errorf("read static file: %w", err)
		}
		files[name] = data
	}
	return files, nil
}

// OutputManifest returns the manifest as it appears in the output
// directory: script references point at the bundled .js files.
func (in *Input) OutputManifest() ([]byte, error) {
	data, err := in.Manifest.Marshal()
	if err != nil {
		return nil, err
	}
	out, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}

	if bg := out.Background; bg != nil {
		bg.Scripts = outputNames(bg.Scripts)
	}
	for i := range out.ContentScripts {
		out.ContentScripts[i].JS = outputNames(out.ContentScripts[i].JS)
	}
	return out.Marshal()
}

// OutputName maps a source script path to its bundled path.
func OutputName(p string) string {
	p = path.Clean(p)
	ext := path.Ext(p)
	if scriptExts[ext] {
		return strings.TrimSuffix(p, ext) + ".js"
	}
	return p
}

func outputNames(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = OutputName(p)
	}
	return out
}
