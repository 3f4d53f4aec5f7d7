// Package bundle defines the output-bundle contract shared by the reloader
// plugins and the hosts that drive them.
//
// A host (the esbuild adapter in internal/bundler, or any other bundler
// integration) builds a Bundle, hands each plugin a PluginContext and calls
// the hooks the plugin implements. Plugins never reach into host state:
// everything they may do to the build goes through the context.
package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileType distinguishes emitted assets from code chunks.
type FileType string

const (
	TypeAsset FileType = "asset"
	TypeChunk FileType = "chunk"
)

// OutputFile is one entry of the output bundle.
// Plugins may replace Source in place; the entry keeps its slot in the bundle.
type OutputFile struct {
	FileName string   `json:"fileName"`
	Type     FileType `json:"type"`
	Source   []byte   `json:"source"`
	IsAsset  bool     `json:"isAsset,omitempty"`
}

// Bundle is the mutable output of one build, keyed by file name.
type Bundle map[string]*OutputFile

// FileNames returns the bundle keys in sorted order.
func (b Bundle) FileNames() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the bundle.
func (b Bundle) Clone() Bundle {
	out := make(Bundle, len(b))
	for name, f := range b {
		cp := *f
		cp.Source = append([]byte(nil), f.Source...)
		out[name] = &cp
	}
	return out
}

// EmittedFile describes a file a plugin asks the host to add to the bundle.
type EmittedFile struct {
	Type     FileType // only TypeAsset is supported by the reloaders
	Name     string   // logical name; the host derives the final path from it
	FileName string   // fixed output path; overrides Name when set
	Source   []byte
}

// OutputOptions carries the output settings of the current build.
type OutputOptions struct {
	Dir    string // output directory on disk
	Format string // "esm", "iife", ...
}

// PluginContext is the host surface handed to a hook for one invocation.
type PluginContext interface {
	// EmitFile adds a file to the bundle and returns its reference id.
	EmitFile(file EmittedFile) string

	// GetFileName resolves a reference id to the final output path.
	// Unknown references resolve to "".
	GetFileName(ref string) string

	// Error reports a fatal error for the current build and returns the
	// error the hook should return.
	Error(err error) error

	// Warn reports a non-fatal problem.
	Warn(message string)
}

// Plugin is implemented by every bundle plugin.
// Hooks are discovered through the optional interfaces below.
type Plugin interface {
	Name() string
}

// GenerateBundleHook runs after the bundle is produced and before it is written.
type GenerateBundleHook interface {
	GenerateBundle(ctx context.Context, pctx PluginContext, opts OutputOptions, b Bundle) error
}

// WriteBundleHook runs after the bundle has been written to disk.
type WriteBundleHook interface {
	WriteBundle(ctx context.Context, pctx PluginContext, opts OutputOptions, b Bundle) error
}

// Write stores every file of the bundle under dir.
func Write(dir string, b Bundle) error {
	for _, name := range b.FileNames() {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(path, b[name].Source, 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
