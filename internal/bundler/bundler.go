// Package bundler drives the extension build on esbuild. esbuild compiles
// the script entry points in memory; the end-of-build callback turns its
// output into a bundle.Bundle, adds the manifest and static files and hands
// the bundle to the plugin manager, which runs the reloader hooks and
// writes the result.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/goatkit/extreload/internal/extension"
	"github.com/goatkit/extreload/internal/plugin"
	"github.com/goatkit/extreload/pkg/bundle"
)

// PluginName is the name of the esbuild plugin reported in build messages.
const PluginName = "extreload"

// ErrBuildFailed is returned when esbuild or a bundle plugin reports errors.
var ErrBuildFailed = errors.New("build failed")

// Config configures a Builder.
type Config struct {
	SourceDir string
	OutDir    string
	Format    string // "iife" (default) or "esm"
	Minify    bool
	Sourcemap bool
}

// Builder builds one extension.
type Builder struct {
	cfg     Config
	manager *plugin.Manager
	logger  *slog.Logger

	mu       sync.Mutex
	input    *extension.Input
	ctx      context.Context
	buildCtx api.BuildContext
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger injects a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// New loads the extension source and prepares a builder.
func New(cfg Config, manager *plugin.Manager, opts ...Option) (*Builder, error) {
	if cfg.SourceDir == "" || cfg.OutDir == "" {
		return nil, fmt.Errorf("bundler: source and output directories are required")
	}
	src, err := filepath.Abs(cfg.SourceDir)
	if err != nil {
		return nil, err
	}
	out, err := filepath.Abs(cfg.OutDir)
	if err != nil {
		return nil, err
	}
	cfg.SourceDir, cfg.OutDir = src, out

	in, err := extension.Load(cfg.SourceDir)
	if err != nil {
		return nil, err
	}

	b := &Builder{
		cfg:     cfg,
		manager: manager,
		logger:  slog.Default(),
		input:   in,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// BuildOptions derives the esbuild options for in. Output stays in memory.
func BuildOptions(in *extension.Input, cfg Config, plugins ...api.Plugin) api.BuildOptions {
	entries := in.EntryPoints()
	abs := make([]string, len(entries))
	for i, e := range entries {
		abs[i] = filepath.Join(in.Dir, filepath.FromSlash(e))
	}

	format := api.FormatIIFE
	if cfg.Format == "esm" {
		format = api.FormatESModule
	}
	sourcemap := api.SourceMapNone
	if cfg.Sourcemap {
		sourcemap = api.SourceMapLinked
	}

	return api.BuildOptions{
		EntryPoints:       abs,
		Outdir:            cfg.OutDir,
		Outbase:           in.Dir,
		Bundle:            true,
		Write:             false,
		Format:            format,
		Sourcemap:         sourcemap,
		MinifyWhitespace:  cfg.Minify,
		MinifyIdentifiers: cfg.Minify,
		MinifySyntax:      cfg.Minify,
		LogLevel:          api.LogLevelSilent,
		Plugins:           plugins,
	}
}

// Plugin returns the esbuild plugin running the bundle plugins at the end
// of every build.
func (b *Builder) Plugin() api.Plugin {
	return api.Plugin{
		Name: PluginName,
		Setup: func(build api.PluginBuild) {
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				if len(result.Errors) > 0 {
					b.logErrors(result.Errors)
					return api.OnEndResult{}, nil
				}
				if err := b.finish(result.OutputFiles); err != nil {
					b.logger.Error("bundle plugins failed", "error", err)
					return api.OnEndResult{Errors: []api.Message{{Text: err.Error(), PluginName: PluginName}}}, nil
				}
				b.logger.Info("build complete", "out", b.cfg.OutDir, "files", len(result.OutputFiles))
				return api.OnEndResult{}, nil
			})
		},
	}
}

// Build runs one build.
func (b *Builder) Build(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	opts := BuildOptions(b.input, b.cfg, b.Plugin())
	b.mu.Unlock()

	result := api.Build(opts)
	return resultError(result)
}

// Watch builds, then rebuilds on every source change esbuild sees, until
// ctx is done.
func (b *Builder) Watch(ctx context.Context) error {
	if err := b.start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	b.dispose()
	return nil
}

// start creates the esbuild context and starts watching. The lock is not
// held while esbuild runs since the end-of-build callback takes it.
func (b *Builder) start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	opts := BuildOptions(b.input, b.cfg, b.Plugin())
	b.mu.Unlock()

	buildCtx, cerr := api.Context(opts)
	if cerr != nil {
		return fmt.Errorf("bundler: %w", errors.Join(messageErrors(cerr.Errors)...))
	}
	if err := buildCtx.Watch(api.WatchOptions{}); err != nil {
		buildCtx.Dispose()
		return fmt.Errorf("bundler: watch: %w", err)
	}

	b.mu.Lock()
	b.buildCtx = buildCtx
	b.mu.Unlock()
	return nil
}

func (b *Builder) dispose() {
	b.mu.Lock()
	buildCtx := b.buildCtx
	b.buildCtx = nil
	b.mu.Unlock()

	if buildCtx != nil {
		buildCtx.Dispose()
	}
}

// Reload re-reads the extension source and rebuilds. A new esbuild
// context is created when the entry points changed.
func (b *Builder) Reload() error {
	in, err := extension.Load(b.cfg.SourceDir)
	if err != nil {
		return err
	}

	b.mu.Lock()
	prev := b.input
	b.input = in
	buildCtx := b.buildCtx
	ctx := b.ctx
	b.mu.Unlock()

	if buildCtx == nil {
		return b.Build(ctx)
	}
	if !slices.Equal(prev.EntryPoints(), in.EntryPoints()) {
		b.logger.Info("entry points changed, restarting watcher")
		b.dispose()
		return b.start(ctx)
	}
	return resultError(buildCtx.Rebuild())
}

// finish converts esbuild output to a bundle and runs the plugin hooks.
func (b *Builder) finish(files []api.OutputFile) error {
	b.mu.Lock()
	in := b.input
	ctx := b.ctx
	b.mu.Unlock()

	out, err := b.toBundle(in, files)
	if err != nil {
		return err
	}
	return b.manager.Build(ctx, bundle.OutputOptions{Dir: b.cfg.OutDir, Format: b.format()}, out)
}

func (b *Builder) toBundle(in *extension.Input, files []api.OutputFile) (bundle.Bundle, error) {
	out := make(bundle.Bundle, len(files)+2)
	for _, f := range files {
		rel, err := filepath.Rel(b.cfg.OutDir, f.Path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("output file %s outside %s", f.Path, b.cfg.OutDir)
		}
		name := filepath.ToSlash(rel)
		typ := bundle.TypeAsset
		if strings.HasSuffix(name, ".js") {
			typ = bundle.TypeChunk
		}
		out[name] = &bundle.OutputFile{FileName: name, Type: typ, Source: f.Contents, IsAsset: typ == bundle.TypeAsset}
	}

	static, err := in.ReadStatic()
	if err != nil {
		return nil, err
	}
	for name, data := range static {
		out[name] = &bundle.OutputFile{FileName: name, Type: bundle.TypeAsset, Source: data, IsAsset: true}
	}

	data, err := in.OutputManifest()
	if err != nil {
		return nil, err
	}
	out[extension.ManifestFile] = &bundle.OutputFile{
		FileName: extension.ManifestFile,
		Type:     bundle.TypeAsset,
		Source:   data,
		IsAsset:  true,
	}
	return out, nil
}

func (b *Builder) format() string {
	if b.cfg.Format == "esm" {
		return "esm"
	}
	return "iife"
}

func (b *Builder) logErrors(msgs []api.Message) {
	for _, msg := range msgs {
		attrs := []any{"error", msg.Text}
		if msg.Location != nil {
			attrs = append(attrs, "file", msg.Location.File, "line", msg.Location.Line)
		}
		b.logger.Error("compile error", attrs...)
	}
}

func resultError(result api.BuildResult) error {
	if len(result.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrBuildFailed, errors.Join(messageErrors(result.Errors)...))
}

func messageErrors(msgs []api.Message) []error {
	errs := make([]error, 0, len(msgs))
	for _, msg := range msgs {
		text := msg.Text
		if msg.Location != nil {
			text = fmt.Sprintf("%s:%d: %s", msg.Location.File, msg.Location.Line, text)
		}
		errs = append(errs, errors.New(text))
	}
	return errs
}
