// Package simple implements the local auto-reloader: a timestamp asset the
// background client polls, plus background and content clients that are
// loaded ahead of the extension's own scripts.
package simple

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"k8s.io/utils/clock"

	"github.com/goatkit/extreload/internal/reloader"
	"github.com/goatkit/extreload/internal/reloader/client"
	"github.com/goatkit/extreload/pkg/bundle"
	"github.com/goatkit/extreload/pkg/manifest"
)

// Name is the plugin name reported to the host.
const Name = "chrome-extension-simple-reloader"

// Emitted asset names.
const (
	TimestampPath    = "assets/timestamp.js"
	BackgroundClient = "bg-reloader-client.js"
	ContentClient    = "ct-reloader-client.js"
)

var (
	ErrBackgroundNotEmitted = errors.New("Background page reloader script was not emitted")
	ErrContentNotEmitted    = errors.New("Content page reloader script was not emitted")
)

// Cache holds the output paths of the last emitted clients.
// Both paths are set again on every build.
type Cache struct {
	BackgroundScriptPath string
	ContentScriptPath    string
}

// Plugin is the simple reloader bundle plugin.
type Plugin struct {
	cache  *Cache
	clock  clock.PassiveClock
	logger *slog.Logger
}

type options struct {
	cache  *Cache
	watch  bool
	clock  clock.PassiveClock
	logger *slog.Logger
}

// Option configures the simple reloader.
type Option func(*options)

// WithCache shares a cache record with the caller.
func WithCache(c *Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithWatch overrides the watch-mode signal read from the environment.
func WithWatch(watch bool) Option {
	return func(o *options) {
		o.watch = watch
	}
}

// WithClock sets the clock used for the banner and the timestamp asset.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger injects a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New returns the simple reloader, or nil when the build is not in watch mode.
func New(opts ...Option) *Plugin {
	o := options{
		watch:  reloader.WatchFromEnv(),
		clock:  clock.RealClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.watch {
		return nil
	}
	if o.cache == nil {
		o.cache = &Cache{}
	}
	return &Plugin{cache: o.cache, clock: o.clock, logger: o.logger}
}

// Name implements bundle.Plugin.
func (p *Plugin) Name() string { return Name }

// Cache returns the cache record of this plugin.
func (p *Plugin) Cache() *Cache { return p.cache }

// GenerateBundle emits the reload clients and patches the manifest.
func (p *Plugin) GenerateBundle(_ context.Context, pctx bundle.PluginContext, _ bundle.OutputOptions, b bundle.Bundle) error {
	if err := reloader.RequireManifest(pctx, b); err != nil {
		return err
	}

	now := p.clock.Now()
	banner := reloader.Banner("simple", now)

	pctx.EmitFile(bundle.EmittedFile{
		Type:     bundle.TypeAsset,
		FileName: TimestampPath,
		Source:   []byte(fmt.Sprintf("export default %d", now.UnixMilli())),
	})

	bgSource, err := client.Render(client.SimpleBackground, map[string]string{
		client.TimestampPath: TimestampPath,
		client.LoadMessage:   banner,
	})
	if err != nil {
		return pctx.Error(err)
	}
	p.cache.BackgroundScriptPath = emit(pctx, BackgroundClient, bgSource)

	ctSource, err := client.Render(client.Content, map[string]string{
		client.LoadMessage: banner,
	})
	if err != nil {
		return pctx.Error(err)
	}
	p.cache.ContentScriptPath = emit(pctx, ContentClient, ctSource)

	p.logger.Debug("simple reloader emitted clients",
		"background", p.cache.BackgroundScriptPath,
		"content", p.cache.ContentScriptPath)

	return reloader.UpdateManifest(pctx, b, func(m *manifest.Manifest) (*manifest.Manifest, error) {
		m.Description = banner

		bg := m.EnsureBackground()
		persistent := true
		bg.Persistent = &persistent

		if p.cache.BackgroundScriptPath == "" {
			return nil, pctx.Error(ErrBackgroundNotEmitted)
		}
		bg.Scripts = manifest.Prepend(p.cache.BackgroundScriptPath, bg.Scripts)

		if p.cache.ContentScriptPath == "" {
			return nil, pctx.Error(ErrContentNotEmitted)
		}
		for i := range m.ContentScripts {
			m.ContentScripts[i].JS = manifest.Prepend(p.cache.ContentScriptPath, m.ContentScripts[i].JS)
		}
		return m, nil
	})
}

func emit(pctx bundle.PluginContext, name, source string) string {
	ref := pctx.EmitFile(bundle.EmittedFile{
		Type:   bundle.TypeAsset,
		Name:   name,
		Source: []byte(source),
	})
	return pctx.GetFileName(ref)
}
