// Package push implements the push-notification reloader. The first build of
// a watch session signs in to the remote reload service and starts a
// periodic update call; every build emits the service worker and client
// scripts and wires them into the manifest; every written bundle asks the
// service to push a reload to the running extension.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/goatkit/extreload/internal/reloader"
	"github.com/goatkit/extreload/internal/reloader/client"
	"github.com/goatkit/extreload/internal/reloader/push/firebase"
	"github.com/goatkit/extreload/pkg/bundle"
	"github.com/goatkit/extreload/pkg/manifest"
)

// Name is the plugin name reported to the host.
const Name = "chrome-extension-push-reloader"

// Emitted asset names.
const (
	WorkerScript     = "reloader-sw.js"
	BackgroundClient = "bg-reloader-client.js"
	WrapperScript    = "bg-reloader-wrapper.js"
	ContentClient    = "ct-reloader-client.js"
)

// NotificationsPermission lets the background page show push notifications.
const NotificationsPermission = "notifications"

// DefaultInterval is the period of the remote update call.
const DefaultInterval = 5 * time.Minute

// ErrNoUID is reported when a remote call needs the session identity but
// the cache holds none.
var ErrNoUID = errors.New("Not signed into Firebase: no UID in cache")

// Functions are the remote calls of the reload service.
type Functions interface {
	Login(ctx context.Context) (string, error)
	Update(ctx context.Context, uid string) error
	Reload(ctx context.Context, uid string) error
}

// Plugin is the push reloader bundle plugin.
type Plugin struct {
	cache       *Cache
	fns         Functions
	clock       clock.WithTicker
	interval    time.Duration
	registerURL string
	logger      *slog.Logger
	metrics     *pushMetrics
}

type options struct {
	cache       *Cache
	watch       bool
	fns         Functions
	clock       clock.WithTicker
	interval    time.Duration
	registerURL string
	logger      *slog.Logger
}

// Option configures the push reloader.
type Option func(*options)

// WithCache shares a cache record with the caller, who owns its Stop.
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

// WithFunctions replaces the remote reload service client.
func WithFunctions(fns Functions) Option {
	return func(o *options) {
		o.fns = fns
	}
}

// WithClock sets the clock driving the update interval and the banner.
func WithClock(c clock.WithTicker) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithInterval sets the period of the remote update call.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithRegisterURL sets the endpoint the background client registers its
// push subscription with. The URL is also added to the manifest permissions.
func WithRegisterURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.registerURL = url
		}
	}
}

// WithLogger injects a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New returns the push reloader, or nil when the build is not in watch mode.
func New(opts ...Option) *Plugin {
	o := options{
		watch:       reloader.WatchFromEnv(),
		clock:       clock.RealClock{},
		interval:    DefaultInterval,
		registerURL: firebase.DefaultFunctionsURL + "/registerToken",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.watch {
		return nil
	}
	if o.cache == nil {
		o.cache = NewCache()
	}
	if o.fns == nil {
		o.fns = firebase.New(firebase.DefaultConfig())
	}
	return &Plugin{
		cache:       o.cache,
		fns:         o.fns,
		clock:       o.clock,
		interval:    o.interval,
		registerURL: o.registerURL,
		logger:      o.logger,
		metrics:     globalPushMetrics(),
	}
}

// Name implements bundle.Plugin.
func (p *Plugin) Name() string { return Name }

// Cache returns the session cache of this plugin.
func (p *Plugin) Cache() *Cache { return p.cache }

// GenerateBundle signs in on the first build, emits the push clients and
// patches the manifest.
func (p *Plugin) GenerateBundle(ctx context.Context, pctx bundle.PluginContext, _ bundle.OutputOptions, b bundle.Bundle) error {
	defer p.metrics.timeHook()()

	if err := reloader.RequireManifest(pctx, b); err != nil {
		return err
	}

	if p.cache.FirstRun() {
		if err := p.start(ctx); err != nil {
			return err
		}
	}

	uid, ok := p.cache.user()
	if !ok {
		return pctx.Error(ErrNoUID)
	}

	banner := reloader.Banner("non-persistent", p.clock.Now())

	swPath, err := emit(pctx, WorkerScript, client.PushWorker, map[string]string{
		client.LoadMessage: banner,
	})
	if err != nil {
		return err
	}
	bgPath, err := emit(pctx, BackgroundClient, client.PushBackground, map[string]string{
		client.LoadMessage: banner,
		client.WorkerPath:  swPath,
		client.UserID:      uid,
		client.RegisterURL: p.registerURL,
	})
	if err != nil {
		return err
	}
	wrapperPath, err := emit(pctx, WrapperScript, client.PushWrapper, map[string]string{
		client.BgClientPath: bgPath,
	})
	if err != nil {
		return err
	}
	ctPath, err := emit(pctx, ContentClient, client.Content, map[string]string{
		client.LoadMessage: banner,
	})
	if err != nil {
		return err
	}

	err = reloader.UpdateManifest(pctx, b, func(m *manifest.Manifest) (*manifest.Manifest, error) {
		m.Description = banner
		m.AddPermissions(NotificationsPermission, p.registerURL)

		bg := m.EnsureBackground()
		bg.Scripts = manifest.Prepend(wrapperPath, bg.Scripts)

		for i := range m.ContentScripts {
			m.ContentScripts[i].JS = manifest.Prepend(ctPath, m.ContentScripts[i].JS)
		}
		return m, nil
	})
	if err != nil {
		return err
	}

	p.metrics.recordPatched()
	return nil
}

// WriteBundle asks the reload service to push a reload to the extension.
func (p *Plugin) WriteBundle(ctx context.Context, pctx bundle.PluginContext, _ bundle.OutputOptions, _ bundle.Bundle) error {
	uid, ok := p.cache.user()
	if !ok {
		return pctx.Error(ErrNoUID)
	}

	err := p.fns.Reload(ctx, uid)
	p.metrics.recordReload(err)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	p.logger.Info("reload pushed", "uid", uid)
	return nil
}

// start signs in unless an earlier build already did, then sends the first
// update and starts the interval.
func (p *Plugin) start(ctx context.Context) error {
	uid, ok := p.cache.user()
	if !ok {
		var err error
		if uid, err = p.signIn(ctx); err != nil {
			return err
		}
	}

	err := p.fns.Update(ctx, uid)
	p.metrics.recordUpdate("build", err)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	if p.cache.startInterval(p.clock, p.interval, p.tick) {
		p.logger.Info("update interval started", "every", p.interval)
	}
	p.cache.markStarted()
	return nil
}

func (p *Plugin) signIn(ctx context.Context) (string, error) {
	uid, err := p.fns.Login(ctx)
	p.metrics.recordLogin(err)
	if err != nil {
		return "", fmt.Errorf("sign in: %w", err)
	}
	p.cache.setUser(uid)
	p.logger.Info("signed in to reload service", "uid", uid)
	return uid, nil
}

func (p *Plugin) tick(ctx context.Context) {
	uid, ok := p.cache.user()
	if !ok {
		p.logger.Warn("update skipped", "error", ErrNoUID)
		return
	}

	err := p.fns.Update(ctx, uid)
	p.metrics.recordUpdate("interval", err)
	if err != nil {
		p.logger.Error("interval update failed", "uid", uid, "error", err)
		return
	}
	p.logger.Debug("interval update sent", "uid", uid)
}

func emit(pctx bundle.PluginContext, name, template string, vars map[string]string) (string, error) {
	source, err := client.Render(template, vars)
	if err != nil {
		return "", pctx.Error(err)
	}
	ref := pctx.EmitFile(bundle.EmittedFile{
		Type:   bundle.TypeAsset,
		Name:   name,
		Source: []byte(source),
	})
	return pctx.GetFileName(ref), nil
}
