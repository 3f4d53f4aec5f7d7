// Package reloader holds what the simple and push reloaders share: the
// manifest patch step, the load banner and the watch-mode signal.
package reloader

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goatkit/extreload/pkg/bundle"
	"github.com/goatkit/extreload/pkg/manifest"
)

// ManifestFileName is the bundle key of the extension manifest.
const ManifestFileName = "manifest.json"

// WatchEnv is the environment variable the bundler sets in watch mode.
const WatchEnv = "ROLLUP_WATCH"

// ErrNoManifest is reported when the output bundle has no manifest.
var ErrNoManifest = errors.New("No manifest.json in the rollup output bundle.")

var watchFromEnv = sync.OnceValue(func() bool {
	return os.Getenv(WatchEnv) != ""
})

// WatchFromEnv reports whether the build runs in watch mode.
// The environment is read once per process.
func WatchFromEnv() bool {
	return watchFromEnv()
}

// Banner returns the human-readable load banner for a development build.
// kind names the reloader flavour, e.g. "simple" or "non-persistent".
func Banner(kind string, now time.Time) string {
	return fmt.Sprintf("DEVELOPMENT build with %s auto-reloader.\nLoaded on %s.",
		kind, now.Format("15:04:05 GMT-0700 (MST)"))
}

// RequireManifest reports ErrNoManifest through pctx when the bundle has no
// manifest. Hooks call it before emitting anything so a failed build leaves
// the bundle untouched.
func RequireManifest(pctx bundle.PluginContext, b bundle.Bundle) error {
	if _, ok := b[ManifestFileName]; !ok {
		return pctx.Error(ErrNoManifest)
	}
	return nil
}

// UpdateManifest parses the bundle manifest, applies fn and writes the
// result back into the same bundle entry. Errors returned by fn are passed
// through unchanged.
func UpdateManifest(pctx bundle.PluginContext, b bundle.Bundle, fn func(*manifest.Manifest) (*manifest.Manifest, error)) error {
	asset, ok := b[ManifestFileName]
	if !ok {
		return pctx.Error(ErrNoManifest)
	}

	m, err := manifest.Parse(asset.Source)
	if err != nil {
		return pctx.Error(err)
	}

	m, err = fn(m)
	if err != nil {
		return err
	}

	data, err := m.Marshal()
	if err != nil {
		return pctx.Error(fmt.Errorf("serialize manifest: %w", err))
	}
	asset.Source = data
	return nil
}
