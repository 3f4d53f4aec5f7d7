package plugin_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/extreload/internal/plugin"
	"github.com/goatkit/extreload/pkg/bundle"
	"github.com/goatkit/extreload/pkg/bundle/bundletest"
)

// recorder appends its name to a shared trace from each hook.
type recorder struct {
	name     string
	trace    *[]string
	genErr   error
	writeErr error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) GenerateBundle(_ context.Context, pctx bundle.PluginContext, _ bundle.OutputOptions, _ bundle.Bundle) error {
	*r.trace = append(*r.trace, "generate:"+r.name)
	if r.genErr != nil {
		return pctx.Error(r.genErr)
	}
	return nil
}

func (r *recorder) WriteBundle(_ context.Context, _ bundle.PluginContext, opts bundle.OutputOptions, _ bundle.Bundle) error {
	if _, err := os.Stat(filepath.Join(opts.Dir, "manifest.json")); err != nil {
		return err
	}
	*r.trace = append(*r.trace, "write:"+r.name)
	return r.writeErr
}

// generateOnly has no writeBundle hook.
type generateOnly struct{ trace *[]string }

func (generateOnly) Name() string { return "generate-only" }

func (g generateOnly) GenerateBundle(_ context.Context, pctx bundle.PluginContext, _ bundle.OutputOptions, _ bundle.Bundle) error {
	pctx.EmitFile(bundle.EmittedFile{Type: bundle.TypeAsset, FileName: "extra.txt", Source: []byte("extra")})
	*g.trace = append(*g.trace, "generate:generate-only")
	return nil
}

func TestManagerRegistration(t *testing.T) {
	mgr := plugin.NewManager()
	var trace []string

	require.NoError(t, mgr.Register(&recorder{name: "a", trace: &trace}))
	require.NoError(t, mgr.Register(&recorder{name: "b", trace: &trace}))

	err := mgr.Register(&recorder{name: "a", trace: &trace})
	assert.ErrorContains(t, err, `plugin "a" already registered`)
	assert.Error(t, mgr.Register(nil))

	assert.Equal(t, []string{"a", "b"}, mgr.List())
}

func TestManagerBuild(t *testing.T) {
	ctx := context.Background()
	var trace []string
	mgr := plugin.NewManager()
	require.NoError(t, mgr.Register(&recorder{name: "a", trace: &trace}))
	require.NoError(t, mgr.Register(generateOnly{trace: &trace}))
	require.NoError(t, mgr.Register(&recorder{name: "b", trace: &trace}))

	dir := t.TempDir()
	b := bundletest.BasicBundle()

	require.NoError(t, mgr.Build(ctx, bundle.OutputOptions{Dir: dir}, b))

	assert.Equal(t, []string{
		"generate:a", "generate:generate-only", "generate:b",
		"write:a", "write:b",
	}, trace)

	data, err := os.ReadFile(filepath.Join(dir, "extra.txt"))
	require.NoError(t, err)
	assert.Equal(t, "extra", string(data))
	assert.FileExists(t, filepath.Join(dir, "assets", "content-8d3a1f.js"))
}

func TestManagerFirstErrorAborts(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("generateBundle", func(t *testing.T) {
		var trace []string
		mgr := plugin.NewManager()
		require.NoError(t, mgr.Register(&recorder{name: "a", trace: &trace, genErr: errBoom}))
		require.NoError(t, mgr.Register(&recorder{name: "b", trace: &trace}))
		dir := t.TempDir()

		err := mgr.Build(context.Background(), bundle.OutputOptions{Dir: dir}, bundletest.BasicBundle())

		require.ErrorIs(t, err, errBoom)
		assert.ErrorContains(t, err, `plugin "a" generateBundle`)
		assert.Equal(t, []string{"generate:a"}, trace)
		assert.NoFileExists(t, filepath.Join(dir, "manifest.json"))

		logs := mgr.Logs().GetAll()
		require.Len(t, logs, 1)
		assert.Equal(t, "a", logs[0].Plugin)
		assert.Equal(t, plugin.LevelError, logs[0].Level)
		assert.Equal(t, "boom", logs[0].Message)
	})

	t.Run("writeBundle", func(t *testing.T) {
		var trace []string
		mgr := plugin.NewManager()
		require.NoError(t, mgr.Register(&recorder{name: "a", trace: &trace, writeErr: errBoom}))
		require.NoError(t, mgr.Register(&recorder{name: "b", trace: &trace}))

		err := mgr.Build(context.Background(), bundle.OutputOptions{Dir: t.TempDir()}, bundletest.BasicBundle())

		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, []string{"generate:a", "generate:b", "write:a"}, trace)
	})
}

func TestManagerWriteBundleNeedsDir(t *testing.T) {
	err := plugin.NewManager().WriteBundle(context.Background(), bundle.OutputOptions{}, bundletest.BasicBundle())
	assert.ErrorContains(t, err, "no output directory")
}
