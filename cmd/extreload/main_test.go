package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/extreload/internal/config"
	"github.com/goatkit/extreload/internal/packaging"
	"github.com/goatkit/extreload/internal/plugin"
	"github.com/goatkit/extreload/internal/reloader/push/firebase"
	"github.com/goatkit/extreload/pkg/manifest"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "extreload version dev\n", out)
}

func TestInitBuildPackage(t *testing.T) {
	t.Chdir(t.TempDir())

	out, _, err := run(t, "init", "My Extension")
	require.NoError(t, err)
	assert.Contains(t, out, "Created "+config.FileName)
	assert.FileExists(t, config.FileName)
	assert.FileExists(t, filepath.Join("src", "manifest.json"))

	_, _, err = run(t, "init")
	assert.ErrorContains(t, err, "already exists")

	out, _, err = run(t, "build")
	require.NoError(t, err)
	assert.Contains(t, out, "Built src into dist")

	data, err := os.ReadFile(filepath.Join("dist", "manifest.json"))
	require.NoError(t, err)
	m, err := manifest.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "my-extension", m.Name)
	assert.Equal(t, []string{"background.js"}, m.Background.Scripts)
	assert.Equal(t, []string{"content.js"}, m.ContentScripts[0].JS)
	assert.NotContains(t, m.Description, "DEVELOPMENT")
	assert.FileExists(t, filepath.Join("dist", "background.js"))
	assert.FileExists(t, filepath.Join("dist", "content.css"))

	out, _, err = run(t, "package", "--output", "my-extension.zip")
	require.NoError(t, err)
	assert.Contains(t, out, "Packaged my-extension 0.1.0")
	assert.FileExists(t, "my-extension.zip")
}

func TestPackageSigned(t *testing.T) {
	t.Chdir(t.TempDir())
	_, _, err := run(t, "init")
	require.NoError(t, err)
	_, _, err = run(t, "build")
	require.NoError(t, err)

	out, _, err := run(t, "keygen", "signing.key")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote signing.key")

	_, _, err = run(t, "keygen", "signing.key")
	assert.ErrorContains(t, err, "already exists")

	out, _, err = run(t, "package", "--sign-key", "signing.key")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed extension.zip.sig")

	pub, err := packaging.LoadPublicKey("signing.key.pub")
	require.NoError(t, err)
	assert.NoError(t, packaging.Verify("extension.zip", "extension.zip.sig", pub))
}

func TestBuildPushWithoutAPIKey(t *testing.T) {
	t.Chdir(t.TempDir())
	_, _, err := run(t, "init")
	require.NoError(t, err)

	_, _, err = run(t, "build", "--watch", "--reloader", "push")
	assert.ErrorIs(t, err, firebase.ErrNoAPIKey)
}

func TestBuildRejectsUnknownReloader(t *testing.T) {
	t.Chdir(t.TempDir())
	_, _, err := run(t, "build", "--reloader", "hot")
	assert.ErrorContains(t, err, `unknown kind "hot"`)
}

func TestBuildMissingSource(t *testing.T) {
	t.Chdir(t.TempDir())
	_, _, err := run(t, "build", "--source", "nowhere")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrintReports(t *testing.T) {
	var stderr bytes.Buffer
	a := &app{stderr: &stderr}
	mgr := plugin.NewManager()

	a.printReports(mgr)
	assert.Empty(t, stderr.String())

	mgr.Logs().Log("reloader", plugin.LevelWarn, "slow")
	mgr.Logs().Log("reloader", plugin.LevelError, "boom")
	a.printReports(mgr)
	assert.Equal(t, "Plugin reports (2, newest first):\n[error] reloader: boom\n[warn] reloader: slow\n", stderr.String())
}
