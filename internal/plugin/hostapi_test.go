package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/extreload/pkg/bundle"
)

func TestContextEmitFile(t *testing.T) {
	b := bundle.Bundle{}
	pctx := NewContext("test", b)

	named := pctx.EmitFile(bundle.EmittedFile{Type: bundle.TypeAsset, Name: "bg-reloader-client.js", Source: []byte("a")})
	fixed := pctx.EmitFile(bundle.EmittedFile{Type: bundle.TypeAsset, FileName: "assets/timestamp.js", Source: []byte("b")})

	assert.NotEqual(t, named, fixed)

	namedPath := pctx.GetFileName(named)
	assert.Equal(t, AssetFileName("bg-reloader-client.js", []byte("a")), namedPath)
	assert.Regexp(t, `^assets/bg-reloader-client-[0-9a-f]{8}\.js$`, namedPath)
	assert.Equal(t, "assets/timestamp.js", pctx.GetFileName(fixed))
	assert.Empty(t, pctx.GetFileName("unknown"))

	require.Contains(t, b, namedPath)
	assert.Equal(t, "a", string(b[namedPath].Source))
	assert.True(t, b[namedPath].IsAsset)
	assert.Equal(t, bundle.TypeAsset, b["assets/timestamp.js"].Type)
}

func TestContextEmitFileReplacesFixedName(t *testing.T) {
	b := bundle.Bundle{}
	pctx := NewContext("test", b)

	pctx.EmitFile(bundle.EmittedFile{FileName: "assets/timestamp.js", Source: []byte("export default 1")})
	pctx.EmitFile(bundle.EmittedFile{FileName: "assets/timestamp.js", Source: []byte("export default 2")})

	assert.Len(t, b, 1)
	assert.Equal(t, "export default 2", string(b["assets/timestamp.js"].Source))
}

func TestAssetFileName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "reloader-sw.js", "assets/reloader-sw-2d711642.js"},
		{"nested", "src/sw/reloader-sw.js", "assets/reloader-sw-2d711642.js"},
		{"windows separators", `src\sw\reloader-sw.js`, "assets/reloader-sw-2d711642.js"},
		{"no extension", "LICENSE", "assets/LICENSE-2d711642"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AssetFileName(tt.input, []byte("x")))
		})
	}

	assert.NotEqual(t, AssetFileName("a.js", []byte("1")), AssetFileName("a.js", []byte("2")))
}

func TestContextReports(t *testing.T) {
	buf := NewLogBuffer(10)
	pctx := NewContext("reporter", bundle.Bundle{}, WithContextLogs(buf))
	errBoom := errors.New("boom")

	assert.Same(t, errBoom, pctx.Error(errBoom))
	assert.NoError(t, pctx.Error(nil))
	pctx.Warn("careful")

	entries := buf.GetAll()
	require.Len(t, entries, 2)
	assert.Equal(t, LogEntry{Timestamp: entries[0].Timestamp, Plugin: "reporter", Level: LevelWarn, Message: "careful"}, entries[0])
	assert.Equal(t, LevelError, entries[1].Level)
	assert.Equal(t, "boom", entries[1].Message)
}
