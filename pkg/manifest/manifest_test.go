package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "manifest_version": 2,
  "name": "sample",
  "version": "1.0.0",
  "description": "sample extension",
  "icons": {"16": "icon16.png"},
  "permissions": ["storage"],
  "background": {"scripts": ["background.js"], "persistent": false, "type": "module"},
  "content_scripts": [
    {"js": ["content.js"], "matches": ["https://www.google.com/*"], "run_at": "document_idle"},
    {"js": ["content.js"], "css": ["content.css"], "matches": ["https://www.yahoo.com/*"]}
  ],
  "content_security_policy": "script-src 'self'; object-src 'self'"
}`

func TestParseTypedFields(t *testing.T) {
	m, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 2, m.ManifestVersion)
	assert.Equal(t, "sample", m.Name)
	assert.Equal(t, []string{"storage"}, m.Permissions)
	require.NotNil(t, m.Background)
	assert.Equal(t, []string{"background.js"}, m.Background.Scripts)
	require.NotNil(t, m.Background.Persistent)
	assert.False(t, *m.Background.Persistent)
	require.Len(t, m.ContentScripts, 2)
	assert.Equal(t, []string{"content.css"}, m.ContentScripts[1].CSS)
}

func TestRoundTripKeepsUnknownFields(t *testing.T) {
	m, err := Parse([]byte(sample))
	require.NoError(t, err)

	m.Description = "changed"
	m.Background.Scripts = Prepend("reloader.js", m.Background.Scripts)

	data, err := m.Marshal()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "changed", doc["description"])
	assert.Equal(t, map[string]any{"16": "icon16.png"}, doc["icons"])

	bg := doc["background"].(map[string]any)
	assert.Equal(t, []any{"reloader.js", "background.js"}, bg["scripts"])
	assert.Equal(t, "module", bg["type"])
	assert.Equal(t, false, bg["persistent"])

	cs := doc["content_scripts"].([]any)
	assert.Equal(t, "document_idle", cs[0].(map[string]any)["run_at"])
	assert.Equal(t, "script-src 'self'; object-src 'self'", doc["content_security_policy"])
}

func TestAddPermissions(t *testing.T) {
	m := &Manifest{Permissions: []string{"storage", "notifications"}}
	m.AddPermissions("notifications", "tabs", "tabs")

	assert.Equal(t, []string{"storage", "notifications", "tabs"}, m.Permissions)

	empty := &Manifest{}
	empty.AddPermissions("notifications")
	assert.Equal(t, []string{"notifications"}, empty.Permissions)
}

func TestEnsureBackground(t *testing.T) {
	m := &Manifest{}
	bg := m.EnsureBackground()
	require.NotNil(t, bg)
	assert.Same(t, bg, m.EnsureBackground())
}

func TestPrependDoesNotAlias(t *testing.T) {
	tail := make([]string, 1, 4)
	tail[0] = "a.js"

	out := Prepend("r.js", tail)
	assert.Equal(t, []string{"r.js", "a.js"}, out)
	assert.Equal(t, []string{"a.js"}, tail)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"valid", sample, false},
		{"missing name", `{"manifest_version": 2, "version": "1.0"}`, true},
		{"bad version", `{"manifest_version": 2, "name": "x", "version": "one"}`, true},
		{"content script without matches", `{"manifest_version": 2, "name": "x", "version": "1", "content_scripts": [{"js": ["a.js"]}]}`, true},
		{"duplicate permissions", `{"manifest_version": 2, "name": "x", "version": "1", "permissions": ["a", "a"]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]byte(tt.doc))
			if tt.wantErr {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseObjectPolicy(t *testing.T) {
	src := `{"manifest_version": 3, "name": "x", "version": "1",
		"content_security_policy": {"extension_pages": "script-src 'self'"}}`

	m, err := Parse([]byte(src))
	require.NoError(t, err)
	assert.JSONEq(t, `{"extension_pages": "script-src 'self'"}`, string(m.Field("content_security_policy")))

	out, err := m.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, src, string(out))
}
